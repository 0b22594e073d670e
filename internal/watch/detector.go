// Package watch implements field-level change detection between the live court
// record and the persisted snapshot.
package watch

import (
	"context"
	"time"

	"casewatch/internal/court"
	"casewatch/internal/storage"
	"casewatch/pkg/logx"
)

// SnapshotStore is the slice of storage.Store the detector needs.
type SnapshotStore interface {
	GetSnapshot(ctx context.Context, cino string) (storage.Snapshot, bool, error)
	UpsertSnapshot(ctx context.Context, snap storage.Snapshot) error
}

// Result is one detection outcome. Changed preserves TrackedFields order;
// Previous maps changed field names to their stored values ("" for first-seen).
type Result struct {
	Current  court.Fields
	Changed  []string
	Previous map[string]string
}

// HasChanges reports whether any tracked field differs from the snapshot.
func (r Result) HasChanges() bool { return len(r.Changed) > 0 }

// FieldChanged reports whether the named field is in the change set.
func (r Result) FieldChanged(name string) bool {
	for _, f := range r.Changed {
		if f == name {
			return true
		}
	}
	return false
}

type Detector struct {
	fetcher court.Fetcher
	store   SnapshotStore
	log     logx.Logger
}

func NewDetector(fetcher court.Fetcher, store SnapshotStore, log logx.Logger) *Detector {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Detector{fetcher: fetcher, store: store, log: log}
}

// Detect fetches the current record for cino and diffs it against the stored
// snapshot.
//
//   - Comparison is trimmed-string over the fixed TrackedFields list.
//   - With no prior snapshot, every non-empty current field counts as changed.
//   - On every successful fetch the full current map overwrites the snapshot,
//     changed or not, so back-to-back calls with a stable source yield an
//     empty change set on the second call.
//   - A fetch failure leaves the snapshot untouched (no partial writes).
func (d *Detector) Detect(ctx context.Context, cino string) (Result, error) {
	current, err := d.fetcher.Fetch(ctx, cino)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Current:  current,
		Previous: map[string]string{},
	}

	prev, found, err := d.store.GetSnapshot(ctx, cino)
	if err != nil {
		return Result{}, err
	}

	if found {
		for _, f := range court.TrackedFields {
			before := prev.Fields.Get(f)
			after := current.Get(f)
			if before != after {
				res.Changed = append(res.Changed, f)
				res.Previous[f] = before
			}
		}
	} else {
		for _, f := range court.TrackedFields {
			if current.Get(f) != "" {
				res.Changed = append(res.Changed, f)
				res.Previous[f] = ""
			}
		}
	}

	tracked := court.Fields{}
	for _, f := range court.TrackedFields {
		tracked[f] = current.Get(f)
	}
	snap := storage.Snapshot{
		CINO:      cino,
		Fields:    tracked,
		Raw:       current,
		UpdatedAt: time.Now(),
	}
	if err := d.store.UpsertSnapshot(ctx, snap); err != nil {
		return Result{}, err
	}

	d.log.Debug("detect complete",
		logx.String("cino", cino),
		logx.Int("changed", len(res.Changed)),
		logx.Bool("first_seen", !found))
	return res, nil
}
