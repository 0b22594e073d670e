package watch

import (
	"context"
	"errors"
	"testing"

	"casewatch/internal/court"
	"casewatch/internal/storage"
	"casewatch/pkg/logx"
)

type fakeFetcher struct {
	fields court.Fields
	err    error
	calls  int
}

func (f *fakeFetcher) Fetch(ctx context.Context, cino string) (court.Fields, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := court.Fields{}
	for k, v := range f.fields {
		out[k] = v
	}
	return out, nil
}

type fakeStore struct {
	snap    *storage.Snapshot
	getErr  error
	putErr  error
	upserts int
}

func (s *fakeStore) GetSnapshot(ctx context.Context, cino string) (storage.Snapshot, bool, error) {
	if s.getErr != nil {
		return storage.Snapshot{}, false, s.getErr
	}
	if s.snap == nil {
		return storage.Snapshot{}, false, nil
	}
	return *s.snap, true, nil
}

func (s *fakeStore) UpsertSnapshot(ctx context.Context, snap storage.Snapshot) error {
	if s.putErr != nil {
		return s.putErr
	}
	s.upserts++
	s.snap = &snap
	return nil
}

func TestDetectFirstSeen(t *testing.T) {
	t.Parallel()
	fetcher := &fakeFetcher{fields: court.Fields{
		"cino":            "ABHC010012342020",
		"status":          "Pending",
		"nextHearingDate": "01-10-2026",
	}}
	store := &fakeStore{}
	d := NewDetector(fetcher, store, logx.Nop())

	res, err := d.Detect(context.Background(), "ABHC010012342020")
	if err != nil {
		t.Fatalf("Detect error: %v", err)
	}
	if len(res.Changed) != 3 {
		t.Fatalf("Changed = %v, want 3 non-empty fields", res.Changed)
	}
	for _, f := range res.Changed {
		if res.Previous[f] != "" {
			t.Fatalf("Previous[%s] = %q, want empty on first sight", f, res.Previous[f])
		}
	}
	if store.snap == nil {
		t.Fatal("snapshot not persisted")
	}
}

func TestDetectIdempotent(t *testing.T) {
	t.Parallel()
	fetcher := &fakeFetcher{fields: court.Fields{
		"cino":   "X123456",
		"status": "Pending",
	}}
	store := &fakeStore{}
	d := NewDetector(fetcher, store, logx.Nop())

	if _, err := d.Detect(context.Background(), "X123456"); err != nil {
		t.Fatalf("first Detect: %v", err)
	}
	res, err := d.Detect(context.Background(), "X123456")
	if err != nil {
		t.Fatalf("second Detect: %v", err)
	}
	if res.HasChanges() {
		t.Fatalf("second Detect reported changes: %v", res.Changed)
	}
	if store.upserts != 2 {
		t.Fatalf("upserts = %d, want snapshot written on every successful fetch", store.upserts)
	}
}

func TestDetectDiffOrderAndValues(t *testing.T) {
	t.Parallel()
	store := &fakeStore{snap: &storage.Snapshot{
		CINO: "X123456",
		Fields: court.Fields{
			"status":          "Pending",
			"nextHearingDate": "01-10-2026",
			"coram":           "Justice A",
		},
	}}
	fetcher := &fakeFetcher{fields: court.Fields{
		"cino":            "X123456",
		"status":          "Disposed",
		"nextHearingDate": "01-10-2026",
		"coram":           "  Justice A  ", // trimmed compare: not a change
	}}
	d := NewDetector(fetcher, store, logx.Nop())

	res, err := d.Detect(context.Background(), "X123456")
	if err != nil {
		t.Fatalf("Detect error: %v", err)
	}
	// cino was absent from the stored snapshot, so it reports alongside status.
	want := []string{"cino", "status"}
	if len(res.Changed) != len(want) {
		t.Fatalf("Changed = %v, want %v", res.Changed, want)
	}
	for i, f := range want {
		if res.Changed[i] != f {
			t.Fatalf("Changed[%d] = %s, want %s (tracked-field order)", i, res.Changed[i], f)
		}
	}
	if res.Previous["status"] != "Pending" || res.Current.Get("status") != "Disposed" {
		t.Fatalf("status transition = %q -> %q", res.Previous["status"], res.Current.Get("status"))
	}
}

func TestDetectFetchErrorLeavesSnapshot(t *testing.T) {
	t.Parallel()
	store := &fakeStore{snap: &storage.Snapshot{
		CINO:   "X123456",
		Fields: court.Fields{"status": "Pending"},
	}}
	fetcher := &fakeFetcher{err: errors.New("boom")}
	d := NewDetector(fetcher, store, logx.Nop())

	if _, err := d.Detect(context.Background(), "X123456"); err == nil {
		t.Fatal("expected fetch error")
	}
	if store.upserts != 0 {
		t.Fatal("snapshot written despite fetch failure")
	}
	if store.snap.Fields.Get("status") != "Pending" {
		t.Fatal("stored snapshot mutated on failure")
	}
}
