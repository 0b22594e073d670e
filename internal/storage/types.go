package storage

import (
	"context"
	"time"

	"casewatch/internal/court"
)

// Config configures the sqlite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default (5s)
}

// Snapshot is the last-observed field map for one case.
//
// Fields holds the tracked fields only; Raw is the complete map as fetched,
// kept so future field additions can be diffed without a schema migration.
type Snapshot struct {
	CINO      string
	Fields    court.Fields
	Raw       court.Fields
	UpdatedAt time.Time
}

// Mapping is one (recipient phone, case) subscription.
type Mapping struct {
	Phone     string
	CINO      string
	Active    bool
	CreatedAt time.Time
}

// Store is the persistence API for snapshots and tracked mappings.
//
// Single-row upserts are atomic per cino; there are no multi-row transactions.
type Store interface {
	GetSnapshot(ctx context.Context, cino string) (Snapshot, bool, error)
	UpsertSnapshot(ctx context.Context, snap Snapshot) error

	UpsertTracked(ctx context.Context, phone, cino string) error
	// ActiveByCase groups active mappings as cino -> recipient phones.
	ActiveByCase(ctx context.Context) (map[string][]string, error)
	CountTracked(ctx context.Context) (int, error)

	Close() error
}
