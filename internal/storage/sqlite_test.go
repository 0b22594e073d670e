package storage

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"casewatch/internal/court"
	"casewatch/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "casewatch.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSnapshotRoundTrip(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	if _, found, err := st.GetSnapshot(ctx, "X123456"); err != nil || found {
		t.Fatalf("empty get: found=%v err=%v", found, err)
	}

	snap := Snapshot{
		CINO:      "X123456",
		Fields:    court.Fields{"status": "Pending", "nextHearingDate": "01-10-2026"},
		Raw:       court.Fields{"status": "Pending", "nextHearingDate": "01-10-2026", "extra": "x"},
		UpdatedAt: time.Now(),
	}
	if err := st.UpsertSnapshot(ctx, snap); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, found, err := st.GetSnapshot(ctx, "X123456")
	if err != nil || !found {
		t.Fatalf("get: found=%v err=%v", found, err)
	}
	if !reflect.DeepEqual(got.Fields, snap.Fields) {
		t.Fatalf("fields = %v, want %v", got.Fields, snap.Fields)
	}
	if got.Raw.Get("extra") != "x" {
		t.Fatalf("raw = %v", got.Raw)
	}

	// Second upsert overwrites in place.
	snap.Fields["status"] = "Disposed"
	if err := st.UpsertSnapshot(ctx, snap); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	got, _, err = st.GetSnapshot(ctx, "X123456")
	if err != nil {
		t.Fatalf("get after overwrite: %v", err)
	}
	if got.Fields.Get("status") != "Disposed" {
		t.Fatalf("status = %q after overwrite", got.Fields.Get("status"))
	}
}

func TestTrackedUpsertIsIdempotent(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := st.UpsertTracked(ctx, "8123573669", "X123456"); err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
	}
	if err := st.UpsertTracked(ctx, "8123573669", "Y654321"); err != nil {
		t.Fatalf("upsert second case: %v", err)
	}
	if err := st.UpsertTracked(ctx, "8423003490", "X123456"); err != nil {
		t.Fatalf("upsert second phone: %v", err)
	}

	n, err := st.CountTracked(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 3 {
		t.Fatalf("count = %d, want 3 distinct mappings", n)
	}

	byCase, err := st.ActiveByCase(ctx)
	if err != nil {
		t.Fatalf("ActiveByCase: %v", err)
	}
	want := map[string][]string{
		"X123456": {"8123573669", "8423003490"},
		"Y654321": {"8123573669"},
	}
	if !reflect.DeepEqual(byCase, want) {
		t.Fatalf("ActiveByCase = %v, want %v", byCase, want)
	}
}

func TestUpsertValidation(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.UpsertSnapshot(ctx, Snapshot{}); err == nil {
		t.Fatal("expected error for empty cino")
	}
	if err := st.UpsertTracked(ctx, "", "X123456"); err == nil {
		t.Fatal("expected error for empty phone")
	}
}
