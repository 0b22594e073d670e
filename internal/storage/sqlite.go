// Package storage persists case snapshots and tracked (recipient, case)
// mappings in a single sqlite database file.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"casewatch/internal/court"
	"casewatch/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

// Open initializes the sqlite store. An open failure here is fatal for the
// process: the watcher cannot run without its snapshot history.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) GetSnapshot(ctx context.Context, cino string) (Snapshot, bool, error) {
	var (
		fieldsJSON, rawJSON, updatedAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT fields, raw, updated_at FROM case_snapshots WHERE cino = ?`, cino,
	).Scan(&fieldsJSON, &rawJSON, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("get snapshot %s: %w", cino, err)
	}

	snap := Snapshot{CINO: cino}
	if err := json.Unmarshal([]byte(fieldsJSON), &snap.Fields); err != nil {
		return Snapshot{}, false, fmt.Errorf("decode snapshot %s: %w", cino, err)
	}
	if err := json.Unmarshal([]byte(rawJSON), &snap.Raw); err != nil {
		return Snapshot{}, false, fmt.Errorf("decode snapshot raw %s: %w", cino, err)
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		snap.UpdatedAt = t
	}
	return snap, true, nil
}

func (s *sqliteStore) UpsertSnapshot(ctx context.Context, snap Snapshot) error {
	if strings.TrimSpace(snap.CINO) == "" {
		return errors.New("snapshot cino is required")
	}
	if snap.Fields == nil {
		snap.Fields = court.Fields{}
	}
	if snap.Raw == nil {
		snap.Raw = snap.Fields
	}
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = time.Now()
	}

	fieldsJSON, err := json.Marshal(snap.Fields)
	if err != nil {
		return err
	}
	rawJSON, err := json.Marshal(snap.Raw)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO case_snapshots(cino, fields, raw, updated_at) VALUES(?,?,?,?)
		 ON CONFLICT(cino) DO UPDATE SET
		   fields=excluded.fields, raw=excluded.raw, updated_at=excluded.updated_at`,
		snap.CINO, string(fieldsJSON), string(rawJSON), snap.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert snapshot %s: %w", snap.CINO, err)
	}
	return nil
}

func (s *sqliteStore) UpsertTracked(ctx context.Context, phone, cino string) error {
	phone = strings.TrimSpace(phone)
	cino = strings.TrimSpace(cino)
	if phone == "" || cino == "" {
		return errors.New("phone and cino are required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tracked_cases(phone, cino, active, created_at) VALUES(?,?,1,?)
		 ON CONFLICT(phone, cino) DO UPDATE SET active=1`,
		phone, cino, time.Now().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert tracked (%s,%s): %w", phone, cino, err)
	}
	return nil
}

func (s *sqliteStore) ActiveByCase(ctx context.Context) (map[string][]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT cino, phone FROM tracked_cases WHERE active = 1 ORDER BY cino, phone`)
	if err != nil {
		return nil, fmt.Errorf("list tracked: %w", err)
	}
	defer rows.Close()

	out := map[string][]string{}
	for rows.Next() {
		var cino, phone string
		if err := rows.Scan(&cino, &phone); err != nil {
			return nil, err
		}
		out[cino] = append(out[cino], phone)
	}
	return out, rows.Err()
}

func (s *sqliteStore) CountTracked(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tracked_cases WHERE active = 1`).Scan(&n)
	return n, err
}
