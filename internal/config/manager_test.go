package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validYAML = `
logging:
  level: debug
  console: true
storage:
  path: /tmp/casewatch.db
whatsapp:
  store_path: /tmp/wa.db
  admin_number: "918423003490"
watch:
  enabled: true
  cino: ABHC010012342020
  interval: 5m
  recipients: "8123573669,8423003490"
sweep:
  enabled: true
  interval: 30m
  dedup_window: 24h
`

func TestLoadValid(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, validYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Watch.CINO != "ABHC010012342020" {
		t.Fatalf("cino = %q", cfg.Watch.CINO)
	}
	if cfg.WhatsApp.AdminNumber != "918423003490" {
		t.Fatalf("admin = %q", cfg.WhatsApp.AdminNumber)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get did not return the loaded config")
	}
}

func TestLoadValidation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(string) string
		wantErr string
	}{
		{
			name:    "missing storage path",
			mutate:  func(s string) string { return strings.Replace(s, "path: /tmp/casewatch.db", `path: ""`, 1) },
			wantErr: "storage.path",
		},
		{
			name:    "missing store path",
			mutate:  func(s string) string { return strings.Replace(s, "store_path: /tmp/wa.db", `store_path: ""`, 1) },
			wantErr: "whatsapp.store_path",
		},
		{
			name:    "watch enabled without cino",
			mutate:  func(s string) string { return strings.Replace(s, "cino: ABHC010012342020", `cino: ""`, 1) },
			wantErr: "watch.cino",
		},
		{
			name:    "unknown watch mode",
			mutate:  func(s string) string { return strings.Replace(s, "interval: 5m", "interval: 5m\n  mode: everything", 1) },
			wantErr: "watch.mode",
		},
		{
			name:    "unknown key",
			mutate:  func(s string) string { return s + "\nsurprise: true\n" },
			wantErr: "unknown field",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := NewManager(writeConfig(t, tt.mutate(validYAML)))
			_, err := m.Load()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationOrDefault("watch.interval", "", 5*time.Minute)
	if err != nil || d != 5*time.Minute {
		t.Fatalf("default: %v %v", d, err)
	}
	d, err = ParseDurationOrDefault("watch.interval", "90s", 5*time.Minute)
	if err != nil || d != 90*time.Second {
		t.Fatalf("explicit: %v %v", d, err)
	}
	if _, err := ParseDurationOrDefault("watch.interval", "soon", 5*time.Minute); err == nil {
		t.Fatal("expected error for junk duration")
	}
	if _, err := ParseDurationField("watch.interval", "-5m"); err == nil {
		t.Fatal("expected error for negative duration")
	}
}
