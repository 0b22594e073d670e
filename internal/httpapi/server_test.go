package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"casewatch/internal/session"
	"casewatch/internal/storage"
	"casewatch/pkg/logx"
)

type stubSession struct {
	state session.State
	code  string
}

func (s *stubSession) State() session.State { return s.state }
func (s *stubSession) PairingCode() (string, bool) {
	return s.code, s.code != ""
}

type stubStore struct {
	tracked   map[string][]string // phone -> cinos
	upsertErr error
}

func newStubStore() *stubStore { return &stubStore{tracked: map[string][]string{}} }

func (s *stubStore) GetSnapshot(ctx context.Context, cino string) (storage.Snapshot, bool, error) {
	return storage.Snapshot{}, false, nil
}
func (s *stubStore) UpsertSnapshot(ctx context.Context, snap storage.Snapshot) error { return nil }

func (s *stubStore) UpsertTracked(ctx context.Context, phone, cino string) error {
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.tracked[phone] = append(s.tracked[phone], cino)
	return nil
}

func (s *stubStore) ActiveByCase(ctx context.Context) (map[string][]string, error) {
	return nil, nil
}

func (s *stubStore) CountTracked(ctx context.Context) (int, error) {
	n := 0
	for _, cinos := range s.tracked {
		n += len(cinos)
	}
	return n, nil
}

func (s *stubStore) Close() error { return nil }

func newTestServer(sess SessionInfo, store storage.Store) *Server {
	return NewServer(Config{}, sess, store, logx.Nop())
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	srv := newTestServer(&stubSession{state: session.StateReady}, newStubStore())

	rec := httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestIndexReportsSessionAndTracked(t *testing.T) {
	t.Parallel()
	store := newStubStore()
	store.tracked["8123573669"] = []string{"A", "B"}
	srv := newTestServer(&stubSession{state: session.StateReady}, store)

	rec := httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	var body struct {
		Service string `json:"service"`
		Session string `json:"session"`
		Tracked int    `json:"tracked"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Service != "casewatch" || body.Session != "READY" || body.Tracked != 2 {
		t.Fatalf("body = %+v", body)
	}
}

func TestQRStates(t *testing.T) {
	t.Parallel()

	t.Run("pending pairing serves png", func(t *testing.T) {
		t.Parallel()
		srv := newTestServer(&stubSession{state: session.StateAwaitingAuth, code: "qr-payload"}, newStubStore())
		rec := httptest.NewRecorder()
		srv.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/qr", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
			t.Fatalf("content type = %q", ct)
		}
	})

	t.Run("connected reports json", func(t *testing.T) {
		t.Parallel()
		srv := newTestServer(&stubSession{state: session.StateReady}, newStubStore())
		rec := httptest.NewRecorder()
		srv.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/qr", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), `"connected"`) {
			t.Fatalf("body = %s", rec.Body.String())
		}
	})

	t.Run("no session no credential", func(t *testing.T) {
		t.Parallel()
		srv := newTestServer(&stubSession{state: session.StateUninitialized}, newStubStore())
		rec := httptest.NewRecorder()
		srv.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/qr", nil))
		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d", rec.Code)
		}
	})
}

func TestTrackBatch(t *testing.T) {
	t.Parallel()
	store := newStubStore()
	srv := newTestServer(&stubSession{state: session.StateReady}, store)

	body := `{"mobileNumber":"81235-73669","caseNumbers":["abhc01234"," ABHC05678 ","x"]}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/track", strings.NewReader(body))
	srv.srv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		MobileNumber string `json:"mobileNumber"`
		Tracked      int    `json:"tracked"`
		Skipped      int    `json:"skipped"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Tracked != 2 || resp.Skipped != 1 {
		t.Fatalf("resp = %+v", resp)
	}
	got := store.tracked["8123573669"]
	if len(got) != 2 || got[0] != "ABHC01234" || got[1] != "ABHC05678" {
		t.Fatalf("tracked = %v", got)
	}
}

func TestTrackRejectsBadInput(t *testing.T) {
	t.Parallel()
	srv := newTestServer(&stubSession{state: session.StateReady}, newStubStore())

	tests := []struct {
		name string
		body string
	}{
		{"not json", "{"},
		{"short number", `{"mobileNumber":"12345","caseNumbers":["ABHC01234"]}`},
		{"no cases", `{"mobileNumber":"8123573669","caseNumbers":[]}`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/track", strings.NewReader(tt.body))
			srv.srv.Handler.ServeHTTP(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d", rec.Code)
			}
		})
	}
}
