// Package httpapi exposes the operator surface: health, the pairing QR image
// and the batch tracking endpoint.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	qrcode "github.com/skip2/go-qrcode"

	"casewatch/internal/session"
	"casewatch/internal/storage"
	"casewatch/pkg/logx"
)

// SessionInfo is the read side of the messaging session.
type SessionInfo interface {
	State() session.State
	PairingCode() (string, bool)
}

type Config struct {
	Addr string // default ":3000"
}

type Server struct {
	cfg   Config
	sess  SessionInfo
	store storage.Store
	log   logx.Logger
	srv   *http.Server
}

func NewServer(cfg Config, sess SessionInfo, store storage.Store, log logx.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":3000"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{cfg: cfg, sess: sess, store: store, log: log}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/", s.handleIndex)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/qr", s.handleQR)
	r.Post("/api/track", s.handleTrack)

	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until the listener fails or Stop is called.
func (s *Server) Start() error {
	s.log.Info("http listening", logx.String("addr", s.cfg.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	tracked, err := s.store.CountTracked(r.Context())
	if err != nil {
		s.log.Warn("count tracked", logx.Err(err))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "casewatch",
		"session": string(s.sess.State()),
		"tracked": tracked,
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleQR serves the pairing credential as a PNG while authentication is
// pending, and a plain JSON status once the session is linked.
func (s *Server) handleQR(w http.ResponseWriter, _ *http.Request) {
	code, ok := s.sess.PairingCode()
	if !ok {
		st := s.sess.State()
		if st == session.StateReady || st == session.StateAuthenticated {
			writeJSON(w, http.StatusOK, map[string]string{"status": "connected"})
			return
		}
		writeError(w, http.StatusNotFound, "no pairing credential available")
		return
	}
	png, err := qrcode.Encode(code, qrcode.Medium, 512)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "render qr")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

type trackRequest struct {
	MobileNumber string   `json:"mobileNumber"`
	CaseNumbers  []string `json:"caseNumbers"`
}

// handleTrack registers a batch of case numbers for one subscriber number.
func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	var req trackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	phone := onlyDigits(req.MobileNumber)
	if len(phone) != 10 {
		writeError(w, http.StatusBadRequest, "mobileNumber must be 10 digits")
		return
	}
	if len(req.CaseNumbers) == 0 {
		writeError(w, http.StatusBadRequest, "caseNumbers must not be empty")
		return
	}

	added := 0
	for _, raw := range req.CaseNumbers {
		cino := strings.ToUpper(strings.TrimSpace(raw))
		if len(cino) < 6 {
			continue
		}
		if err := s.store.UpsertTracked(r.Context(), phone, cino); err != nil {
			s.log.Error("track upsert", logx.Err(err), logx.String("cino", cino))
			writeError(w, http.StatusInternalServerError, "storage failure")
			return
		}
		added++
	}
	s.log.Info("cases tracked via api",
		logx.String("phone", phone), logx.Int("added", added))
	writeJSON(w, http.StatusOK, map[string]any{
		"mobileNumber": phone,
		"tracked":      added,
		"skipped":      len(req.CaseNumbers) - added,
	})
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
