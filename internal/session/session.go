// Package session owns the single messaging-channel connection: its lifecycle
// state, the pairing credential, and the send/receive surface every other
// component goes through. Nothing else touches the transport handle.
package session

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"casewatch/internal/transport"
	"casewatch/pkg/logx"
)

type State string

const (
	StateUninitialized State = "UNINITIALIZED"
	StateAwaitingAuth  State = "AWAITING_AUTH"
	StateAuthenticated State = "AUTHENTICATED"
	StateReady         State = "READY"
	StateDisconnected  State = "DISCONNECTED"
)

// SendError wraps any transport failure for one outbound message.
type SendError struct {
	To  string
	Err error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send to %s: %v", e.To, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// MessageHandler receives each inbound message. It runs on its own goroutine:
// a slow handler never stalls the transport's event delivery.
type MessageHandler func(ctx context.Context, sender, body string)

type Config struct {
	// SendRatePerSec throttles outbound messages. Default 3.
	SendRatePerSec int
}

type Manager struct {
	dial transport.Dialer
	log  logx.Logger

	limiter *rate.Limiter
	events  chan transport.Event

	// startMu serializes bring-up so concurrent callers can never create two
	// underlying connections; mu guards the state fields only.
	startMu sync.Mutex
	mu      sync.Mutex
	state   State
	client  transport.Client
	pair    string

	onMessage MessageHandler
}

func NewManager(cfg Config, dial transport.Dialer, log logx.Logger) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	rps := cfg.SendRatePerSec
	if rps <= 0 {
		rps = 3
	}
	return &Manager{
		dial:    dial,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		events:  make(chan transport.Event, 64),
		state:   StateUninitialized,
	}
}

// SetMessageHandler installs the inbound route. Must be called before Run.
func (m *Manager) SetMessageHandler(h MessageHandler) {
	m.mu.Lock()
	m.onMessage = h
	m.mu.Unlock()
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// PairingCode returns the current QR payload while authentication is pending.
func (m *Manager) PairingCode() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pair, m.pair != ""
}

// EnsureStarted brings the session up, or returns the existing handle.
//
// Idempotent: while a handle exists in any state other than DISCONNECTED, the
// same handle is returned and no second connection attempt is made. Concurrent
// callers suspend until a handle exists (not until READY).
func (m *Manager) EnsureStarted(ctx context.Context) (transport.Client, error) {
	m.startMu.Lock()
	defer m.startMu.Unlock()

	m.mu.Lock()
	cli, st := m.client, m.state
	m.mu.Unlock()
	if cli != nil && st != StateDisconnected {
		return cli, nil
	}

	// From DISCONNECTED (or first use) bring-up re-enters from scratch.
	newCli, err := m.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("session dial: %w", err)
	}

	m.mu.Lock()
	m.client = newCli
	m.state = StateUninitialized
	m.pair = ""
	m.mu.Unlock()

	if err := newCli.Start(ctx, m.events); err != nil {
		m.mu.Lock()
		m.client = nil
		m.mu.Unlock()
		_ = newCli.Stop(context.Background())
		return nil, fmt.Errorf("session start: %w", err)
	}

	m.mu.Lock()
	if newCli.LoggedIn() {
		m.state = StateAuthenticated
	} else {
		m.state = StateAwaitingAuth
	}
	m.mu.Unlock()

	m.log.Info("session bring-up issued", logx.String("state", string(m.State())))
	return newCli, nil
}

// Send delivers one message, implicitly ensuring the session is started. It
// does not wait for READY beyond the transport's own queuing; a transport
// rejection or timeout surfaces as *SendError.
func (m *Manager) Send(ctx context.Context, to, text string) error {
	cli, err := m.EnsureStarted(ctx)
	if err != nil {
		return &SendError{To: to, Err: err}
	}
	if err := m.limiter.Wait(ctx); err != nil {
		return &SendError{To: to, Err: err}
	}
	if err := cli.SendText(ctx, to, text); err != nil {
		return &SendError{To: to, Err: err}
	}
	return nil
}

// Run consumes transport events until ctx is done. It is the only writer of
// the session state.
func (m *Manager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-m.events:
			m.handleEvent(ctx, ev)
		}
	}
}

func (m *Manager) handleEvent(ctx context.Context, ev transport.Event) {
	switch ev.Kind {
	case transport.EventPairingCode:
		m.mu.Lock()
		m.state = StateAwaitingAuth
		m.pair = ev.Code
		m.mu.Unlock()
		m.log.Info("pairing credential issued, scan to authenticate")

	case transport.EventAuthenticated:
		m.mu.Lock()
		m.state = StateAuthenticated
		m.pair = ""
		m.mu.Unlock()
		m.log.Info("session authenticated")

	case transport.EventReady:
		m.mu.Lock()
		m.state = StateReady
		m.pair = ""
		m.mu.Unlock()
		m.log.Info("session ready")

	case transport.EventDisconnected:
		m.mu.Lock()
		old := m.client
		m.client = nil
		m.state = StateDisconnected
		m.pair = ""
		m.mu.Unlock()
		m.log.Warn("session disconnected")
		if old != nil {
			// Handle is discarded; the next bring-up starts from scratch.
			go func() { _ = old.Stop(context.Background()) }()
		}

	case transport.EventMessage:
		if ev.Message == nil {
			return
		}
		m.mu.Lock()
		h := m.onMessage
		m.mu.Unlock()
		if h == nil {
			return
		}
		// Fire-and-forget relative to the next inbound event.
		go h(ctx, ev.Message.Sender, ev.Message.Text)
	}
}

// Stop tears the session down.
func (m *Manager) Stop(ctx context.Context) error {
	m.startMu.Lock()
	defer m.startMu.Unlock()

	m.mu.Lock()
	cli := m.client
	m.client = nil
	m.state = StateUninitialized
	m.pair = ""
	m.mu.Unlock()

	if cli == nil {
		return nil
	}
	return cli.Stop(ctx)
}
