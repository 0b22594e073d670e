package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"casewatch/internal/transport"
	"casewatch/pkg/logx"
)

type fakeClient struct {
	mu       sync.Mutex
	out      chan<- transport.Event
	loggedIn bool
	sendErr  error
	sent     []string
	stopped  bool
}

func (c *fakeClient) Start(ctx context.Context, out chan<- transport.Event) error {
	c.mu.Lock()
	c.out = out
	c.mu.Unlock()
	return nil
}

func (c *fakeClient) Stop(ctx context.Context) error {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
	return nil
}

func (c *fakeClient) SendText(ctx context.Context, to, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, to+"|"+text)
	return nil
}

func (c *fakeClient) LoggedIn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loggedIn
}

func (c *fakeClient) emit(ev transport.Event) {
	c.mu.Lock()
	out := c.out
	c.mu.Unlock()
	out <- ev
}

func newTestManager(t *testing.T, cli *fakeClient) (*Manager, *atomic.Int32, func()) {
	t.Helper()
	var dials atomic.Int32
	dial := func(ctx context.Context) (transport.Client, error) {
		dials.Add(1)
		return cli, nil
	}
	m := NewManager(Config{SendRatePerSec: 100}, dial, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run(ctx)
	}()
	return m, &dials, func() {
		cancel()
		<-done
	}
}

func waitState(t *testing.T, m *Manager, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", m.State(), want)
}

func TestEnsureStartedIdempotent(t *testing.T) {
	t.Parallel()
	cli := &fakeClient{}
	m, dials, stop := newTestManager(t, cli)
	defer stop()

	h1, err := m.EnsureStarted(context.Background())
	if err != nil {
		t.Fatalf("EnsureStarted: %v", err)
	}
	h2, err := m.EnsureStarted(context.Background())
	if err != nil {
		t.Fatalf("EnsureStarted again: %v", err)
	}
	if h1 != h2 {
		t.Fatal("expected the same handle")
	}
	if n := dials.Load(); n != 1 {
		t.Fatalf("dials = %d, want 1", n)
	}
}

func TestEnsureStartedConcurrent(t *testing.T) {
	t.Parallel()
	cli := &fakeClient{}
	m, dials, stop := newTestManager(t, cli)
	defer stop()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.EnsureStarted(context.Background()); err != nil {
				t.Errorf("EnsureStarted: %v", err)
			}
		}()
	}
	wg.Wait()
	if n := dials.Load(); n != 1 {
		t.Fatalf("dials = %d, want a single underlying connection", n)
	}
}

func TestPairingFlow(t *testing.T) {
	t.Parallel()
	cli := &fakeClient{}
	m, _, stop := newTestManager(t, cli)
	defer stop()

	if _, err := m.EnsureStarted(context.Background()); err != nil {
		t.Fatalf("EnsureStarted: %v", err)
	}
	if st := m.State(); st != StateAwaitingAuth {
		t.Fatalf("state = %s, want %s before pairing", st, StateAwaitingAuth)
	}
	if _, ok := m.PairingCode(); ok {
		t.Fatal("pairing code present before the transport issued one")
	}

	cli.emit(transport.Event{Kind: transport.EventPairingCode, Code: "qr-payload"})
	waitState(t, m, StateAwaitingAuth)
	deadline := time.Now().Add(2 * time.Second)
	for {
		if code, ok := m.PairingCode(); ok {
			if code != "qr-payload" {
				t.Fatalf("pairing code = %q", code)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("pairing code never surfaced")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cli.emit(transport.Event{Kind: transport.EventAuthenticated})
	waitState(t, m, StateAuthenticated)
	cli.emit(transport.Event{Kind: transport.EventReady})
	waitState(t, m, StateReady)
	if _, ok := m.PairingCode(); ok {
		t.Fatal("pairing code retained after authentication")
	}
}

func TestDisconnectDiscardsHandle(t *testing.T) {
	t.Parallel()
	cli := &fakeClient{}
	m, dials, stop := newTestManager(t, cli)
	defer stop()

	if _, err := m.EnsureStarted(context.Background()); err != nil {
		t.Fatalf("EnsureStarted: %v", err)
	}
	cli.emit(transport.Event{Kind: transport.EventReady})
	waitState(t, m, StateReady)

	cli.emit(transport.Event{Kind: transport.EventDisconnected})
	waitState(t, m, StateDisconnected)

	if _, err := m.EnsureStarted(context.Background()); err != nil {
		t.Fatalf("EnsureStarted after disconnect: %v", err)
	}
	if n := dials.Load(); n != 2 {
		t.Fatalf("dials = %d, want a fresh connection after disconnect", n)
	}
}

func TestSendWrapsTransportFailure(t *testing.T) {
	t.Parallel()
	cli := &fakeClient{sendErr: errors.New("socket closed")}
	m, _, stop := newTestManager(t, cli)
	defer stop()

	err := m.Send(context.Background(), "918123573669@s.whatsapp.net", "hi")
	var se *SendError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *SendError", err)
	}
	if se.To != "918123573669@s.whatsapp.net" {
		t.Fatalf("SendError.To = %q", se.To)
	}
}

func TestInboundRoutedToHandler(t *testing.T) {
	t.Parallel()
	cli := &fakeClient{}
	got := make(chan [2]string, 1)
	var dials atomic.Int32
	dial := func(ctx context.Context) (transport.Client, error) {
		dials.Add(1)
		return cli, nil
	}
	m := NewManager(Config{}, dial, logx.Nop())
	m.SetMessageHandler(func(ctx context.Context, sender, body string) {
		got <- [2]string{sender, body}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	if _, err := m.EnsureStarted(ctx); err != nil {
		t.Fatalf("EnsureStarted: %v", err)
	}
	cli.emit(transport.Event{Kind: transport.EventMessage, Message: &transport.Message{
		Sender: "918423003490@s.whatsapp.net",
		Text:   "hello",
	}})

	select {
	case msg := <-got:
		if msg[0] != "918423003490@s.whatsapp.net" || msg[1] != "hello" {
			t.Fatalf("inbound = %v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler never invoked")
	}
}
