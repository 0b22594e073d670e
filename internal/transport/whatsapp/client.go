// Package whatsapp adapts whatsmeow's multidevice client to the transport
// surface. Device credentials live in their own sqlite file, so a paired
// session survives restarts without re-scanning the QR code.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
	_ "modernc.org/sqlite"

	"casewatch/internal/transport"
	"casewatch/pkg/logx"
)

type Config struct {
	// StorePath is the sqlite file for whatsmeow's device store.
	StorePath string
}

type Client struct {
	log       logx.Logger
	container *sqlstore.Container
	cli       *whatsmeow.Client

	out       atomic.Value // stores (chan<- transport.Event)
	runMu     sync.Mutex
	running   bool
	handlerID uint32

	// dropped counts events lost because the consumer was slower than the
	// channel's event stream.
	dropped uint64
}

// Dialer returns a transport.Dialer that opens a fresh client per bring-up.
func Dialer(cfg Config, log logx.Logger) transport.Dialer {
	return func(ctx context.Context) (transport.Client, error) {
		return New(ctx, cfg, log)
	}
}

func New(ctx context.Context, cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.StorePath) == "" {
		return nil, errors.New("whatsapp store path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dsn := "file:" + cfg.StorePath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(10000)"
	container, err := sqlstore.New(ctx, "sqlite", dsn, waLog.Noop)
	if err != nil {
		return nil, fmt.Errorf("open device store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		_ = container.Close()
		return nil, fmt.Errorf("load device: %w", err)
	}

	c := &Client{
		log:       log,
		container: container,
		cli:       whatsmeow.NewClient(device, waLog.Noop),
	}
	// Ensure atomic.Value is initialized with a stable dynamic type.
	var nilOut chan<- transport.Event
	c.out.Store(nilOut)
	return c, nil
}

func (c *Client) Start(ctx context.Context, out chan<- transport.Event) error {
	c.runMu.Lock()
	if c.running {
		c.runMu.Unlock()
		return nil
	}
	c.running = true
	c.out.Store(out)
	c.handlerID = c.cli.AddEventHandler(c.handleEvent)
	c.runMu.Unlock()

	if c.cli.Store.ID == nil {
		// Fresh device: surface rotating QR payloads until pairing completes.
		// GetQRChannel must be requested before the first Connect.
		qr, err := c.cli.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("qr channel: %w", err)
		}
		go func() {
			for item := range qr {
				switch item.Event {
				case whatsmeow.QRChannelEventCode:
					c.emit(transport.Event{Kind: transport.EventPairingCode, Code: item.Code})
				case whatsmeow.QRChannelSuccess.Event:
					c.log.Info("pairing confirmed by phone")
				default:
					c.log.Warn("pairing channel closed", logx.String("event", item.Event))
				}
			}
		}()
	}

	if err := c.cli.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

func (c *Client) Stop(ctx context.Context) error {
	c.runMu.Lock()
	if !c.running {
		c.runMu.Unlock()
		return nil
	}
	c.running = false
	id := c.handlerID
	var nilOut chan<- transport.Event
	c.out.Store(nilOut)
	c.runMu.Unlock()

	if n := atomic.LoadUint64(&c.dropped); n > 0 {
		c.log.Warn("events dropped (consumer too slow)", logx.Uint64("count", n))
	}

	c.cli.RemoveEventHandler(id)
	c.cli.Disconnect()
	return c.container.Close()
}

func (c *Client) LoggedIn() bool { return c.cli.IsLoggedIn() }

func (c *Client) SendText(ctx context.Context, to, text string) error {
	jid, err := types.ParseJID(to)
	if err != nil {
		return fmt.Errorf("parse address %q: %w", to, err)
	}
	_, err = c.cli.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(text)})
	return err
}

func (c *Client) handleEvent(raw interface{}) {
	switch evt := raw.(type) {
	case *events.PairSuccess:
		c.emit(transport.Event{Kind: transport.EventAuthenticated})
	case *events.Connected:
		c.emit(transport.Event{Kind: transport.EventReady})
	case *events.Disconnected:
		c.emit(transport.Event{Kind: transport.EventDisconnected})
	case *events.LoggedOut:
		c.log.Warn("device logged out", logx.Any("reason", evt.Reason))
		c.emit(transport.Event{Kind: transport.EventDisconnected})
	case *events.Message:
		if evt.Info.IsFromMe {
			return
		}
		text := extractText(evt.Message)
		if text == "" {
			return
		}
		c.emit(transport.Event{
			Kind: transport.EventMessage,
			Message: &transport.Message{
				Sender: evt.Info.Sender.ToNonAD().String(),
				Text:   text,
			},
		})
	}
}

// emit forwards an event without ever blocking whatsmeow's event delivery.
func (c *Client) emit(ev transport.Event) {
	v := c.out.Load()
	out, _ := v.(chan<- transport.Event)
	if out == nil {
		return
	}
	select {
	case out <- ev:
	default:
		atomic.AddUint64(&c.dropped, 1)
	}
}

func extractText(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if t := msg.GetConversation(); t != "" {
		return t
	}
	return msg.GetExtendedTextMessage().GetText()
}
