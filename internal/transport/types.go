// Package transport defines the messaging-channel surface the session manager
// drives. Adapters translate a concrete channel's connection lifecycle into
// the event stream defined here.
package transport

import "context"

type EventKind string

const (
	// EventPairingCode carries a fresh QR pairing payload while the channel
	// awaits authentication. It may fire repeatedly as codes rotate.
	EventPairingCode EventKind = "pairing_code"
	// EventAuthenticated fires once the pairing handshake has been confirmed.
	EventAuthenticated EventKind = "authenticated"
	// EventReady fires when the channel is connected and usable for sends.
	EventReady EventKind = "ready"
	// EventDisconnected fires when the underlying connection is lost or the
	// device is logged out.
	EventDisconnected EventKind = "disconnected"
	// EventMessage carries one inbound message.
	EventMessage EventKind = "message"
)

type Event struct {
	Kind    EventKind
	Code    string // pairing payload for EventPairingCode
	Message *Message
}

// Message is one inbound channel message.
type Message struct {
	// Sender is the full channel address (e.g. "918123573669@s.whatsapp.net").
	Sender string
	Text   string
}

// Client is a live channel connection.
//
// Start connects and begins delivering events to out. Event delivery must
// never block: slow consumers lose events rather than stalling the channel.
type Client interface {
	Start(ctx context.Context, out chan<- Event) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to, text string) error
	LoggedIn() bool
}

// Dialer constructs a fresh Client. The session manager calls it once per
// bring-up cycle; a Disconnected session dials again from scratch.
type Dialer func(ctx context.Context) (Client, error)
