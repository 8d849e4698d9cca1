package transport

import "context"

type EventKind int

const (
	// EventOpen means the connection is authenticated and ready to send.
	EventOpen EventKind = iota
	// EventClosed carries the close reason the lifecycle manager acts on.
	EventClosed
	// EventPairingCode carries a fresh QR payload for an unpaired session.
	EventPairingCode
)

type CloseReason int

const (
	ReasonUnknown CloseReason = iota
	ReasonLoggedOut
	ReasonTimeout
	ReasonConnectionLost
	ReasonRestartRequired
)

func (r CloseReason) String() string {
	switch r {
	case ReasonLoggedOut:
		return "logged_out"
	case ReasonTimeout:
		return "timeout"
	case ReasonConnectionLost:
		return "connection_lost"
	case ReasonRestartRequired:
		return "restart_required"
	default:
		return "unknown"
	}
}

type Event struct {
	Kind        EventKind
	Reason      CloseReason // EventClosed only
	PairingCode string      // EventPairingCode only
	JID         string      // EventOpen only
}

type Media struct {
	Data     []byte
	Mimetype string
	Filename string
	Caption  string
}

// Handle is one authenticated connection to the messaging network. The
// lifecycle manager is its exclusive owner: nobody else creates, closes or
// holds a second reference to one.
type Handle interface {
	Connect(ctx context.Context) error
	SendText(ctx context.Context, phone, text string) error
	SendMedia(ctx context.Context, phone string, media Media) error
	Logout(ctx context.Context) error
	// WipeCredentials removes persisted pairing material so the next connect
	// starts a fresh pairing.
	WipeCredentials(ctx context.Context) error
	Events() <-chan Event
	Close()
}

type Factory interface {
	NewHandle(sessionID string) (Handle, error)
}
