package pairing

import (
	"errors"

	"github.com/google/uuid"
)

// ConnectionID identifies one live client channel. IDs are never reused.
type ConnectionID string

// SessionID identifies one two-party session.
type SessionID string

// EventKind is the kind of a server-to-client notification.
type EventKind string

const (
	EventWaiting             EventKind = "waiting"
	EventPaired              EventKind = "paired"
	EventSignal              EventKind = "signal"
	EventPartnerDisconnected EventKind = "partner-disconnected"
	EventWaitExpired         EventKind = "wait-expired"
)

// Event is a notification addressed to a single connection.
type Event struct {
	Kind      EventKind
	SessionID SessionID
	// Initiator is set on EventPaired for the member that waited in the pool.
	Initiator bool
	// Payload is the opaque signal body for EventSignal. It is forwarded as-is
	// and must not be modified by receivers.
	Payload []byte
}

// Notifier delivers events to connections. Implementations must not block;
// undeliverable events are dropped.
type Notifier interface {
	Notify(conn ConnectionID, ev Event)
}

// ConnectionState is the externally observable state of a connection.
type ConnectionState int

const (
	StateIdle ConnectionState = iota
	StateWaiting
	StateInSession
)

func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaiting:
		return "waiting"
	case StateInSession:
		return "in_session"
	default:
		return "unknown"
	}
}

var (
	ErrSelfPairing        = errors.New("pairing: connection cannot be paired with itself")
	ErrAlreadyInSession   = errors.New("pairing: connection already in a session")
	ErrTooManyConnections = errors.New("pairing: too many connections")
)

func newRandomID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
