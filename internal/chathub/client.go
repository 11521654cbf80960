// Package chathub distributes realtime events to live connections. A Registry
// owns connections, a RoomMux maps room names to member connections, and a
// Router interprets the events each connection sends.
package chathub

import (
	"errors"

	"claimhub/backend/internal/models"
)

var (
	// ErrConnClosed is returned by Send after the connection was closed.
	ErrConnClosed = errors.New("connection closed")
	// ErrSendBufferFull is returned by Send when the outbound queue is full.
	ErrSendBufferFull = errors.New("send buffer full")
)

// ConnID identifies a live connection. It is assigned by the Registry at
// handshake and never reused while the connection is live.
type ConnID string

// Conn is the transport side of a connection (e.g. WebSocket). It abstracts
// the underlying mechanism so the hub can treat every client uniformly.
type Conn interface {
	// Send queues ev for delivery. It must not block; a slow or closed
	// transport reports an error instead.
	Send(ev models.Event) error
	// Close shuts the transport down. Safe to call more than once.
	Close()
}

// Broadcaster delivers an event to every member of a room.
type Broadcaster interface {
	Broadcast(room string, ev models.Event)
}
