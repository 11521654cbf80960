package chathub

import (
	"sort"
	"sync"
	"time"

	"claimhub/backend/internal/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Registry tracks live connections and the rooms each one joined. Its lock
// also guards room membership in the RoomMux, so registration, joins, leaves
// and deregistration are serialized against each other.
type Registry struct {
	mu    sync.RWMutex
	conns map[ConnID]*connection
	rooms *RoomMux
	log   zerolog.Logger
}

type connection struct {
	conn      Conn
	rooms     map[string]struct{}
	createdAt time.Time
}

// NewRegistry creates an empty registry together with its room multiplexer.
func NewRegistry(logger zerolog.Logger) *Registry {
	r := &Registry{
		conns: make(map[ConnID]*connection),
		log:   logger.With().Str("component", "registry").Logger(),
	}
	r.rooms = newRoomMux(r, logger)
	return r
}

// Rooms returns the room multiplexer bound to this registry.
func (r *Registry) Rooms() *RoomMux {
	return r.rooms
}

// Register allocates a fresh identifier for c and marks it live.
func (r *Registry) Register(c Conn) ConnID {
	id := ConnID(uuid.NewString())

	r.mu.Lock()
	r.conns[id] = &connection{
		conn:      c,
		rooms:     make(map[string]struct{}),
		createdAt: time.Now(),
	}
	total := len(r.conns)
	r.mu.Unlock()

	metrics.LiveConnections.Inc()
	r.log.Debug().Str("conn_id", string(id)).Int("total", total).Msg("connection registered")
	return id
}

// Deregister removes the connection and its membership in every room before
// returning, then closes the transport. Unknown ids are ignored.
func (r *Registry) Deregister(id ConnID) {
	r.mu.Lock()
	entry, ok := r.conns[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.conns, id)
	for room := range entry.rooms {
		r.rooms.removeLocked(room, id)
	}
	total := len(r.conns)
	r.mu.Unlock()

	metrics.LiveConnections.Dec()
	entry.conn.Close()
	r.log.Debug().
		Str("conn_id", string(id)).
		Int("rooms", len(entry.rooms)).
		Dur("lifetime", time.Since(entry.createdAt)).
		Int("total", total).
		Msg("connection deregistered")
}

// IsLive reports whether id is currently registered.
func (r *Registry) IsLive(id ConnID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[id]
	return ok
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// RoomsOf returns a sorted snapshot of the rooms id has joined.
func (r *Registry) RoomsOf(id ConnID) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.conns[id]
	if !ok {
		return nil
	}
	rooms := make([]string, 0, len(entry.rooms))
	for room := range entry.rooms {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

// CloseAll deregisters every live connection. Used on shutdown.
func (r *Registry) CloseAll() int {
	r.mu.RLock()
	ids := make([]ConnID, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		r.Deregister(id)
	}
	r.log.Info().Int("closed", len(ids)).Msg("closed all connections")
	return len(ids)
}
