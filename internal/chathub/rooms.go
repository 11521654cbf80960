package chathub

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"claimhub/backend/internal/config"
	"claimhub/backend/internal/metrics"
	"claimhub/backend/internal/models"

	"github.com/rs/zerolog"
)

// UserRoom returns the private room of a user identity.
func UserRoom(userID string) string {
	return config.UserRoomPrefix + userID
}

// ConversationRoom returns the shared room of a claim conversation.
func ConversationRoom(claimID string) string {
	return config.ConversationRoomPrefix + claimID
}

// namespaceOf returns "user", "conversation" or "other" for metrics labels.
func namespaceOf(room string) string {
	switch {
	case strings.HasPrefix(room, config.UserRoomPrefix):
		return "user"
	case strings.HasPrefix(room, config.ConversationRoomPrefix):
		return "conversation"
	default:
		return "other"
	}
}

// RoomMux maps room names to member connections. Rooms exist only while they
// have members; an empty room is dropped as soon as its last member leaves.
type RoomMux struct {
	reg   *Registry // reg.mu guards rooms
	rooms map[string]map[ConnID]struct{}

	// order holds one fan-out lock per room that is being broadcast to, so
	// members observe a room's broadcasts in issue order while other rooms
	// proceed independently. Entries live only while a broadcast holds or
	// waits for them.
	orderMu sync.Mutex
	order   map[string]*roomOrder

	log zerolog.Logger
}

func newRoomMux(reg *Registry, logger zerolog.Logger) *RoomMux {
	return &RoomMux{
		reg:   reg,
		rooms: make(map[string]map[ConnID]struct{}),
		order: make(map[string]*roomOrder),
		log:   logger.With().Str("component", "rooms").Logger(),
	}
}

// Join adds id to room. Joining twice is a no-op. A connection that is not
// live is logged and ignored; the return value reports whether id is a member
// after the call.
func (m *RoomMux) Join(id ConnID, room string) bool {
	m.reg.mu.Lock()
	entry, live := m.reg.conns[id]
	if !live {
		m.reg.mu.Unlock()
		m.log.Warn().Str("conn_id", string(id)).Str("room", room).Msg("join ignored: connection not live")
		return false
	}
	members, ok := m.rooms[room]
	if !ok {
		members = make(map[ConnID]struct{})
		m.rooms[room] = members
	}
	members[id] = struct{}{}
	entry.rooms[room] = struct{}{}
	size := len(members)
	m.reg.mu.Unlock()

	m.log.Debug().Str("conn_id", string(id)).Str("room", room).Int("members", size).Msg("joined room")
	return true
}

// Leave removes id from room. Leaving a room that was never joined is a no-op.
func (m *RoomMux) Leave(id ConnID, room string) {
	m.reg.mu.Lock()
	if entry, ok := m.reg.conns[id]; ok {
		delete(entry.rooms, room)
	}
	m.removeLocked(room, id)
	m.reg.mu.Unlock()
}

// removeLocked drops id from room and the room itself once empty.
// The caller holds reg.mu.
func (m *RoomMux) removeLocked(room string, id ConnID) {
	members, ok := m.rooms[room]
	if !ok {
		return
	}
	delete(members, id)
	if len(members) == 0 {
		delete(m.rooms, room)
	}
}

type roomOrder struct {
	mu   sync.Mutex
	refs int
}

// lockRoom serializes broadcasts to room and returns the matching unlock.
func (m *RoomMux) lockRoom(room string) (unlock func()) {
	m.orderMu.Lock()
	o, ok := m.order[room]
	if !ok {
		o = &roomOrder{}
		m.order[room] = o
	}
	o.refs++
	m.orderMu.Unlock()

	o.mu.Lock()
	return func() {
		o.mu.Unlock()
		m.orderMu.Lock()
		o.refs--
		if o.refs == 0 {
			delete(m.order, room)
		}
		m.orderMu.Unlock()
	}
}

type target struct {
	id   ConnID
	conn Conn
}

// snapshot copies the live members of room under the read lock.
func (m *RoomMux) snapshot(room string) []target {
	m.reg.mu.RLock()
	defer m.reg.mu.RUnlock()

	members := m.rooms[room]
	targets := make([]target, 0, len(members))
	for id := range members {
		if entry, ok := m.reg.conns[id]; ok {
			targets = append(targets, target{id: id, conn: entry.conn})
		}
	}
	return targets
}

// Broadcast delivers ev to every live member of room. Membership is read under
// the lock and delivery happens outside it; a failed send to one member is
// logged and does not affect the others.
func (m *RoomMux) Broadcast(room string, ev models.Event) {
	unlock := m.lockRoom(room)
	defer unlock()

	targets := m.snapshot(room)
	failed := 0
	for _, t := range targets {
		if err := deliver(t.conn, ev); err != nil {
			failed++
			m.log.Debug().Err(err).Str("conn_id", string(t.id)).Str("room", room).Msg("delivery failed")
		}
	}

	metrics.RoomBroadcasts.WithLabelValues(namespaceOf(room)).Inc()
	if failed > 0 {
		metrics.FailedDeliveries.Add(float64(failed))
	}
	m.log.Debug().
		Str("room", room).
		Str("event", ev.Name).
		Int("targets", len(targets)).
		Int("failed", failed).
		Msg("broadcast")
}

// deliver calls Send and converts a panicking transport into an error.
func deliver(c Conn, ev models.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("send panicked: %v", r)
		}
	}()
	return c.Send(ev)
}

// MembersOf returns a sorted snapshot of the members of room. The result may
// be stale immediately and is meant for diagnostics only.
func (m *RoomMux) MembersOf(room string) []ConnID {
	m.reg.mu.RLock()
	members := make([]ConnID, 0, len(m.rooms[room]))
	for id := range m.rooms[room] {
		members = append(members, id)
	}
	m.reg.mu.RUnlock()

	sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
	return members
}

// RoomCount returns the number of non-empty rooms.
func (m *RoomMux) RoomCount() int {
	m.reg.mu.RLock()
	defer m.reg.mu.RUnlock()
	return len(m.rooms)
}
