package chathub_test

import (
	"sync"
	"testing"

	"claimhub/backend/internal/chathub"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAssignsUniqueIDs(t *testing.T) {
	reg := chathub.NewRegistry(zerolog.Nop())

	seen := make(map[chathub.ConnID]bool)
	for i := 0; i < 500; i++ {
		id := reg.Register(newMockConn())
		require.NotEmpty(t, id)
		assert.False(t, seen[id], "id %s issued twice", id)
		seen[id] = true
		assert.True(t, reg.IsLive(id))
	}
	assert.Equal(t, 500, reg.Len())
}

func TestRegistry_DeregisterIsIdempotent(t *testing.T) {
	reg := chathub.NewRegistry(zerolog.Nop())
	conn := newMockConn()
	id := reg.Register(conn)

	reg.Deregister(id)
	reg.Deregister(id)
	reg.Deregister("never-registered")

	assert.False(t, reg.IsLive(id))
	assert.Equal(t, 0, reg.Len())
	assert.Equal(t, 1, conn.ClosedCount(), "transport closed exactly once")
}

// TestRegistry_DeregisterCleansMembership checks that no room keeps a
// deregistered connection.
func TestRegistry_DeregisterCleansMembership(t *testing.T) {
	reg := chathub.NewRegistry(zerolog.Nop())
	rooms := reg.Rooms()
	gone := reg.Register(newMockConn())
	stays := reg.Register(newMockConn())

	joined := []string{chathub.UserRoom("u1"), chathub.ConversationRoom("c1"), chathub.ConversationRoom("c2")}
	for _, room := range joined {
		rooms.Join(gone, room)
	}
	rooms.Join(stays, chathub.ConversationRoom("c1"))
	assert.Equal(t, joined[1:], reg.RoomsOf(gone)[:2], "rooms are reported sorted")

	reg.Deregister(gone)

	for _, room := range joined {
		assert.NotContains(t, rooms.MembersOf(room), gone, "room %s", room)
	}
	assert.Equal(t, []chathub.ConnID{stays}, rooms.MembersOf(chathub.ConversationRoom("c1")))
	assert.Equal(t, 1, rooms.RoomCount(), "drained rooms are dropped")
	assert.Nil(t, reg.RoomsOf(gone))
}

func TestRegistry_CloseAll(t *testing.T) {
	reg := chathub.NewRegistry(zerolog.Nop())
	conns := []*MockConn{newMockConn(), newMockConn(), newMockConn()}
	for _, c := range conns {
		id := reg.Register(c)
		reg.Rooms().Join(id, chathub.ConversationRoom("c1"))
	}

	assert.Equal(t, 3, reg.CloseAll())

	assert.Equal(t, 0, reg.Len())
	assert.Equal(t, 0, reg.Rooms().RoomCount())
	for _, c := range conns {
		assert.Equal(t, 1, c.ClosedCount())
	}
}

func TestRegistry_ConcurrentLifecycle(t *testing.T) {
	reg := chathub.NewRegistry(zerolog.Nop())
	rooms := reg.Rooms()
	room := chathub.ConversationRoom("busy")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := reg.Register(newMockConn())
			rooms.Join(id, room)
			_ = rooms.MembersOf(room)
			reg.Deregister(id)
		}()
	}
	wg.Wait()

	assert.Empty(t, rooms.MembersOf(room))
	assert.Equal(t, 0, reg.Len())
}
