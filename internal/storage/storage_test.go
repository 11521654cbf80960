package storage_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"claimhub/backend/internal/models"
	"claimhub/backend/internal/storage"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisService(t *testing.T) *storage.Service {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), Protocol: 2})
	t.Cleanup(func() { _ = rdb.Close() })
	return storage.NewStorageService(nil, rdb)
}

func TestService_RoomEventRoundTrip(t *testing.T) {
	svc := newRedisService(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ps := svc.SubscribeRoomEvents(ctx, "rooms:test")
	defer ps.Close()
	_, err := ps.Receive(ctx)
	require.NoError(t, err)

	ev, err := models.NewEvent(models.EventReceiveChat, models.ChatMessage{ClaimID: "c1", Body: "hi"})
	require.NoError(t, err)
	require.NoError(t, svc.PublishRoomEvent(ctx, "rooms:test", models.RoomEvent{Room: "conversation:c1", Event: ev}))

	msg, err := ps.ReceiveMessage(ctx)
	require.NoError(t, err)

	var got models.RoomEvent
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	assert.Equal(t, "conversation:c1", got.Room)
	assert.Equal(t, models.EventReceiveChat, got.Event.Name)
	assert.JSONEq(t, string(ev.Data), string(got.Event.Data))
}
