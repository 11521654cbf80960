package chathub

import (
	"context"
	"encoding/json"
	"fmt"

	"claimhub/backend/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RoomPublisher is the Redis side of cross-node fan-out.
type RoomPublisher interface {
	PublishRoomEvent(ctx context.Context, channel string, re models.RoomEvent) error
	SubscribeRoomEvents(ctx context.Context, channel string) *redis.PubSub
}

// PubSubBridge fans broadcasts out to every node through a Redis channel.
// Broadcast publishes; Run receives from the channel and delivers to the
// local RoomMux, so a node also hears its own broadcasts.
type PubSubBridge struct {
	pub     RoomPublisher
	local   *RoomMux
	channel string
	ready   chan struct{}
	log     zerolog.Logger
}

// NewPubSubBridge creates a bridge publishing on channel.
func NewPubSubBridge(pub RoomPublisher, local *RoomMux, channel string, logger zerolog.Logger) *PubSubBridge {
	return &PubSubBridge{
		pub:     pub,
		local:   local,
		channel: channel,
		ready:   make(chan struct{}),
		log:     logger.With().Str("component", "pubsub").Str("channel", channel).Logger(),
	}
}

// Broadcast publishes ev for room. If publishing fails the event is still
// delivered to this node's members.
func (b *PubSubBridge) Broadcast(room string, ev models.Event) {
	err := b.pub.PublishRoomEvent(context.Background(), b.channel, models.RoomEvent{Room: room, Event: ev})
	if err != nil {
		b.log.Error().Err(err).Str("room", room).Msg("publish failed, delivering locally")
		b.local.Broadcast(room, ev)
	}
}

// Ready is closed once the subscription is confirmed by Redis.
func (b *PubSubBridge) Ready() <-chan struct{} {
	return b.ready
}

// Run listens on the channel until ctx is cancelled.
func (b *PubSubBridge) Run(ctx context.Context) error {
	ps := b.pub.SubscribeRoomEvents(ctx, b.channel)
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	close(b.ready)
	b.log.Info().Msg("listening for room events")

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var re models.RoomEvent
			if err := json.Unmarshal([]byte(msg.Payload), &re); err != nil {
				b.log.Warn().Err(err).Msg("error decoding room event")
				continue
			}
			b.local.Broadcast(re.Room, re.Event)
		}
	}
}
