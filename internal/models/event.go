package models

import (
	"encoding/json"
	"time"
)

// Inbound event names sent by clients.
const (
	EventJoin       = "join"
	EventJoinClaim  = "join_claim"
	EventLeaveClaim = "leave_claim"
	EventSendChat   = "send_chat"
)

// Outbound event names emitted by the server.
const (
	EventReceiveChat     = "receive_chat"
	EventNewNotification = "new_notification"
)

// Event is the frame exchanged over a realtime connection.
// Data holds the event-specific payload as raw JSON.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEvent encodes data and wraps it in an Event with the given name.
func NewEvent(name string, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{Name: name, Data: raw}, nil
}

// ChatMessage is a chat line posted to a claim conversation.
type ChatMessage struct {
	ID        string    `json:"id,omitempty"`
	ClaimID   string    `json:"claimId"`
	SenderID  string    `json:"senderId"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

// RoomEvent pairs an event with the room it targets. It is the payload
// published on the cross-node broadcast channel.
type RoomEvent struct {
	Room  string `json:"room"`
	Event Event  `json:"event"`
}
