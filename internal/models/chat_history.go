package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ChatHistory is a persisted chat message of a claim conversation.
type ChatHistory struct {
	// ID is the message identifier (ULID assigned by the router, UUID as a fallback).
	ID string `gorm:"primaryKey" json:"id"`
	// ClaimID is the conversation the message was posted to.
	ClaimID string `gorm:"type:text;not null;index:idx_claim_msg" json:"claimId"`
	// SenderID is the identity that posted the message.
	SenderID string `gorm:"type:text;not null" json:"senderId"`
	// Body is the message text.
	Body string `gorm:"type:text;not null" json:"body"`
	// CreatedAt is the message timestamp, used for ordering history.
	CreatedAt time.Time `gorm:"index:idx_claim_msg" json:"createdAt"`
}

// BeforeCreate is a GORM hook that assigns a UUID when no ID was set.
func (h *ChatHistory) BeforeCreate(tx *gorm.DB) (err error) {
	if h.ID == "" {
		h.ID = uuid.New().String()
	}
	return
}

// NewChatHistory converts a chat message into its persisted form.
func NewChatHistory(msg *ChatMessage) *ChatHistory {
	return &ChatHistory{
		ID:        msg.ID,
		ClaimID:   msg.ClaimID,
		SenderID:  msg.SenderID,
		Body:      msg.Body,
		CreatedAt: msg.CreatedAt,
	}
}

// ChatMessage converts a history row back into its wire form.
func (h *ChatHistory) ChatMessage() ChatMessage {
	return ChatMessage{
		ID:        h.ID,
		ClaimID:   h.ClaimID,
		SenderID:  h.SenderID,
		Body:      h.Body,
		CreatedAt: h.CreatedAt,
	}
}
