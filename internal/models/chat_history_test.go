package models_test

import (
	"reflect"
	"testing"
	"time"

	"claimhub/backend/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

// TestChatHistoryBeforeCreate_GeneratesUUID verifies that the hook fills an empty ID.
func TestChatHistoryBeforeCreate_GeneratesUUID(t *testing.T) {
	h := &models.ChatHistory{ClaimID: "c42", SenderID: "u1", Body: "hello"}

	err := h.BeforeCreate(nil)

	assert.NoError(t, err)
	_, parseErr := uuid.Parse(h.ID)
	assert.NoError(t, parseErr, "ID must be a valid UUID")
}

// TestChatHistoryBeforeCreate_PreservesExistingID verifies that router-assigned ids survive.
func TestChatHistoryBeforeCreate_PreservesExistingID(t *testing.T) {
	h := &models.ChatHistory{ID: "01HZY3K6Q9V8W7X6Y5Z4A3B2C1", ClaimID: "c42"}

	assert.NoError(t, h.BeforeCreate(nil))
	assert.Equal(t, "01HZY3K6Q9V8W7X6Y5Z4A3B2C1", h.ID)
}

func TestChatHistory_RoundTripsChatMessage(t *testing.T) {
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	msg := &models.ChatMessage{ID: "m1", ClaimID: "c42", SenderID: "u1", Body: "hello", CreatedAt: now}

	got := models.NewChatHistory(msg).ChatMessage()

	assert.Equal(t, *msg, got)
}

// TestChatHistoryStructTags guards the index used by history queries.
func TestChatHistoryStructTags(t *testing.T) {
	typ := reflect.TypeOf(models.ChatHistory{})

	idField, found := typ.FieldByName("ID")
	assert.True(t, found)
	assert.Contains(t, idField.Tag.Get("gorm"), "primaryKey")

	claimField, found := typ.FieldByName("ClaimID")
	assert.True(t, found)
	assert.Contains(t, claimField.Tag.Get("gorm"), "idx_claim_msg")
	assert.Equal(t, "claimId", claimField.Tag.Get("json"))
}
