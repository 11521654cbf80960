package chathub

import (
	"errors"
	"strings"

	"claimhub/backend/internal/models"
)

// ErrEmptyUserID is returned when a notification has no recipient.
var ErrEmptyUserID = errors.New("user id is required")

// Notifier pushes server-originated notifications to a user's private room,
// reaching every device or tab the user has open.
type Notifier struct {
	fanout Broadcaster
}

// NewNotifier creates a notifier broadcasting through b.
func NewNotifier(b Broadcaster) *Notifier {
	return &Notifier{fanout: b}
}

// Notify emits new_notification with payload to user:<userID>.
func (n *Notifier) Notify(userID string, payload any) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ErrEmptyUserID
	}
	ev, err := models.NewEvent(models.EventNewNotification, payload)
	if err != nil {
		return err
	}
	n.fanout.Broadcast(UserRoom(userID), ev)
	return nil
}
