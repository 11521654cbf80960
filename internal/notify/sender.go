// Package notify turns notification jobs into delivered messages. Handlers
// validate the job payload, render a localized template and pass the result
// to the Sender registered for the destination channel.
package notify

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

var (
	ErrInvalidPayload = errors.New("notify: invalid job payload")
	ErrNoSender       = errors.New("notify: no sender for channel")
)

// Channel is a delivery medium.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelTelegram Channel = "telegram"
)

// Message is one rendered notification.
type Message struct {
	Channel Channel
	// To is an e-mail address or a Telegram chat id, depending on Channel.
	To      string
	Subject string
	Body    string
}

// Sender delivers messages over one channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender only logs messages. It stands in for a real channel in development.
type LogSender struct {
	log zerolog.Logger
}

func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{log: logger.With().Str("component", "log_sender").Logger()}
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.log.Info().
		Str("channel", string(msg.Channel)).
		Str("to", msg.To).
		Str("subject", msg.Subject).
		Int("body_len", len(msg.Body)).
		Msg("notification not delivered, log sender in use")
	return nil
}
