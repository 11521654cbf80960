package notify

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"claimhub/backend/internal/jobqueue"
	"claimhub/backend/internal/models"
	"claimhub/backend/internal/worker"

	"github.com/rs/zerolog"
)

// Pusher delivers a server-originated notification to every live
// connection of a user.
type Pusher interface {
	Notify(userID string, payload any) error
}

// Registrar is where the dispatcher installs its job handlers.
type Registrar interface {
	Register(typ models.JobType, h worker.Handler) error
}

// Dispatcher implements the handlers for the notification job types.
//
// Payload keys understood by the e-mail style jobs:
//
//	email            destination address (e-mail channel)
//	telegramChatId   destination chat (Telegram channel), used when email is absent
//	lang             template language, default "en"
//	code             otp
//	link             password_reset
//	subject, message email_alert
//
// The notification job carries userId plus any extra keys, which are pushed
// verbatim as the new_notification payload.
type Dispatcher struct {
	senders map[Channel]Sender
	loc     *Localizer
	pusher  Pusher
	log     zerolog.Logger
}

// DispatcherOption customizes a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithSender delivers messages for ch through s.
func WithSender(ch Channel, s Sender) DispatcherOption {
	return func(d *Dispatcher) { d.senders[ch] = s }
}

// WithPusher enables the notification job type.
func WithPusher(p Pusher) DispatcherOption {
	return func(d *Dispatcher) { d.pusher = p }
}

func NewDispatcher(loc *Localizer, logger zerolog.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		senders: make(map[Channel]Sender),
		loc:     loc,
		log:     logger.With().Str("component", "notify").Logger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register installs a handler for every job type the dispatcher can serve.
// The notification type is only registered when a Pusher is configured.
func (d *Dispatcher) Register(r Registrar) error {
	handlers := map[models.JobType]worker.Handler{
		models.JobTypeOTP:           d.HandleOTP,
		models.JobTypePasswordReset: d.HandlePasswordReset,
		models.JobTypeEmailAlert:    d.HandleEmailAlert,
	}
	if d.pusher != nil {
		handlers[models.JobTypeNotification] = d.HandleNotification
	}
	for typ, h := range handlers {
		if err := r.Register(typ, h); err != nil {
			return fmt.Errorf("register %s handler: %w", typ, err)
		}
	}
	return nil
}

func (d *Dispatcher) HandleOTP(ctx context.Context, job *models.Job) error {
	code := strings.TrimSpace(job.Payload.String("code"))
	if code == "" {
		return invalid("otp job without code")
	}
	return d.deliver(ctx, job, "otp", map[string]string{"code": code})
}

func (d *Dispatcher) HandlePasswordReset(ctx context.Context, job *models.Job) error {
	link := strings.TrimSpace(job.Payload.String("link"))
	if link == "" {
		return invalid("password_reset job without link")
	}
	return d.deliver(ctx, job, "password_reset", map[string]string{"link": link})
}

func (d *Dispatcher) HandleEmailAlert(ctx context.Context, job *models.Job) error {
	subject := strings.TrimSpace(job.Payload.String("subject"))
	message := job.Payload.String("message")
	if subject == "" || strings.TrimSpace(message) == "" {
		return invalid("email_alert job needs subject and message")
	}
	return d.deliver(ctx, job, "email_alert", map[string]string{"subject": subject, "message": message})
}

func (d *Dispatcher) HandleNotification(_ context.Context, job *models.Job) error {
	if d.pusher == nil {
		return jobqueue.Permanent(fmt.Errorf("%w: realtime push", ErrNoSender))
	}
	userID := strings.TrimSpace(job.Payload.String("userId"))
	if userID == "" {
		return invalid("notification job without userId")
	}
	payload := make(map[string]any, len(job.Payload))
	for k, v := range job.Payload {
		if k != "userId" {
			payload[k] = v
		}
	}
	return d.pusher.Notify(userID, payload)
}

// deliver renders the template pair <key>.subject / <key>.body and sends it
// to the destination named in the payload.
func (d *Dispatcher) deliver(ctx context.Context, job *models.Job, key string, vars map[string]string) error {
	ch, to, err := destination(job.Payload)
	if err != nil {
		return err
	}
	sender, ok := d.senders[ch]
	if !ok {
		return jobqueue.Permanent(fmt.Errorf("%w %s", ErrNoSender, ch))
	}

	lang := job.Payload.String("lang")
	if lang == "" {
		lang = DefaultLanguage
	}
	msg := Message{
		Channel: ch,
		To:      to,
		Subject: d.loc.Format(lang, key+".subject", vars),
		Body:    d.loc.Format(lang, key+".body", vars),
	}
	if err := sender.Send(ctx, msg); err != nil {
		return err
	}
	d.log.Debug().
		Str("job_id", job.ID.String()).
		Str("job_type", string(job.Type)).
		Str("channel", string(ch)).
		Msg("notification sent")
	return nil
}

func destination(p models.Payload) (Channel, string, error) {
	if email := strings.TrimSpace(p.String("email")); email != "" {
		addr, err := mail.ParseAddress(email)
		if err != nil {
			return "", "", invalid(fmt.Sprintf("bad email %q", email))
		}
		return ChannelEmail, addr.Address, nil
	}
	if chat := strings.TrimSpace(p.String("telegramChatId")); chat != "" {
		return ChannelTelegram, chat, nil
	}
	return "", "", invalid("no email or telegramChatId")
}

func invalid(reason string) error {
	return jobqueue.Permanent(fmt.Errorf("%w: %s", ErrInvalidPayload, reason))
}
