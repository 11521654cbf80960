package notify_test

import (
	"context"
	"errors"
	"testing"

	"claimhub/backend/internal/jobqueue"
	"claimhub/backend/internal/models"
	"claimhub/backend/internal/notify"
	"claimhub/backend/internal/worker"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(ctx context.Context, msg notify.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

type MockPusher struct {
	mock.Mock
}

func (m *MockPusher) Notify(userID string, payload any) error {
	args := m.Called(userID, payload)
	return args.Error(0)
}

type recordingRegistrar struct {
	types []models.JobType
}

func (r *recordingRegistrar) Register(typ models.JobType, _ worker.Handler) error {
	r.types = append(r.types, typ)
	return nil
}

func newLocalizer(t *testing.T) *notify.Localizer {
	t.Helper()
	loc, err := notify.NewLocalizer("")
	require.NoError(t, err)
	return loc
}

func job(typ models.JobType, payload models.Payload) *models.Job {
	return &models.Job{ID: 7, Type: typ, Payload: payload, Attempts: 1, Status: models.JobStatusActive}
}

func TestDispatcher_OTPEmail(t *testing.T) {
	email := new(MockSender)
	email.On("Send", mock.Anything, mock.MatchedBy(func(m notify.Message) bool {
		return m.Channel == notify.ChannelEmail &&
			m.To == "a@b.com" &&
			m.Subject == "Your ClaimHub verification code" &&
			m.Body == "Your verification code is 123456. Do not share it with anyone."
	})).Return(nil).Once()

	d := notify.NewDispatcher(newLocalizer(t), zerolog.Nop(), notify.WithSender(notify.ChannelEmail, email))
	err := d.HandleOTP(context.Background(), job(models.JobTypeOTP, models.Payload{"email": "a@b.com", "code": "123456"}))

	require.NoError(t, err)
	email.AssertExpectations(t)
}

func TestDispatcher_PasswordResetInUkrainianOverTelegram(t *testing.T) {
	tg := new(MockSender)
	tg.On("Send", mock.Anything, mock.MatchedBy(func(m notify.Message) bool {
		return m.Channel == notify.ChannelTelegram &&
			m.To == "123456789" &&
			m.Subject == "Скидання пароля ClaimHub"
	})).Return(nil).Once()

	d := notify.NewDispatcher(newLocalizer(t), zerolog.Nop(), notify.WithSender(notify.ChannelTelegram, tg))
	err := d.HandlePasswordReset(context.Background(), job(models.JobTypePasswordReset, models.Payload{
		"telegramChatId": "123456789",
		"link":           "https://claimhub.test/reset/abc",
		"lang":           "uk",
	}))

	require.NoError(t, err)
	tg.AssertExpectations(t)
	msg := tg.Calls[0].Arguments.Get(1).(notify.Message)
	assert.Contains(t, msg.Body, "https://claimhub.test/reset/abc")
}

func TestDispatcher_InvalidPayloadIsPermanent(t *testing.T) {
	email := new(MockSender)
	d := notify.NewDispatcher(newLocalizer(t), zerolog.Nop(), notify.WithSender(notify.ChannelEmail, email))
	ctx := context.Background()

	tests := []struct {
		name string
		run  func() error
	}{
		{"otp without code", func() error {
			return d.HandleOTP(ctx, job(models.JobTypeOTP, models.Payload{"email": "a@b.com"}))
		}},
		{"otp without destination", func() error {
			return d.HandleOTP(ctx, job(models.JobTypeOTP, models.Payload{"code": "1"}))
		}},
		{"malformed email", func() error {
			return d.HandleOTP(ctx, job(models.JobTypeOTP, models.Payload{"email": "not-an-address", "code": "1"}))
		}},
		{"reset without link", func() error {
			return d.HandlePasswordReset(ctx, job(models.JobTypePasswordReset, models.Payload{"email": "a@b.com"}))
		}},
		{"alert without message", func() error {
			return d.HandleEmailAlert(ctx, job(models.JobTypeEmailAlert, models.Payload{"email": "a@b.com", "subject": "x"}))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run()
			assert.ErrorIs(t, err, notify.ErrInvalidPayload)
			assert.True(t, jobqueue.IsPermanent(err))
		})
	}
	email.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestDispatcher_MissingSenderIsPermanent(t *testing.T) {
	d := notify.NewDispatcher(newLocalizer(t), zerolog.Nop())

	err := d.HandleEmailAlert(context.Background(), job(models.JobTypeEmailAlert, models.Payload{
		"email": "ops@claimhub.test", "subject": "Disk", "message": "Disk almost full",
	}))

	assert.ErrorIs(t, err, notify.ErrNoSender)
	assert.True(t, jobqueue.IsPermanent(err))
}

func TestDispatcher_SenderErrorIsRetryable(t *testing.T) {
	email := new(MockSender)
	email.On("Send", mock.Anything, mock.Anything).Return(errors.New("connection reset"))
	d := notify.NewDispatcher(newLocalizer(t), zerolog.Nop(), notify.WithSender(notify.ChannelEmail, email))

	err := d.HandleEmailAlert(context.Background(), job(models.JobTypeEmailAlert, models.Payload{
		"email": "ops@claimhub.test", "subject": "Disk", "message": "Disk almost full",
	}))

	require.Error(t, err)
	assert.False(t, jobqueue.IsPermanent(err))
}

func TestDispatcher_Notification(t *testing.T) {
	pusher := new(MockPusher)
	pusher.On("Notify", "u1", map[string]any{"title": "Claim approved", "claimId": "c42"}).Return(nil).Once()
	d := notify.NewDispatcher(newLocalizer(t), zerolog.Nop(), notify.WithPusher(pusher))

	err := d.HandleNotification(context.Background(), job(models.JobTypeNotification, models.Payload{
		"userId": "u1", "title": "Claim approved", "claimId": "c42",
	}))

	require.NoError(t, err)
	pusher.AssertExpectations(t)

	err = d.HandleNotification(context.Background(), job(models.JobTypeNotification, models.Payload{"title": "x"}))
	assert.ErrorIs(t, err, notify.ErrInvalidPayload)
}

func TestDispatcher_Register(t *testing.T) {
	reg := &recordingRegistrar{}
	require.NoError(t, notify.NewDispatcher(newLocalizer(t), zerolog.Nop()).Register(reg))
	assert.ElementsMatch(t, []models.JobType{models.JobTypeOTP, models.JobTypePasswordReset, models.JobTypeEmailAlert}, reg.types)

	reg = &recordingRegistrar{}
	require.NoError(t, notify.NewDispatcher(newLocalizer(t), zerolog.Nop(), notify.WithPusher(new(MockPusher))).Register(reg))
	assert.Contains(t, reg.types, models.JobTypeNotification)
}

// TestDispatcher_WithPool runs an OTP job end to end through a worker pool.
func TestDispatcher_WithPool(t *testing.T) {
	ctx := context.Background()
	q := jobqueue.NewMemoryQueue(jobqueue.Options{RetryCeiling: 3, Backoff: jobqueue.NoBackoff()})
	pool := worker.NewPool(worker.PoolConfig{}, q, zerolog.Nop())

	email := new(MockSender)
	email.On("Send", mock.Anything, mock.Anything).Return(errors.New("421 try later")).Once()
	email.On("Send", mock.Anything, mock.Anything).Return(nil).Once()
	require.NoError(t, notify.NewDispatcher(newLocalizer(t), zerolog.Nop(), notify.WithSender(notify.ChannelEmail, email)).Register(pool))

	id, err := q.Enqueue(ctx, models.JobTypeOTP, models.Payload{"email": "a@b.com", "code": "654321"})
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err := pool.RunOnce(ctx)
		require.NoError(t, err)
	}

	got, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.Equal(t, 2, got.Attempts)
	email.AssertExpectations(t)
}
