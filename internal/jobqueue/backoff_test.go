package jobqueue_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"claimhub/backend/internal/jobqueue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBackoff(t *testing.T) {
	tests := []struct {
		policy string
		want   []time.Duration // delays after attempts 1..5
	}{
		{jobqueue.BackoffNone, []time.Duration{0, 0, 0, 0, 0}},
		{jobqueue.BackoffFixed, []time.Duration{time.Second, time.Second, time.Second, time.Second, time.Second}},
		{"", []time.Duration{time.Second, time.Second, time.Second, time.Second, time.Second}},
		{jobqueue.BackoffExponential, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.policy, func(t *testing.T) {
			b, err := jobqueue.NewBackoff(tt.policy, time.Second, 10*time.Second)
			require.NoError(t, err)
			for i, want := range tt.want {
				assert.Equal(t, want, b(i+1), "attempt %d", i+1)
			}
		})
	}

	_, err := jobqueue.NewBackoff("fibonacci", time.Second, time.Minute)
	assert.Error(t, err)
}

func TestExponentialBackoff_WithoutLimit(t *testing.T) {
	b := jobqueue.ExponentialBackoff(100*time.Millisecond, 0)
	assert.Equal(t, 100*time.Millisecond, b(0))
	assert.Equal(t, 1600*time.Millisecond, b(5))
}

func TestPermanent(t *testing.T) {
	base := errors.New("template missing")
	perm := jobqueue.Permanent(base)

	assert.True(t, jobqueue.IsPermanent(perm))
	assert.True(t, jobqueue.IsPermanent(fmt.Errorf("dispatch: %w", perm)))
	assert.ErrorIs(t, perm, base)
	assert.Equal(t, base.Error(), perm.Error())

	assert.False(t, jobqueue.IsPermanent(base))
	assert.False(t, jobqueue.IsPermanent(nil))
	assert.Nil(t, jobqueue.Permanent(nil))
}
