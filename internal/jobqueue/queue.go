// Package jobqueue holds background jobs between the producers that submit
// them and the worker pool that executes them.
//
// A job moves pending -> active on Dequeue, and active -> completed on Ack.
// Nack sends it back to pending (possibly after a backoff delay) until the
// retry ceiling is reached, then marks it failed. Dequeue is the only way to
// claim a job, and it never hands the same job to two callers.
//
// A claim is identified by the job id and the attempt number Dequeue returned.
// Ack, Nack and Extend refuse a claim that was reclaimed in the meantime, so a
// worker that outlived its claim cannot finish a job another worker now holds.
package jobqueue

import (
	"context"
	"errors"
	"time"

	"claimhub/backend/internal/models"
)

var (
	ErrJobNotFound  = errors.New("jobqueue: job not found")
	ErrNotActive    = errors.New("jobqueue: job is not active")
	ErrClaimLost    = errors.New("jobqueue: job was claimed again by another worker")
	ErrEmptyJobType = errors.New("jobqueue: job type is required")
)

// DefaultRetryCeiling is used when Options leaves the ceiling unset.
const DefaultRetryCeiling = 3

// reclaimReason is recorded on jobs whose worker stopped before finishing.
const reclaimReason = "visibility timeout expired"

// Queue is the job store shared by producers and workers.
type Queue interface {
	// Enqueue stores a new pending job and returns its id without waiting for it to run.
	Enqueue(ctx context.Context, typ models.JobType, payload models.Payload) (models.JobID, error)
	// Dequeue claims the oldest ready job, or returns nil when none is ready.
	Dequeue(ctx context.Context) (*models.Job, error)
	// Ack marks the job completed if attempt is still its current claim.
	Ack(ctx context.Context, id models.JobID, attempt int) (*models.Job, error)
	// Nack records a failed attempt and either schedules a retry or fails the job.
	Nack(ctx context.Context, id models.JobID, attempt int, cause error) (*models.Job, error)
	// Extend renews the claim so Reclaim treats the job as freshly claimed.
	Extend(ctx context.Context, id models.JobID, attempt int) error
	// Get returns a snapshot of a job in any state.
	Get(ctx context.Context, id models.JobID) (*models.Job, error)
	// Reclaim returns active jobs claimed longer than olderThan ago to
	// pending, or fails them when they are out of attempts.
	Reclaim(ctx context.Context, olderThan time.Duration) ([]*models.Job, error)
	// Stats counts jobs by status.
	Stats(ctx context.Context) (Stats, error)
}

// Stats is a point-in-time count of jobs per status. Pending includes jobs
// waiting out a backoff delay.
type Stats struct {
	Pending   int64 `json:"pending"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Options configures retry behaviour shared by every Queue implementation.
type Options struct {
	// RetryCeiling is the total number of attempts a job gets.
	RetryCeiling int
	// Backoff delays redelivery after a failed attempt. Nil means immediate.
	Backoff Backoff
	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.RetryCeiling <= 0 {
		o.RetryCeiling = DefaultRetryCeiling
	}
	if o.Backoff == nil {
		o.Backoff = NoBackoff()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// retryDecision decides what Nack does with a job that has made attempts tries.
// A zero readyAt means the job is ready immediately.
func (o Options) retryDecision(attempts int, cause error, now time.Time) (fail bool, readyAt time.Time) {
	if IsPermanent(cause) || attempts >= o.RetryCeiling {
		return true, time.Time{}
	}
	return false, o.retryAt(attempts, now)
}

// retryAt is when a job that failed attempt number attempts becomes ready
// again, or the zero time for immediately.
func (o Options) retryAt(attempts int, now time.Time) time.Time {
	if d := o.Backoff(attempts); d > 0 {
		return now.Add(d)
	}
	return time.Time{}
}

func errorText(cause error) string {
	if cause == nil {
		return "unknown error"
	}
	return cause.Error()
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Nack fails such jobs on the first attempt.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
