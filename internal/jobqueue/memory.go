package jobqueue

import (
	"context"
	"sort"
	"sync"
	"time"

	"claimhub/backend/internal/metrics"
	"claimhub/backend/internal/models"
)

type delayedJob struct {
	id      models.JobID
	readyAt time.Time
}

// MemoryQueue is a process-local Queue. Jobs do not survive a restart, so it
// suits development and tests; production uses RedisQueue.
type MemoryQueue struct {
	opts Options

	mu      sync.Mutex
	seq     models.JobID
	jobs    map[models.JobID]*models.Job
	pending []models.JobID
	delayed []delayedJob
}

func NewMemoryQueue(opts Options) *MemoryQueue {
	return &MemoryQueue{
		opts: opts.withDefaults(),
		jobs: make(map[models.JobID]*models.Job),
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, typ models.JobType, payload models.Payload) (models.JobID, error) {
	if typ == "" {
		return 0, ErrEmptyJobType
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	q.seq++
	now := q.opts.Now().UTC()
	job := &models.Job{
		ID:        q.seq,
		Type:      typ,
		Payload:   payload,
		Status:    models.JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	q.jobs[job.ID] = job.Clone()
	q.pending = append(q.pending, job.ID)
	metrics.JobsEnqueued.WithLabelValues(string(typ)).Inc()
	return job.ID, nil
}

func (q *MemoryQueue) Dequeue(_ context.Context) (*models.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.opts.Now().UTC()
	q.promoteLocked(now)
	if len(q.pending) == 0 {
		return nil, nil
	}
	id := q.pending[0]
	q.pending = q.pending[1:]

	job := q.jobs[id]
	job.Status = models.JobStatusActive
	job.Attempts++
	job.ClaimedAt = &now
	job.UpdatedAt = now
	return job.Clone(), nil
}

// promoteLocked moves delayed jobs whose backoff has elapsed to the tail of
// the pending list, so retries line up behind work that is already waiting.
func (q *MemoryQueue) promoteLocked(now time.Time) {
	kept := q.delayed[:0]
	for _, d := range q.delayed {
		if d.readyAt.After(now) {
			kept = append(kept, d)
			continue
		}
		q.pending = append(q.pending, d.id)
	}
	q.delayed = kept
}

func (q *MemoryQueue) Ack(_ context.Context, id models.JobID, attempt int) (*models.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.claimedLocked(id, attempt)
	if err != nil {
		return nil, err
	}
	now := q.opts.Now().UTC()
	job.Status = models.JobStatusCompleted
	job.FinishedAt = &now
	job.UpdatedAt = now
	return job.Clone(), nil
}

func (q *MemoryQueue) Nack(_ context.Context, id models.JobID, attempt int, cause error) (*models.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.claimedLocked(id, attempt)
	if err != nil {
		return nil, err
	}
	now := q.opts.Now().UTC()
	msg := errorText(cause)
	job.LastError = msg
	job.Errors = append(job.Errors, msg)
	job.UpdatedAt = now

	fail, readyAt := q.opts.retryDecision(job.Attempts, cause, now)
	if fail {
		job.Status = models.JobStatusFailed
		job.FinishedAt = &now
		return job.Clone(), nil
	}
	job.Status = models.JobStatusPending
	job.ClaimedAt = nil
	if readyAt.IsZero() {
		q.pending = append(q.pending, id)
	} else {
		q.delayed = append(q.delayed, delayedJob{id: id, readyAt: readyAt})
		sort.SliceStable(q.delayed, func(i, j int) bool {
			return q.delayed[i].readyAt.Before(q.delayed[j].readyAt)
		})
	}
	return job.Clone(), nil
}

func (q *MemoryQueue) Extend(_ context.Context, id models.JobID, attempt int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.claimedLocked(id, attempt)
	if err != nil {
		return err
	}
	now := q.opts.Now().UTC()
	job.ClaimedAt = &now
	job.UpdatedAt = now
	return nil
}

// claimedLocked returns the job if attempt is its current claim.
func (q *MemoryQueue) claimedLocked(id models.JobID, attempt int) (*models.Job, error) {
	job, ok := q.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	if job.Status != models.JobStatusActive {
		return nil, ErrNotActive
	}
	if job.Attempts != attempt {
		return nil, ErrClaimLost
	}
	return job, nil
}

func (q *MemoryQueue) Get(_ context.Context, id models.JobID) (*models.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.Clone(), nil
}

func (q *MemoryQueue) Reclaim(_ context.Context, olderThan time.Duration) ([]*models.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.opts.Now().UTC()
	cutoff := now.Add(-olderThan)

	var stale []*models.Job
	for _, job := range q.jobs {
		if job.Status == models.JobStatusActive && job.ClaimedAt != nil && !job.ClaimedAt.After(cutoff) {
			stale = append(stale, job)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].ID < stale[j].ID })

	out := make([]*models.Job, 0, len(stale))
	for _, job := range stale {
		job.LastError = reclaimReason
		job.Errors = append(job.Errors, reclaimReason)
		job.UpdatedAt = now
		if job.Attempts >= q.opts.RetryCeiling {
			job.Status = models.JobStatusFailed
			job.FinishedAt = &now
		} else {
			job.Status = models.JobStatusPending
			job.ClaimedAt = nil
			q.pending = append(q.pending, job.ID)
		}
		out = append(out, job.Clone())
	}
	return out, nil
}

func (q *MemoryQueue) Stats(_ context.Context) (Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var s Stats
	for _, job := range q.jobs {
		switch job.Status {
		case models.JobStatusPending:
			s.Pending++
		case models.JobStatusActive:
			s.Active++
		case models.JobStatusCompleted:
			s.Completed++
		case models.JobStatusFailed:
			s.Failed++
		}
	}
	return s, nil
}
