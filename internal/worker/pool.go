// Package worker provides a worker pool for processing background jobs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"claimhub/backend/internal/jobqueue"
	"claimhub/backend/internal/metrics"
	"claimhub/backend/internal/models"

	"github.com/rs/zerolog"
)

var (
	ErrUnknownJobType = errors.New("worker: no handler registered for job type")
	ErrPoolRunning    = errors.New("worker: pool is already running")
)

// Handler executes one job. A nil return acks the job, an error nacks it.
// Wrap the error with jobqueue.Permanent to skip the remaining retries.
type Handler func(ctx context.Context, job *models.Job) error

// Archiver receives every job that reaches a terminal state.
type Archiver interface {
	ArchiveJob(ctx context.Context, job *models.Job) error
}

// PoolConfig holds worker pool configuration.
type PoolConfig struct {
	NumWorkers int
	// PollInterval is how long an idle worker waits before polling again.
	PollInterval time.Duration
	// VisibilityTimeout is how long a claim stays valid without renewal
	// before the reaper takes the job back. While a handler runs its worker
	// renews the claim every third of it. Zero disables the reaper.
	VisibilityTimeout time.Duration
	// JobTimeout is the deadline on a handler's context. Zero derives it
	// from VisibilityTimeout; both zero means no deadline.
	JobTimeout time.Duration
}

// jobTimeout leaves a tenth of the visibility timeout for ack or nack.
func (c PoolConfig) jobTimeout() time.Duration {
	if c.JobTimeout > 0 {
		return c.JobTimeout
	}
	return c.VisibilityTimeout - c.VisibilityTimeout/10
}

// DefaultPoolConfig returns the default pool configuration.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		NumWorkers:        4,
		PollInterval:      500 * time.Millisecond,
		VisibilityTimeout: 5 * time.Minute,
	}
}

// PoolOption customizes a Pool.
type PoolOption func(*Pool)

// WithArchiver hands terminal jobs to a.
func WithArchiver(a Archiver) PoolOption {
	return func(p *Pool) { p.archiver = a }
}

// Pool runs NumWorkers independent dequeue -> dispatch -> ack/nack loops
// over a shared queue. The queue's claim is the only coordination between
// workers.
type Pool struct {
	config   PoolConfig
	queue    jobqueue.Queue
	archiver Archiver
	log      zerolog.Logger

	mu       sync.RWMutex
	handlers map[models.JobType]Handler
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewPool creates a new worker pool.
func NewPool(cfg PoolConfig, queue jobqueue.Queue, logger zerolog.Logger, opts ...PoolOption) *Pool {
	def := DefaultPoolConfig()
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = def.NumWorkers
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	p := &Pool{
		config:   cfg,
		queue:    queue,
		log:      logger.With().Str("component", "worker").Logger(),
		handlers: make(map[models.JobType]Handler),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Register installs the handler for typ. Handlers must be registered before
// Start; a later registration returns ErrPoolRunning.
func (p *Pool) Register(typ models.JobType, h Handler) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return ErrPoolRunning
	}
	p.handlers[typ] = h
	return nil
}

// Start starts the workers and, when enabled, the reaper.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return ErrPoolRunning
	}
	p.running = true
	workerCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.mu.Unlock()

	for i := 0; i < p.config.NumWorkers; i++ {
		workerID := fmt.Sprintf("worker-%d", i+1)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.runWorker(workerCtx, workerID)
		}()
	}
	if p.config.VisibilityTimeout > 0 {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.runReaper(workerCtx)
		}()
	}

	p.log.Info().Int("workers", p.config.NumWorkers).Dur("visibility_timeout", p.config.VisibilityTimeout).Msg("worker pool started")
	return nil
}

// Stop stops polling and waits for in-flight jobs to finish. Running
// handlers are not cancelled, they only see their own job deadline; ctx
// bounds how long Stop waits for them.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	cancel := p.cancel
	p.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.log.Info().Msg("all workers stopped")
		return nil
	case <-ctx.Done():
		p.log.Warn().Msg("timeout waiting for workers to stop")
		return ctx.Err()
	}
}

// IsRunning returns true if the pool is running.
func (p *Pool) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

func (p *Pool) runWorker(ctx context.Context, workerID string) {
	log := p.log.With().Str("worker", workerID).Logger()
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		processed, err := p.processNext(ctx, log)
		if err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("queue error")
		}
		if processed && err == nil {
			timer.Reset(0)
		} else {
			timer.Reset(p.config.PollInterval)
		}
	}
}

// RunOnce claims and processes a single job. It reports false when the queue
// had nothing ready.
func (p *Pool) RunOnce(ctx context.Context) (bool, error) {
	return p.processNext(ctx, p.log)
}

func (p *Pool) processNext(ctx context.Context, log zerolog.Logger) (bool, error) {
	job, err := p.queue.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	// Once claimed, a job runs to completion even if the pool is stopping.
	return true, p.execute(context.WithoutCancel(ctx), job, log)
}

func (p *Pool) execute(ctx context.Context, job *models.Job, log zerolog.Logger) error {
	log = log.With().
		Str("job_id", job.ID.String()).
		Str("job_type", string(job.Type)).
		Int("attempt", job.Attempts).
		Logger()

	p.mu.RLock()
	handler, ok := p.handlers[job.Type]
	p.mu.RUnlock()
	if !ok {
		metrics.JobsProcessed.WithLabelValues("unknown", "unknown_type").Inc()
		log.Error().Bool("config_error", true).Msg("no handler registered for job type")
		failed, err := p.queue.Nack(ctx, job.ID, job.Attempts, jobqueue.Permanent(fmt.Errorf("%w %q", ErrUnknownJobType, job.Type)))
		if lost(err) {
			p.discard(job, err, log)
			return nil
		}
		if err != nil {
			return fmt.Errorf("nack job %s: %w", job.ID, err)
		}
		p.archive(ctx, failed, log)
		return nil
	}

	start := time.Now()
	runErr := p.run(ctx, handler, job, log)
	metrics.JobDuration.WithLabelValues(string(job.Type)).Observe(time.Since(start).Seconds())

	if runErr == nil {
		done, err := p.queue.Ack(ctx, job.ID, job.Attempts)
		if lost(err) {
			p.discard(job, err, log)
			return nil
		}
		if err != nil {
			return fmt.Errorf("ack job %s: %w", job.ID, err)
		}
		metrics.JobsProcessed.WithLabelValues(string(job.Type), "completed").Inc()
		log.Info().Dur("took", time.Since(start)).Msg("job completed")
		p.archive(ctx, done, log)
		return nil
	}

	updated, err := p.queue.Nack(ctx, job.ID, job.Attempts, runErr)
	if lost(err) {
		p.discard(job, err, log)
		return nil
	}
	if err != nil {
		return fmt.Errorf("nack job %s: %w", job.ID, err)
	}
	if updated.Status == models.JobStatusFailed {
		metrics.JobsProcessed.WithLabelValues(string(job.Type), "failed").Inc()
		log.Error().Err(runErr).Bool("permanent", jobqueue.IsPermanent(runErr)).Msg("job failed")
		p.archive(ctx, updated, log)
		return nil
	}
	metrics.JobsProcessed.WithLabelValues(string(job.Type), "retry").Inc()
	log.Warn().Err(runErr).Msg("job attempt failed, will retry")
	return nil
}

// run invokes the handler under the job deadline and keeps the claim alive
// until the handler returns, so the reaper never hands a running job to
// another worker.
func (p *Pool) run(ctx context.Context, h Handler, job *models.Job, log zerolog.Logger) error {
	if timeout := p.config.jobTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if interval := p.config.VisibilityTimeout / 3; interval > 0 {
		stop := p.holdClaim(job, interval, log)
		defer stop()
	}
	return invoke(ctx, h, job)
}

// holdClaim renews job's claim every interval until the returned func is called.
func (p *Pool) holdClaim(job *models.Job, interval time.Duration, log zerolog.Logger) (stop func()) {
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				err := p.queue.Extend(context.Background(), job.ID, job.Attempts)
				if lost(err) {
					log.Warn().Err(err).Msg("claim lost while handler is running")
					return
				}
				if err != nil {
					log.Error().Err(err).Msg("failed to renew claim")
				}
			}
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}

// lost reports whether err means the worker no longer holds the job.
func lost(err error) bool {
	return errors.Is(err, jobqueue.ErrClaimLost) || errors.Is(err, jobqueue.ErrNotActive)
}

func (p *Pool) discard(job *models.Job, err error, log zerolog.Logger) {
	metrics.JobsProcessed.WithLabelValues(string(job.Type), "claim_lost").Inc()
	log.Warn().Err(err).Msg("job was reclaimed before it finished, result discarded")
}

// invoke runs h, turning a panic into an ordinary execution error.
func invoke(ctx context.Context, h Handler, job *models.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, job)
}

func (p *Pool) archive(ctx context.Context, job *models.Job, log zerolog.Logger) {
	if p.archiver == nil || job == nil || !job.Status.IsTerminal() {
		return
	}
	if err := p.archiver.ArchiveJob(ctx, job); err != nil {
		log.Error().Err(err).Msg("failed to archive job")
	}
}
