package worker

import (
	"context"
	"time"

	"claimhub/backend/internal/models"
)

func (p *Pool) runReaper(ctx context.Context) {
	interval := p.config.VisibilityTimeout / 2
	if interval <= 0 {
		interval = p.config.VisibilityTimeout
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.Reap(ctx); err != nil && ctx.Err() == nil {
				p.log.Error().Err(err).Msg("reclaim failed")
			}
		}
	}
}

// Reap takes back jobs whose worker has held them longer than the visibility
// timeout. Jobs that were out of attempts are failed and archived.
func (p *Pool) Reap(ctx context.Context) ([]*models.Job, error) {
	jobs, err := p.queue.Reclaim(ctx, p.config.VisibilityTimeout)
	if err != nil {
		return nil, err
	}
	for _, job := range jobs {
		log := p.log.With().
			Str("job_id", job.ID.String()).
			Str("job_type", string(job.Type)).
			Int("attempt", job.Attempts).
			Logger()
		if job.Status == models.JobStatusFailed {
			log.Error().Msg("stale job failed, no attempts left")
			p.archive(ctx, job, log)
			continue
		}
		log.Warn().Msg("stale job returned to queue")
	}
	return jobs, nil
}
