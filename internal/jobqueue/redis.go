package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"claimhub/backend/internal/metrics"
	"claimhub/backend/internal/models"

	"github.com/redis/go-redis/v9"
)

// claimCheck returns -1 for an unknown job, -2 for a job that is not active
// and -3 when the attempt is no longer the job's current claim.
const claimCheck = `
local key = ARGV[1] .. ARGV[2]
local status = redis.call('HGET', key, 'status')
if not status then
	return -1
end
if status ~= 'active' then
	return -2
end
local attempts = tonumber(redis.call('HGET', key, 'attempts') or '0')
if attempts ~= tonumber(ARGV[3]) then
	return -3
end
`

// Every state change that must be atomic runs as a Lua script, so several
// server processes can share one queue.
var (
	// KEYS: seq, pending. ARGV: job key prefix, type, payload, now (ms).
	enqueueScript = redis.NewScript(`
local id = redis.call('INCR', KEYS[1])
local key = ARGV[1] .. id
redis.call('HSET', key, 'id', id, 'type', ARGV[2], 'payload', ARGV[3], 'attempts', 0,
	'status', 'pending', 'created_at', ARGV[4], 'updated_at', ARGV[4])
redis.call('RPUSH', KEYS[2], id)
return id
`)

	// KEYS: pending, delayed, active. ARGV: job key prefix, now (ms).
	dequeueScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[2])
for _, id in ipairs(due) do
	redis.call('ZREM', KEYS[2], id)
	redis.call('RPUSH', KEYS[1], id)
end
local id = redis.call('LPOP', KEYS[1])
if not id then
	return false
end
local key = ARGV[1] .. id
redis.call('HSET', key, 'status', 'active', 'claimed_at', ARGV[2], 'updated_at', ARGV[2])
redis.call('HINCRBY', key, 'attempts', 1)
redis.call('ZADD', KEYS[3], ARGV[2], id)
return id
`)

	// KEYS: active, completed. ARGV: job key prefix, id, attempt, now (ms).
	ackScript = redis.NewScript(claimCheck + `
redis.call('ZREM', KEYS[1], ARGV[2])
redis.call('HSET', key, 'status', 'completed', 'finished_at', ARGV[4], 'updated_at', ARGV[4])
redis.call('ZADD', KEYS[2], ARGV[4], ARGV[2])
return 1
`)

	// KEYS: active, pending, delayed, failed.
	// ARGV: job key prefix, id, attempt, now (ms), error, retry ceiling,
	// permanent ("1"|"0"), ready at (ms, 0 for immediately).
	nackScript = redis.NewScript(claimCheck + `
redis.call('ZREM', KEYS[1], ARGV[2])
redis.call('RPUSH', key .. ':errors', ARGV[5])
if ARGV[7] == '1' or attempts >= tonumber(ARGV[6]) then
	redis.call('HSET', key, 'status', 'failed', 'last_error', ARGV[5], 'finished_at', ARGV[4], 'updated_at', ARGV[4])
	redis.call('ZADD', KEYS[4], ARGV[4], ARGV[2])
	return 1
end
redis.call('HSET', key, 'status', 'pending', 'last_error', ARGV[5], 'updated_at', ARGV[4])
redis.call('HDEL', key, 'claimed_at')
if tonumber(ARGV[8]) > tonumber(ARGV[4]) then
	redis.call('ZADD', KEYS[3], ARGV[8], ARGV[2])
else
	redis.call('RPUSH', KEYS[2], ARGV[2])
end
return 1
`)

	// KEYS: active. ARGV: job key prefix, id, attempt, now (ms).
	extendScript = redis.NewScript(claimCheck + `
redis.call('HSET', key, 'claimed_at', ARGV[4], 'updated_at', ARGV[4])
redis.call('ZADD', KEYS[1], ARGV[4], ARGV[2])
return 1
`)

	// KEYS: active, pending, failed.
	// ARGV: job key prefix, cutoff (ms), now (ms), retry ceiling, error.
	reclaimScript = redis.NewScript(`
local stale = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[2])
for _, id in ipairs(stale) do
	local key = ARGV[1] .. id
	redis.call('ZREM', KEYS[1], id)
	redis.call('RPUSH', key .. ':errors', ARGV[5])
	local attempts = tonumber(redis.call('HGET', key, 'attempts') or '0')
	if attempts >= tonumber(ARGV[4]) then
		redis.call('HSET', key, 'status', 'failed', 'last_error', ARGV[5], 'finished_at', ARGV[3], 'updated_at', ARGV[3])
		redis.call('ZADD', KEYS[3], ARGV[3], id)
	else
		redis.call('HSET', key, 'status', 'pending', 'last_error', ARGV[5], 'updated_at', ARGV[3])
		redis.call('HDEL', key, 'claimed_at')
		redis.call('RPUSH', KEYS[2], id)
	end
end
return stale
`)
)

// RedisQueue is a durable Queue stored in Redis under a key prefix:
//
//	<prefix>:seq         job id counter
//	<prefix>:job:<id>    job hash; <prefix>:job:<id>:errors holds the attempt errors
//	<prefix>:pending     list of ready job ids, FIFO
//	<prefix>:delayed     zset of job ids waiting out a backoff, scored by ready time
//	<prefix>:active      zset of claimed job ids, scored by claim time
//	<prefix>:completed   zset of completed job ids, scored by finish time
//	<prefix>:failed      zset of failed job ids, scored by finish time
type RedisQueue struct {
	rdb  redis.UniversalClient
	opts Options

	keySeq, keyPending, keyDelayed, keyActive, keyCompleted, keyFailed string
	jobPrefix                                                          string
}

func NewRedisQueue(rdb redis.UniversalClient, prefix string, opts Options) *RedisQueue {
	if prefix == "" {
		prefix = "jobs"
	}
	return &RedisQueue{
		rdb:          rdb,
		opts:         opts.withDefaults(),
		keySeq:       prefix + ":seq",
		keyPending:   prefix + ":pending",
		keyDelayed:   prefix + ":delayed",
		keyActive:    prefix + ":active",
		keyCompleted: prefix + ":completed",
		keyFailed:    prefix + ":failed",
		jobPrefix:    prefix + ":job:",
	}
}

func (q *RedisQueue) nowMillis() int64 {
	return q.opts.Now().UnixMilli()
}

func (q *RedisQueue) Enqueue(ctx context.Context, typ models.JobType, payload models.Payload) (models.JobID, error) {
	if typ == "" {
		return 0, ErrEmptyJobType
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("encode payload: %w", err)
	}
	id, err := enqueueScript.Run(ctx, q.rdb,
		[]string{q.keySeq, q.keyPending},
		q.jobPrefix, string(typ), string(body), q.nowMillis(),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("enqueue %s job: %w", typ, err)
	}
	metrics.JobsEnqueued.WithLabelValues(string(typ)).Inc()
	return models.JobID(id), nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (*models.Job, error) {
	raw, err := dequeueScript.Run(ctx, q.rdb,
		[]string{q.keyPending, q.keyDelayed, q.keyActive},
		q.jobPrefix, q.nowMillis(),
	).Text()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	id, err := models.ParseJobID(raw)
	if err != nil {
		return nil, err
	}
	return q.Get(ctx, id)
}

func (q *RedisQueue) Ack(ctx context.Context, id models.JobID, attempt int) (*models.Job, error) {
	res, err := ackScript.Run(ctx, q.rdb,
		[]string{q.keyActive, q.keyCompleted},
		q.jobPrefix, id.String(), attempt, q.nowMillis(),
	).Int64()
	if err != nil {
		return nil, fmt.Errorf("ack job %s: %w", id, err)
	}
	if err := scriptStatus(res); err != nil {
		return nil, err
	}
	return q.Get(ctx, id)
}

// Nack leaves the retry decision to the script, which sees the attempt count
// and the status in the same atomic step. Only the backoff delay comes from
// here; the claim check guarantees attempt is the count the script compares.
func (q *RedisQueue) Nack(ctx context.Context, id models.JobID, attempt int, cause error) (*models.Job, error) {
	now := q.opts.Now()
	permanent, ready := "0", int64(0)
	if IsPermanent(cause) {
		permanent = "1"
	}
	if at := q.opts.retryAt(attempt, now); !at.IsZero() {
		ready = at.UnixMilli()
	}

	res, err := nackScript.Run(ctx, q.rdb,
		[]string{q.keyActive, q.keyPending, q.keyDelayed, q.keyFailed},
		q.jobPrefix, id.String(), attempt, now.UnixMilli(), errorText(cause),
		q.opts.RetryCeiling, permanent, ready,
	).Int64()
	if err != nil {
		return nil, fmt.Errorf("nack job %s: %w", id, err)
	}
	if err := scriptStatus(res); err != nil {
		return nil, err
	}
	return q.Get(ctx, id)
}

func (q *RedisQueue) Extend(ctx context.Context, id models.JobID, attempt int) error {
	res, err := extendScript.Run(ctx, q.rdb,
		[]string{q.keyActive},
		q.jobPrefix, id.String(), attempt, q.nowMillis(),
	).Int64()
	if err != nil {
		return fmt.Errorf("extend job %s: %w", id, err)
	}
	return scriptStatus(res)
}

func (q *RedisQueue) Reclaim(ctx context.Context, olderThan time.Duration) ([]*models.Job, error) {
	now := q.opts.Now()
	ids, err := reclaimScript.Run(ctx, q.rdb,
		[]string{q.keyActive, q.keyPending, q.keyFailed},
		q.jobPrefix, now.Add(-olderThan).UnixMilli(), now.UnixMilli(), q.opts.RetryCeiling, reclaimReason,
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("reclaim: %w", err)
	}

	out := make([]*models.Job, 0, len(ids))
	for _, raw := range ids {
		id, err := models.ParseJobID(raw)
		if err != nil {
			return out, err
		}
		job, err := q.Get(ctx, id)
		if err != nil {
			return out, err
		}
		out = append(out, job)
	}
	return out, nil
}

func (q *RedisQueue) Get(ctx context.Context, id models.JobID) (*models.Job, error) {
	key := q.jobPrefix + id.String()
	var (
		fields *redis.MapStringStringCmd
		errs   *redis.StringSliceCmd
	)
	_, err := q.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		fields = p.HGetAll(ctx, key)
		errs = p.LRange(ctx, key+":errors", 0, -1)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	if len(fields.Val()) == 0 {
		return nil, ErrJobNotFound
	}
	return decodeJob(fields.Val(), errs.Val())
}

func (q *RedisQueue) Stats(ctx context.Context) (Stats, error) {
	var pending, delayed, active, completed, failed *redis.IntCmd
	_, err := q.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		pending = p.LLen(ctx, q.keyPending)
		delayed = p.ZCard(ctx, q.keyDelayed)
		active = p.ZCard(ctx, q.keyActive)
		completed = p.ZCard(ctx, q.keyCompleted)
		failed = p.ZCard(ctx, q.keyFailed)
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	return Stats{
		Pending:   pending.Val() + delayed.Val(),
		Active:    active.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
	}, nil
}

func scriptStatus(res int64) error {
	switch res {
	case -1:
		return ErrJobNotFound
	case -2:
		return ErrNotActive
	case -3:
		return ErrClaimLost
	default:
		return nil
	}
}

func decodeJob(h map[string]string, errs []string) (*models.Job, error) {
	id, err := models.ParseJobID(h["id"])
	if err != nil {
		return nil, err
	}
	attempts, _ := strconv.Atoi(h["attempts"])
	job := &models.Job{
		ID:         id,
		Type:       models.JobType(h["type"]),
		Attempts:   attempts,
		Status:     models.JobStatus(h["status"]),
		LastError:  h["last_error"],
		CreatedAt:  millisTime(h["created_at"]),
		UpdatedAt:  millisTime(h["updated_at"]),
		ClaimedAt:  optionalMillisTime(h["claimed_at"]),
		FinishedAt: optionalMillisTime(h["finished_at"]),
	}
	if len(errs) > 0 {
		job.Errors = errs
	}
	if p := h["payload"]; p != "" && p != "null" {
		if err := json.Unmarshal([]byte(p), &job.Payload); err != nil {
			return nil, fmt.Errorf("decode payload of job %s: %w", id, err)
		}
	}
	return job, nil
}

func millisTime(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func optionalMillisTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t := millisTime(s)
	return &t
}
