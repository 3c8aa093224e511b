package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"enforcement-engine/internal/config"
	"enforcement-engine/internal/models"
)

// RedisQueue coordinates per-kind ready lists and the shared in-flight lease
// set. Only job IDs pass through Redis; the durable rows stay in Postgres.
type RedisQueue struct {
	client        *redis.Client
	inflightKey   string
	jobMetaPrefix string
	visibilityTTL time.Duration
	dlqKey        string
}

// NewRedisQueue builds a queue client from config.
func NewRedisQueue(cfg config.Config) *RedisQueue {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	visibility := cfg.VisibilityTimeout
	if visibility == 0 {
		visibility = 30 * time.Second
	}
	dlq := cfg.DLQName
	if dlq == "" {
		dlq = "queue:dlq"
	}
	return &RedisQueue{
		client:        client,
		inflightKey:   "queue:inflight",
		jobMetaPrefix: "queue:jobmeta:",
		visibilityTTL: visibility,
		dlqKey:        dlq,
	}
}

// NewRedisQueueWithClient wires an existing client, used by tests.
func NewRedisQueueWithClient(client *redis.Client, visibility time.Duration) *RedisQueue {
	if visibility == 0 {
		visibility = 30 * time.Second
	}
	return &RedisQueue{
		client:        client,
		inflightKey:   "queue:inflight",
		jobMetaPrefix: "queue:jobmeta:",
		visibilityTTL: visibility,
		dlqKey:        "queue:dlq",
	}
}

func (q *RedisQueue) readyKey(kind string) string {
	return fmt.Sprintf("queue:ready:%s", kind)
}

func (q *RedisQueue) metaKey(jobID string) string {
	return q.jobMetaPrefix + jobID
}

// VisibilityTimeout exposes the configured lease duration.
func (q *RedisQueue) VisibilityTimeout() time.Duration {
	return q.visibilityTTL
}

// Push makes a job visible on its kind's ready list. The kind is recorded in
// job metadata so lease reclamation can route the ID back to the right list.
// Push is idempotent per job ID: a second Push while the ID is still tracked
// (ready or in-flight) is a no-op, so resubmitting after a partial failure
// cannot enqueue the same job twice.
func (q *RedisQueue) Push(ctx context.Context, jobID, kind string) error {
	if !models.ValidKind(kind) {
		return models.ErrInvalidKind
	}
	keys := []string{q.metaKey(jobID), q.readyKey(kind)}
	return pushScript.Run(ctx, q.client, keys, kind, jobID).Err()
}

// Dequeue pops one job ID of the given kind and moves it into the in-flight
// set with a fresh visibility deadline. The pop and the lease are one Lua
// script, so concurrent callers can never claim the same ID. Returns "" when
// the kind's ready list is empty.
func (q *RedisQueue) Dequeue(ctx context.Context, kind string) (string, error) {
	if !models.ValidKind(kind) {
		return "", models.ErrInvalidKind
	}
	keys := []string{q.readyKey(kind), q.inflightKey}
	res, err := dequeueScript.Run(ctx, q.client, keys, time.Now().Add(q.visibilityTTL).UnixMilli()).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	jobID, ok := res.(string)
	if !ok {
		return "", fmt.Errorf("unexpected type from dequeue script: %T", res)
	}
	return jobID, nil
}

// ExtendLease pushes the visibility deadline forward for an in-flight job.
func (q *RedisQueue) ExtendLease(ctx context.Context, jobID string, extension time.Duration) error {
	return q.client.ZAdd(ctx, q.inflightKey, redis.Z{
		Score:  float64(time.Now().Add(extension).UnixMilli()),
		Member: jobID,
	}).Err()
}

// Ack removes a job from in-flight tracking and drops its metadata. After
// this the ID can never be redelivered.
func (q *RedisQueue) Ack(ctx context.Context, jobID string) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.inflightKey, jobID)
	pipe.Del(ctx, q.metaKey(jobID))
	_, err := pipe.Exec(ctx)
	return err
}

// RequeueExpired reclaims leases whose visibility deadline passed, pushing
// each ID back onto its kind's ready list. Jobs with missing metadata are
// dropped from in-flight rather than redelivered blind.
func (q *RedisQueue) RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.inflightKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	requeued := make([]string, 0, len(ids))
	pipe := q.client.TxPipeline()
	for _, id := range ids {
		kind, err := q.client.HGet(ctx, q.metaKey(id), "kind").Result()
		pipe.ZRem(ctx, q.inflightKey, id)
		if err != nil || !models.ValidKind(kind) {
			pipe.Del(ctx, q.metaKey(id))
			continue
		}
		pipe.RPush(ctx, q.readyKey(kind), id)
		requeued = append(requeued, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return requeued, nil
}

// Remove drops a job from ready, in-flight, and metadata. Used when the
// durable row turns out to be gone or dead-lettered.
func (q *RedisQueue) Remove(ctx context.Context, jobID string) error {
	pipe := q.client.TxPipeline()
	for _, kind := range models.JobKinds {
		pipe.LRem(ctx, q.readyKey(kind), 0, jobID)
	}
	pipe.ZRem(ctx, q.inflightKey, jobID)
	pipe.Del(ctx, q.metaKey(jobID))
	_, err := pipe.Exec(ctx)
	return err
}

// DLQPush appends to the dead-letter list for operational inspection.
func (q *RedisQueue) DLQPush(ctx context.Context, jobID string) error {
	return q.client.RPush(ctx, q.dlqKey, jobID).Err()
}

// DLQPeek reads the oldest dead-lettered job IDs.
func (q *RedisQueue) DLQPeek(ctx context.Context, count int64) ([]string, error) {
	return q.client.LRange(ctx, q.dlqKey, 0, count-1).Result()
}

// ReadyDepth returns the total length of all ready lists.
func (q *RedisQueue) ReadyDepth(ctx context.Context) (int64, error) {
	pipe := q.client.Pipeline()
	cmds := make([]*redis.IntCmd, 0, len(models.JobKinds))
	for _, kind := range models.JobKinds {
		cmds = append(cmds, pipe.LLen(ctx, q.readyKey(kind)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	var total int64
	for _, c := range cmds {
		total += c.Val()
	}
	return total, nil
}

// InFlightCount returns how many jobs are currently leased.
func (q *RedisQueue) InFlightCount(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.inflightKey).Result()
}

var pushScript = redis.NewScript(`
if redis.call('HSETNX', KEYS[1], 'kind', ARGV[1]) == 1 then
  redis.call('RPUSH', KEYS[2], ARGV[2])
  return 1
end
return 0
`)

var dequeueScript = redis.NewScript(`
local job = redis.call('LPOP', KEYS[1])
if job then
  redis.call('ZADD', KEYS[2], ARGV[1], job)
  return job
end
return nil
`)
