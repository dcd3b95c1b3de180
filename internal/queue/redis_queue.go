package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"artwork-pipeline/internal/models"
)

// RedisQueue coordinates ready and in-flight generation jobs in Redis.
// Delivered jobs are held in an in-flight set with a visibility deadline, so a
// job is owned by at most one worker until it is acked, nacked, or its lease
// expires.
type RedisQueue struct {
	client          *redis.Client
	readyKey        string
	inflightKey     string
	jobMetaPrefix   string
	dlqKey          string
	visibilityTTL   time.Duration
	maxRedeliveries int
}

// Options configures a RedisQueue.
type Options struct {
	Name            string
	VisibilityTTL   time.Duration
	MaxRedeliveries int
	DLQName         string
}

// New builds a queue on top of an existing Redis client.
func New(client *redis.Client, opts Options) *RedisQueue {
	name := opts.Name
	if name == "" {
		name = "genjobs"
	}
	visibility := opts.VisibilityTTL
	if visibility == 0 {
		visibility = 3 * time.Minute
	}
	maxRedeliveries := opts.MaxRedeliveries
	if maxRedeliveries == 0 {
		maxRedeliveries = 3
	}
	dlq := opts.DLQName
	if dlq == "" {
		dlq = name + ":dlq"
	}
	return &RedisQueue{
		client:          client,
		readyKey:        name + ":ready",
		inflightKey:     name + ":inflight",
		jobMetaPrefix:   name + ":job:",
		dlqKey:          dlq,
		visibilityTTL:   visibility,
		maxRedeliveries: maxRedeliveries,
	}
}

func (q *RedisQueue) metaKey(jobID string) string {
	return q.jobMetaPrefix + jobID
}

// Delivery is a claimed job plus its delivery count. Attempt is 1 on the
// first delivery.
type Delivery struct {
	Descriptor models.JobDescriptor
	Attempt    int
}

// Exhausted reports whether this delivery used up the redelivery budget.
func (d Delivery) Exhausted(max int) bool {
	return d.Attempt >= max
}

// Enqueue stores the descriptor and pushes the job onto the ready queue.
func (q *RedisQueue) Enqueue(ctx context.Context, desc models.JobDescriptor) error {
	payload, err := json.Marshal(desc)
	if err != nil {
		return fmt.Errorf("marshal descriptor: %w", err)
	}
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.metaKey(desc.JobID), "payload", payload, "attempts", 0)
	pipe.RPush(ctx, q.readyKey, desc.JobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue job %s: %w", desc.JobID, err)
	}
	return nil
}

// Deliver pops one job from the ready queue and moves it in-flight with a
// visibility deadline. The delivery count is bumped atomically, so crashed
// and reclaimed deliveries still count against the redelivery budget.
// Returns nil when the queue is empty.
func (q *RedisQueue) Deliver(ctx context.Context) (*Delivery, error) {
	res, err := deliverScript.Run(ctx, q.client,
		[]string{q.readyKey, q.inflightKey},
		time.Now().Add(q.visibilityTTL).UnixMilli(), q.jobMetaPrefix,
	).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("deliver: %w", err)
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) != 3 {
		return nil, fmt.Errorf("unexpected deliver script result: %T", res)
	}
	jobID, _ := arr[0].(string)
	payload, _ := arr[1].(string)
	attempts, _ := arr[2].(int64)

	var desc models.JobDescriptor
	if err := json.Unmarshal([]byte(payload), &desc); err != nil {
		// Poisoned meta: drop the job rather than loop on it forever.
		_ = q.Ack(ctx, jobID)
		return nil, fmt.Errorf("decode descriptor for job %s: %w", jobID, err)
	}
	if desc.JobID == "" {
		desc.JobID = jobID
	}
	return &Delivery{Descriptor: desc, Attempt: int(attempts)}, nil
}

// Ack removes a completed job from in-flight tracking and its meta record.
func (q *RedisQueue) Ack(ctx context.Context, jobID string) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.inflightKey, jobID)
	pipe.Del(ctx, q.metaKey(jobID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ack job %s: %w", jobID, err)
	}
	return nil
}

// Nack returns a failed delivery to the queue. When the redelivery budget is
// spent the job goes to the dead-letter list instead and redelivered is false.
func (q *RedisQueue) Nack(ctx context.Context, d Delivery) (redelivered bool, err error) {
	jobID := d.Descriptor.JobID
	if d.Exhausted(q.maxRedeliveries) {
		pipe := q.client.TxPipeline()
		pipe.ZRem(ctx, q.inflightKey, jobID)
		pipe.Del(ctx, q.metaKey(jobID))
		pipe.RPush(ctx, q.dlqKey, jobID)
		if _, err := pipe.Exec(ctx); err != nil {
			return false, fmt.Errorf("dead-letter job %s: %w", jobID, err)
		}
		return false, nil
	}
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.inflightKey, jobID)
	pipe.RPush(ctx, q.readyKey, jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("requeue job %s: %w", jobID, err)
	}
	return true, nil
}

// RequeueExpired reclaims leases whose visibility deadline passed, making the
// jobs deliverable again. Returns the reclaimed job IDs.
func (q *RedisQueue) RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.inflightKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("scan expired leases: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	pipe := q.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, q.inflightKey, id)
		pipe.RPush(ctx, q.readyKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("requeue expired: %w", err)
	}
	return ids, nil
}

// ExtendLease pushes the visibility deadline forward for an in-flight job.
func (q *RedisQueue) ExtendLease(ctx context.Context, jobID string, extension time.Duration) error {
	return q.client.ZAdd(ctx, q.inflightKey, redis.Z{
		Score:  float64(time.Now().Add(extension).UnixMilli()),
		Member: jobID,
	}).Err()
}

// DLQPeek reads the oldest dead-lettered job IDs.
func (q *RedisQueue) DLQPeek(ctx context.Context, count int64) ([]string, error) {
	return q.client.LRange(ctx, q.dlqKey, 0, count-1).Result()
}

// ReadyDepth returns the length of the ready queue.
func (q *RedisQueue) ReadyDepth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.readyKey).Result()
}

// MaxRedeliveries exposes the configured redelivery budget.
func (q *RedisQueue) MaxRedeliveries() int {
	return q.maxRedeliveries
}

var deliverScript = redis.NewScript(`
local job = redis.call('LPOP', KEYS[1])
if not job then
  return nil
end
redis.call('ZADD', KEYS[2], ARGV[1], job)
local meta = ARGV[2] .. job
local attempts = redis.call('HINCRBY', meta, 'attempts', 1)
local payload = redis.call('HGET', meta, 'payload')
return {job, payload or '', attempts}
`)
