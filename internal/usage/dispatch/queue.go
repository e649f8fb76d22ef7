package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/fortuna/internal/usage/domain"
)

const DefaultQueueKey = "fortuna:usage:jobs"

var ErrQueueFull = errors.New("usage_queue_full")

func newJob(unit *domain.Unit, now time.Time) domain.Job {
	return domain.Job{
		ID:         ulid.Make().String(),
		UnitID:     unit.ID,
		AccountID:  unit.AccountID,
		Kind:       unit.Kind,
		Prompt:     unit.Prompt,
		Locale:     unit.Locale,
		EnqueuedAt: now.UTC(),
	}
}

// RedisQueue is a FIFO list: LPUSH on dispatch, BRPOP on dequeue.
type RedisQueue struct {
	client *redis.Client
	key    string
	now    func() time.Time
}

func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	key = strings.TrimSpace(key)
	if key == "" {
		key = DefaultQueueKey
	}
	return &RedisQueue{client: client, key: key, now: time.Now}
}

func (q *RedisQueue) Dispatch(ctx context.Context, unit *domain.Unit) error {
	if unit == nil {
		return errors.New("usage unit is nil")
	}
	payload, err := json.Marshal(newJob(unit, q.now()))
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("enqueue usage unit %s: %w", unit.ID, err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, wait time.Duration) (*domain.Job, error) {
	res, err := q.client.BRPop(ctx, wait, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrQueueEmpty
	}
	if err != nil {
		return nil, err
	}
	// BRPOP replies with [key, value].
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected BRPOP reply of %d elements", len(res))
	}
	return decodeJob([]byte(res[1]))
}

func decodeJob(payload []byte) (*domain.Job, error) {
	var job domain.Job
	if err := json.Unmarshal(payload, &job); err != nil {
		return nil, fmt.Errorf("decode usage job: %w", err)
	}
	if job.UnitID == 0 {
		return nil, fmt.Errorf("decode usage job: missing unit id")
	}
	return &job, nil
}

// InlineQueue keeps jobs in process. Jobs are lost on restart; the stale
// pending sweep picks their units up again.
type InlineQueue struct {
	jobs chan domain.Job
	now  func() time.Time
}

func NewInlineQueue(size int) *InlineQueue {
	if size <= 0 {
		size = 256
	}
	return &InlineQueue{jobs: make(chan domain.Job, size), now: time.Now}
}

func (q *InlineQueue) Dispatch(ctx context.Context, unit *domain.Unit) error {
	if unit == nil {
		return errors.New("usage unit is nil")
	}
	select {
	case q.jobs <- newJob(unit, q.now()):
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *InlineQueue) Dequeue(ctx context.Context, wait time.Duration) (*domain.Job, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case job := <-q.jobs:
		return &job, nil
	case <-timer.C:
		return nil, domain.ErrQueueEmpty
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len reports the number of buffered jobs.
func (q *InlineQueue) Len() int {
	return len(q.jobs)
}
