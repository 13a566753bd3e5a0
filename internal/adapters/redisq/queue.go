// Package redisq provides the Redis-backed job queue adapter.
package redisq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/mstrycker/docexport/internal/errors"
)

// Queue is a Redis list used as a FIFO wake-up channel between admission and
// workers. Messages carry only the job id; the job store holds the payload
// and remains the source of truth for status.
type Queue struct {
	client redis.UniversalClient
	key    string
}

// NewQueue returns a queue backed by the given Redis list key.
func NewQueue(client redis.UniversalClient, key string) *Queue {
	return &Queue{client: client, key: key}
}

// Enqueue pushes the job id onto the queue.
func (q *Queue) Enqueue(ctx context.Context, jobID string) error {
	if jobID == "" {
		return errors.New("job id cannot be empty")
	}
	if err := q.client.LPush(ctx, q.key, jobID).Err(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeStorage, fmt.Sprintf("enqueue job %s", jobID))
	}
	return nil
}

// Dequeue blocks up to the given duration for the next job id. It returns an
// empty id when the wait elapsed without a message, so callers can re-check
// shutdown between waits.
func (q *Queue) Dequeue(ctx context.Context, block time.Duration) (string, error) {
	res, err := q.client.BRPop(ctx, block, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", apperrors.Wrap(err, apperrors.ErrCodeStorage, "dequeue job")
	}
	if len(res) != 2 {
		return "", nil
	}
	return res[1], nil
}

// Len reports the number of queued job ids.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrCodeStorage, "queue length")
	}
	return n, nil
}
