package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/sempr/labjudge/internal/errs"
	"github.com/sempr/labjudge/pkg/constants"
	"github.com/sempr/labjudge/pkg/models"
)

// RedisQueue keeps jobs in a Redis list: LPUSH at the tail, RPOP at the head.
// RPOP is atomic, so concurrent workers never receive the same job.
type RedisQueue struct {
	client *redis.Client
	qname  string
}

func NewRedisQueue(ctx context.Context, opts Options) (*RedisQueue, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.RedisAddr,
		Password: opts.RedisPassword,
		DB:       0,
	})
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		rdb.Close()
		return nil, errs.Wrap(errs.QueueUnavailable, "could not connect to Redis", err)
	}
	return NewRedisQueueFromClient(rdb, opts.Name), nil
}

// NewRedisQueueFromClient wraps an existing client. The queue takes
// ownership of rdb and closes it on Close.
func NewRedisQueueFromClient(rdb *redis.Client, name string) *RedisQueue {
	if name == "" {
		name = constants.DefaultQueueName
	}
	return &RedisQueue{client: rdb, qname: name}
}

func (q *RedisQueue) Enqueue(ctx context.Context, job *models.Job) error {
	data, err := encode(job)
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.qname, data).Err(); err != nil {
		return errs.Wrap(errs.QueueUnavailable, fmt.Sprintf("lpush %s", q.qname), err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (*models.Job, error) {
	data, err := q.client.RPop(ctx, q.qname).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, errs.Wrap(errs.QueueUnavailable, fmt.Sprintf("rpop %s", q.qname), err)
	}
	return decode(data)
}

func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.qname).Result()
	if err != nil {
		return 0, errs.Wrap(errs.QueueUnavailable, fmt.Sprintf("llen %s", q.qname), err)
	}
	return n, nil
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}
