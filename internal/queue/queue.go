package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sempr/labjudge/internal/errs"
	"github.com/sempr/labjudge/pkg/models"
)

// ErrEmpty is returned by Dequeue when no job is waiting.
var ErrEmpty = errors.New("queue is empty")

// JobQueue is a durable FIFO shared by producers and workers. Each enqueued
// job is handed to exactly one Dequeue caller.
type JobQueue interface {
	Enqueue(ctx context.Context, job *models.Job) error
	// Dequeue never blocks waiting for work; it returns ErrEmpty instead.
	Dequeue(ctx context.Context) (*models.Job, error)
	// Len is the number of jobs waiting.
	Len(ctx context.Context) (int64, error)
	Close() error
}

type Options struct {
	Backend       string // "redis" (default) or "amqp"
	RedisAddr     string
	RedisPassword string
	Name          string
	AMQPURL       string
}

// New is a factory for the JobQueue selected by opts.Backend.
func New(ctx context.Context, opts Options) (JobQueue, error) {
	switch opts.Backend {
	case "", "redis":
		return NewRedisQueue(ctx, opts)
	case "amqp":
		return NewAMQPQueue(ctx, opts)
	}
	return nil, fmt.Errorf("unknown queue backend %q", opts.Backend)
}

func encode(job *models.Job) ([]byte, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("encode job: %w", err)
	}
	return data, nil
}

// decode turns a raw payload into a job. Payloads that do not parse or miss
// required fields are reported as MalformedJob; the payload is already gone
// from the queue by then.
func decode(data []byte) (*models.Job, error) {
	var job models.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, errs.Wrap(errs.MalformedJob, "unparseable job payload", err)
	}
	if err := job.Validate(); err != nil {
		return nil, errs.Wrap(errs.MalformedJob, "invalid job", err)
	}
	return &job, nil
}
