package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/sempr/labjudge/internal/errs"
	"github.com/sempr/labjudge/internal/judge"
	"github.com/sempr/labjudge/internal/pubsub"
	"github.com/sempr/labjudge/internal/queue"
	"github.com/sempr/labjudge/pkg/constants"
	"github.com/sempr/labjudge/pkg/models"
)

// Worker manages the cycle of fetching and judging jobs, one at a time.
type Worker struct {
	cfg       *Config
	queue     queue.JobQueue
	publisher *pubsub.Publisher
	pipeline  *judge.Pipeline
}

func NewWorker(cfg *Config, q queue.JobQueue, publisher *pubsub.Publisher, pipeline *judge.Pipeline) *Worker {
	return &Worker{
		cfg:       cfg,
		queue:     q,
		publisher: publisher,
		pipeline:  pipeline,
	}
}

// Run starts the main worker loop. It returns when ctx is done, or in
// once mode as soon as the queue is found empty or unreachable.
func (w *Worker) Run(ctx context.Context) error {
	interval := w.cfg.PollInterval()
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			return nil
		}
		jobsProcessed, err := w.work(ctx)

		if w.cfg.Once && jobsProcessed == 0 {
			return err
		}
		if jobsProcessed > 0 {
			continue
		}

		// nothing to do, or the queue is down: wait before trying again
		slog.Debug("Sleeping", "duration", interval)
		timer.Reset(interval)
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
	}
}

// work performs a single iteration of fetching and judging.
func (w *Worker) work(ctx context.Context) (int, error) {
	job, err := w.queue.Dequeue(ctx)
	switch {
	case err == nil:
	case errors.Is(err, queue.ErrEmpty):
		return 0, nil
	case errs.IsCode(err, errs.MalformedJob):
		slog.Warn("dropping malformed job", "err", err)
		return 1, nil
	default:
		slog.Error("Could not get jobs", "err", err)
		return 0, err
	}

	w.process(ctx, job)
	if waiting, err := w.queue.Len(ctx); err == nil {
		slog.Debug("queue backlog", "waiting", waiting)
	}
	return 1, nil
}

// process runs the pipeline for one job and publishes exactly one terminal
// event, last, whatever happened along the way. Shutdown does not abort a
// job that has already been dequeued.
func (w *Worker) process(ctx context.Context, job *models.Job) (verdict *models.Verdict) {
	ctx = context.WithoutCancel(ctx)
	id := job.SubmissionID()
	topic := pubsub.SubmissionTopic(id)
	logger := slog.Default().With("submission_id", id)
	start := time.Now()
	logger.Info("Starting judgment", "tests", len(job.TestCases))

	defer func() {
		if r := recover(); r != nil {
			logger.Error("judgment panicked", "panic", r)
			verdict = judge.FailedVerdict(job, fmt.Errorf("internal error: %v", r))
		}
		if w.cfg.SaveOutput {
			if err := saveVerdict(job.WorkDir, verdict); err != nil {
				logger.Warn("could not save verdict file", "err", err)
			}
		}
		w.publish(ctx, logger, topic, models.Event{
			Kind:         constants.EventTerminal,
			SubmissionID: id,
			At:           time.Now(),
			Verdict:      verdict,
		})
		logger.Info("Judgment finished", "status", verdict.Status,
			"passed", len(verdict.Passed), "failed", len(verdict.Failed), "elapsed", time.Since(start))
	}()

	return w.pipeline.Run(ctx, job, func(ev models.Event) {
		w.publish(ctx, logger, topic, ev)
	})
}

// publish gives up after the publisher's retries; a lost event is logged
// and the job carries on.
func (w *Worker) publish(ctx context.Context, logger *slog.Logger, topic string, ev models.Event) {
	if err := w.publisher.Publish(ctx, topic, ev); err != nil {
		logger.Error("event lost", "kind", ev.Kind, "err", err)
	}
}

func saveVerdict(workDir string, v *models.Verdict) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(workDir, constants.VerdictFile), data, 0644)
}
