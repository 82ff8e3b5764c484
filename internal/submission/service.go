// Package submission is the surface the API layer uses: it enqueues jobs,
// streams a submission's events back to the waiting caller, and records
// terminal verdicts.
package submission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sempr/labjudge/internal/pubsub"
	"github.com/sempr/labjudge/internal/queue"
	"github.com/sempr/labjudge/pkg/constants"
	"github.com/sempr/labjudge/pkg/models"
)

// ErrAwaitTimeout ends a stream whose terminal event never arrived.
var ErrAwaitTimeout = errors.New("timed out waiting for the terminal event")

type Service struct {
	queue        queue.JobQueue
	bus          pubsub.Bus
	recorder     *Recorder
	awaitTimeout time.Duration
}

func NewService(q queue.JobQueue, bus pubsub.Bus, recorder *Recorder, awaitTimeout time.Duration) *Service {
	if awaitTimeout <= 0 {
		awaitTimeout = constants.DefaultAwaitTimeout
	}
	return &Service{queue: q, bus: bus, recorder: recorder, awaitTimeout: awaitTimeout}
}

// Enqueue hands the job to the worker pool. Queue outages are returned as
// QueueUnavailable without retrying.
func (s *Service) Enqueue(ctx context.Context, job *models.Job) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("refusing to enqueue: %w", err)
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		return err
	}
	slog.Info("submission enqueued", "submission_id", job.SubmissionID(), "tests", len(job.TestCases))
	return nil
}

// Stream is the event sequence of one submission. C closes after the
// terminal event, on timeout, or when the caller's context ends; Err tells
// which.
type Stream struct {
	C   <-chan models.Event
	err error
}

// Err is valid once C is closed. It is nil when the terminal event arrived.
func (st *Stream) Err() error { return st.err }

// Await subscribes to the submission's channel. Only events published after
// it returns are seen, so callers subscribe before enqueueing.
func (s *Service) Await(ctx context.Context, id models.SubmissionID) (*Stream, error) {
	sub, err := s.bus.Subscribe(ctx, pubsub.SubmissionTopic(id))
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", id, err)
	}
	out := make(chan models.Event, 16)
	st := &Stream{C: out}
	go func() {
		defer close(out)
		defer s.bus.Unsubscribe(sub.Topic, sub.ID)
		st.err = s.forward(ctx, id, sub, out)
	}()
	return st, nil
}

// forward keeps reading the subscription while the caller is slow, holding
// events in pending, so the listener buffer never fills behind a lagging
// reader. Once the terminal event has arrived the await timeout no longer
// applies; only the caller's context can cut the hand-off short.
func (s *Service) forward(ctx context.Context, id models.SubmissionID, sub *pubsub.Subscription, out chan<- models.Event) error {
	timer := time.NewTimer(s.awaitTimeout)
	defer timer.Stop()
	timeout := timer.C
	in := sub.C
	closed := false
	var pending []models.Event

	for {
		var send chan<- models.Event
		var next models.Event
		if len(pending) > 0 {
			send, next = out, pending[0]
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout:
			slog.Warn("gave up waiting for verdict", "submission_id", id, "timeout", s.awaitTimeout)
			return ErrAwaitTimeout
		case send <- next:
			pending = pending[1:]
			if next.Kind == constants.EventTerminal {
				return nil
			}
			if closed && len(pending) == 0 {
				return pubsub.ErrClosed
			}
		case payload, ok := <-in:
			if !ok {
				if len(pending) == 0 {
					return pubsub.ErrClosed
				}
				in, closed = nil, true
				continue
			}
			var ev models.Event
			if err := json.Unmarshal(payload, &ev); err != nil {
				return fmt.Errorf("decode event on %s: %w", id, err)
			}
			pending = append(pending, ev)
			if ev.Kind == constants.EventTerminal {
				in, timeout = nil, nil
			}
		}
	}
}

// Submit subscribes, enqueues, and returns the event stream. When the
// terminal event passes through, its verdict is handed to the recorder
// before the stream closes. The caller must drain C.
func (s *Service) Submit(ctx context.Context, job *models.Job) (*Stream, error) {
	id := job.SubmissionID()
	sctx, cancel := context.WithCancel(ctx)
	st, err := s.Await(sctx, id)
	if err != nil {
		cancel()
		return nil, err
	}
	if err := s.Enqueue(ctx, job); err != nil {
		cancel()
		return nil, err
	}

	out := make(chan models.Event, 16)
	wrapped := &Stream{C: out}
	go func() {
		defer close(out)
		defer cancel()
		for ev := range st.C {
			if ev.Kind == constants.EventTerminal && ev.Verdict != nil && s.recorder != nil {
				if err := s.recorder.OnVerdict(context.WithoutCancel(ctx), ev.Verdict); err != nil {
					slog.Error("recording verdict failed", "submission_id", id, "err", err)
				}
			}
			out <- ev
		}
		wrapped.err = st.Err()
	}()
	return wrapped, nil
}
