package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/sempr/labjudge/internal/errs"
	"github.com/sempr/labjudge/pkg/constants"
)

// Publisher JSON-encodes values onto a Bus, retrying a bounded number of
// times when the bus is unreachable.
type Publisher struct {
	Bus     Bus
	Retries int
	Backoff time.Duration
}

func NewPublisher(bus Bus, retries int) *Publisher {
	if retries <= 0 {
		retries = constants.DefaultPublishRetry
	}
	return &Publisher{Bus: bus, Retries: retries, Backoff: 100 * time.Millisecond}
}

func (p *Publisher) Publish(ctx context.Context, topic string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message for %s: %w", topic, err)
	}

	var lastErr error
	for attempt := 1; attempt <= p.Retries; attempt++ {
		if lastErr = p.Bus.Publish(ctx, topic, data); lastErr == nil {
			return nil
		}
		slog.Warn("publish failed", "topic", topic, "attempt", attempt, "err", lastErr)
		if attempt == p.Retries {
			break
		}
		select {
		case <-ctx.Done():
			return errs.Wrap(errs.ChannelPublishFailure, topic, ctx.Err())
		case <-time.After(p.Backoff * time.Duration(attempt)):
		}
	}
	return errs.Wrap(errs.ChannelPublishFailure, fmt.Sprintf("%s after %d attempts", topic, p.Retries), lastErr)
}
