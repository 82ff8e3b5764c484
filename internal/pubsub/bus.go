// Package pubsub delivers pipeline events to whoever is listening at the
// moment they are published. Nothing is replayed: a listener sees only the
// messages published after its Subscribe returned, and at most once each.
package pubsub

import (
	"context"
	"errors"

	"github.com/sempr/labjudge/pkg/constants"
	"github.com/sempr/labjudge/pkg/models"
)

var ErrClosed = errors.New("bus is closed")

// Subscription is one listener on one topic. C is closed after the
// listener is unsubscribed or the bus is closed.
type Subscription struct {
	Topic string
	ID    string
	C     <-chan []byte
}

type Bus interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string) (*Subscription, error)
	// Unsubscribe is idempotent; unknown listeners are ignored.
	Unsubscribe(topic, listenerID string) error
	Close() error
}

// SubmissionTopic is the per-submission channel, "<studentId>-<questionId>".
func SubmissionTopic(id models.SubmissionID) string {
	return string(id)
}

func SessionTopic(labSessionID string) string {
	return constants.SessionTopicPrefix + labSessionID
}

const subscriberBuffer = 64

// offer delivers payload without blocking. A full buffer gives up its oldest
// messages instead, so the newest one always lands. The last message of a
// topic, such as a terminal event, is therefore never the one lost.
func offer(ch chan []byte, payload []byte) (evicted int) {
	for {
		select {
		case ch <- payload:
			return evicted
		default:
		}
		select {
		case <-ch:
			evicted++
		default:
		}
	}
}
