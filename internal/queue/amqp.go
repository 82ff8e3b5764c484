package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sempr/labjudge/internal/errs"
	"github.com/sempr/labjudge/pkg/constants"
	"github.com/sempr/labjudge/pkg/models"
)

// AMQPQueue keeps jobs in a durable RabbitMQ queue. Dequeue uses basic.get,
// which returns immediately when the queue is empty, and acks only after the
// payload has been taken off the broker.
type AMQPQueue struct {
	mu    sync.Mutex
	conn  *amqp.Connection
	ch    *amqp.Channel
	qname string
}

func NewAMQPQueue(ctx context.Context, opts Options) (*AMQPQueue, error) {
	conn, err := amqp.Dial(opts.AMQPURL)
	if err != nil {
		return nil, errs.Wrap(errs.QueueUnavailable, "could not connect to RabbitMQ", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, errs.Wrap(errs.QueueUnavailable, "could not open channel", err)
	}
	name := opts.Name
	if name == "" {
		name = constants.DefaultQueueName
	}
	_, err = ch.QueueDeclare(
		name,  // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, errs.Wrap(errs.QueueUnavailable, "could not declare queue", err)
	}
	return &AMQPQueue{conn: conn, ch: ch, qname: name}, nil
}

func (q *AMQPQueue) Enqueue(ctx context.Context, job *models.Job) error {
	data, err := encode(job)
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	err = q.ch.PublishWithContext(ctx,
		"",
		q.qname,
		false,
		false, amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         data,
		})
	if err != nil {
		return errs.Wrap(errs.QueueUnavailable, fmt.Sprintf("publish %s", q.qname), err)
	}
	return nil
}

func (q *AMQPQueue) Dequeue(ctx context.Context) (*models.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	msg, ok, err := q.ch.Get(q.qname, false)
	if err != nil {
		return nil, errs.Wrap(errs.QueueUnavailable, fmt.Sprintf("get %s", q.qname), err)
	}
	if !ok {
		return nil, ErrEmpty
	}
	job, decodeErr := decode(msg.Body)
	if decodeErr != nil {
		// malformed payloads are dropped, never redelivered
		if err := msg.Nack(false, false); err != nil {
			slog.Warn("nack failed", "queue", q.qname, "err", err)
		}
		return nil, decodeErr
	}
	if err := msg.Ack(false); err != nil {
		return nil, errs.Wrap(errs.QueueUnavailable, "ack", err)
	}
	return job, nil
}

func (q *AMQPQueue) Len(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	info, err := q.ch.QueueDeclarePassive(q.qname, true, false, false, false, nil)
	if err != nil {
		return 0, errs.Wrap(errs.QueueUnavailable, fmt.Sprintf("inspect %s", q.qname), err)
	}
	return int64(info.Messages), nil
}

func (q *AMQPQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ch.Close()
	return q.conn.Close()
}
