package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-marketplace-ledger/internal/events"
	"github.com/ariefcatur/go-marketplace-ledger/internal/observability"
	amqp "github.com/rabbitmq/amqp091-go"
)

const dialAttempts = 10

// confirmation is the broker's answer to one publish.
type confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

// Publisher sends outbox records to one durable queue on the default
// exchange. Consumers route on the message type and topic header. The
// channel runs in confirm mode and Publish returns once the broker acked.
type Publisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
	publish func(ctx context.Context, msg amqp.Publishing) (confirmation, error)
}

func NewPublisher(ctx context.Context, url, queue string, logger *observability.Logger) (*Publisher, error) {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	var conn *amqp.Connection
	var err error

	// the broker is often still starting when the worker comes up
	for i := 1; i <= dialAttempts; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		logger.WarnWithError(observability.WithFields(ctx,
			observability.Field{Key: "attempt", Value: i},
		), "rabbitmq dial failed, retrying", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	_, err = ch.QueueDeclare(
		queue, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}
	p := &Publisher{conn: conn, channel: ch, queue: queue}
	p.publish = func(ctx context.Context, msg amqp.Publishing) (confirmation, error) {
		dc, err := ch.PublishWithDeferredConfirmWithContext(ctx,
			"",    // exchange
			queue, // routing key
			false, // mandatory
			false, // immediate
			msg,
		)
		if err != nil {
			return nil, err
		}
		if dc == nil {
			return nil, errors.New("channel is not in confirm mode")
		}
		return dc, nil
	}
	return p, nil
}

func (p *Publisher) Publish(ctx context.Context, r events.Record) error {
	conf, err := p.publish(ctx, toPublishing(r))
	if err != nil {
		return fmt.Errorf("rabbitmq publish %s: %w", r.ID, err)
	}
	acked, err := conf.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("rabbitmq confirm %s: %w", r.ID, err)
	}
	if !acked {
		return fmt.Errorf("rabbitmq publish %s: nacked by broker", r.ID)
	}
	return nil
}

func (p *Publisher) Close() error {
	if err := p.channel.Close(); err != nil {
		p.conn.Close()
		return err
	}
	return p.conn.Close()
}

func toPublishing(r events.Record) amqp.Publishing {
	return amqp.Publishing{
		MessageId:    r.ID,
		Type:         r.EventType,
		ContentType:  "application/json",
		Timestamp:    r.CreatedAt,
		Body:         r.Body,
		DeliveryMode: amqp.Persistent,
		Headers: amqp.Table{
			"topic":         r.Topic,
			"partition_key": r.Key,
		},
	}
}
