package kafka

import (
	"context"
	"fmt"

	"github.com/ariefcatur/go-marketplace-ledger/internal/events"
	"github.com/segmentio/kafka-go"
)

// Producer writes outbox records synchronously so the relay only marks a
// record published once the brokers acknowledged it.
type Producer struct {
	w *kafka.Writer
}

func NewProducer(brokers []string) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
	}
}

func (p *Producer) Publish(ctx context.Context, r events.Record) error {
	if err := p.w.WriteMessages(ctx, toMessage(r)); err != nil {
		return fmt.Errorf("kafka publish %s: %w", r.Topic, err)
	}
	return nil
}

func (p *Producer) Close() error { return p.w.Close() }
