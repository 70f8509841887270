// Package bootstrap opens the backends selected by configuration.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/ariefcatur/go-marketplace-ledger/internal/config"
	kafkax "github.com/ariefcatur/go-marketplace-ledger/internal/kafka"
	"github.com/ariefcatur/go-marketplace-ledger/internal/ledger"
	"github.com/ariefcatur/go-marketplace-ledger/internal/memstore"
	"github.com/ariefcatur/go-marketplace-ledger/internal/mongostore"
	"github.com/ariefcatur/go-marketplace-ledger/internal/observability"
	"github.com/ariefcatur/go-marketplace-ledger/internal/outbox"
	"github.com/ariefcatur/go-marketplace-ledger/internal/postgres"
	"github.com/ariefcatur/go-marketplace-ledger/internal/rabbitmq"
)

// Store is a ledger store that also backs the outbox relay.
type Store interface {
	ledger.Store
	outbox.Source
}

// OpenStore connects to the configured store. The returned close function
// releases it.
func OpenStore(ctx context.Context, cfg config.Config, logger *observability.Logger) (Store, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres connect: %w", err)
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return postgres.NewStore(pool), pool.Close, nil

	case config.DriverMongo:
		s, err := mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, nil, fmt.Errorf("mongo connect: %w", err)
		}
		if err := s.EnsureIndexes(ctx); err != nil {
			_ = s.Close(ctx)
			return nil, nil, err
		}
		return s, func() { _ = s.Close(context.Background()) }, nil

	case config.DriverMemory:
		logger.Warn(ctx, "using in-memory store; nothing survives a restart")
		return memstore.New(), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

// OpenPublisher connects to the configured event sink.
func OpenPublisher(ctx context.Context, cfg config.Config, logger *observability.Logger) (outbox.Publisher, func(), error) {
	switch cfg.EventSink {
	case config.SinkKafka:
		p := kafkax.NewProducer(cfg.KafkaBrokers)
		return p, func() { _ = p.Close() }, nil
	case config.SinkRabbitMQ:
		p, err := rabbitmq.NewPublisher(ctx, cfg.RabbitMQURL, cfg.RabbitMQQueue, logger)
		if err != nil {
			return nil, nil, err
		}
		return p, func() { _ = p.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown event sink %q", cfg.EventSink)
}
