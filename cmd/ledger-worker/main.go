package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-marketplace-ledger/internal/bootstrap"
	"github.com/ariefcatur/go-marketplace-ledger/internal/config"
	"github.com/ariefcatur/go-marketplace-ledger/internal/events"
	kafkax "github.com/ariefcatur/go-marketplace-ledger/internal/kafka"
	"github.com/ariefcatur/go-marketplace-ledger/internal/observability"
	"github.com/ariefcatur/go-marketplace-ledger/internal/outbox"
	"github.com/ariefcatur/go-marketplace-ledger/internal/projector"
	"github.com/ariefcatur/go-marketplace-ledger/internal/redisx"
)

// The worker relays the outbox to the event sink and, when the sink is
// Kafka, consumes balance events to keep the balance cache fresh.
func main() {
	cfg, err := config.Load()
	name := cfg.ServiceName + "-worker"
	logger := observability.NewLogger(name)
	defer logger.Sync()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err != nil {
		logger.Fatal(ctx, "config", err)
	}

	store, closeStore, err := bootstrap.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal(ctx, "store", err)
	}
	defer closeStore()

	pub, closePub, err := bootstrap.OpenPublisher(ctx, cfg, logger)
	if err != nil {
		logger.Fatal(ctx, "publisher", err)
	}
	defer closePub()

	relay := outbox.NewRelay(store, pub, logger, cfg.OutboxPollInterval, cfg.OutboxBatchSize)
	go relay.Run(ctx)

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	if cfg.EventSink == config.SinkKafka {
		svc := &projector.Service{
			Dedup:  redisx.NewDedup(rdb, name),
			Cache:  redisx.NewBalanceCache(rdb),
			Logger: logger,
		}
		cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.WorkerGroup, events.TopicBalanceAdjusted, cfg.WorkerCount, logger)
		go func() {
			logger.Info(observability.WithFields(ctx,
				observability.Field{Key: "group", Value: cfg.WorkerGroup},
				observability.Field{Key: "topic", Value: events.TopicBalanceAdjusted},
				observability.Field{Key: "workers", Value: cfg.WorkerCount},
			), "balance consumer started")
			if err := cons.Start(ctx, svc.HandleBalanceAdjusted); err != nil {
				logger.Error(ctx, "consumer exit", err)
				cancel()
			}
		}()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	logger.Info(ctx, "shutting down worker")
	cancel()
	time.Sleep(500 * time.Millisecond)
}
