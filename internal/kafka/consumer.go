package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/ariefcatur/go-marketplace-ledger/internal/observability"
	"github.com/segmentio/kafka-go"
)

const (
	retryBackoff    = 200 * time.Millisecond
	maxRetryBackoff = 5 * time.Second
)

// Handler returns nil only when the message was processed and its offset
// may be committed.
type Handler func(ctx context.Context, m kafka.Message) error

type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer runs a handler over a consumer group topic with a fixed pool of
// workers. Each partition is owned by one worker, which retries a failing
// message until it succeeds, so offsets are committed in order and a failed
// message is never skipped.
type Consumer struct {
	r          reader
	workers    int
	logger     *observability.Logger
	backoff    time.Duration
	maxBackoff time.Duration
}

func NewConsumer(brokers []string, group, topic string, workers int, logger *observability.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	return newConsumer(r, workers, logger)
}

func newConsumer(r reader, workers int, logger *observability.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Consumer{r: r, workers: workers, logger: logger, backoff: retryBackoff, maxBackoff: maxRetryBackoff}
}

// Start consumes until ctx ends or the reader fails. It returns after every
// worker has stopped and the reader is closed.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	jobs := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	for i := range jobs {
		jobs[i] = make(chan kafka.Message, 64)
		wg.Add(1)
		go func(in <-chan kafka.Message) {
			defer wg.Done()
			for m := range in {
				if !c.process(ctx, h, m) {
					return
				}
			}
		}(jobs[i])
	}
	stop := func() {
		for _, ch := range jobs {
			close(ch)
		}
		wg.Wait()
		_ = c.r.Close()
	}

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			stop()
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case jobs[m.Partition%c.workers] <- m:
		case <-ctx.Done():
			stop()
			return nil
		}
	}
}

// process runs h on m until it succeeds and m is committed. It returns
// false when ctx ends first; m then stays uncommitted and is delivered again
// to whoever consumes the partition next.
func (c *Consumer) process(ctx context.Context, h Handler, m kafka.Message) bool {
	delay := c.backoff
	for attempt := 1; ; attempt++ {
		err := h(ctx, m)
		if err == nil {
			if err = c.r.CommitMessages(ctx, m); err == nil {
				return true
			}
		}
		if ctx.Err() != nil {
			return false
		}
		c.logger.WarnWithError(observability.WithFields(ctx,
			observability.Field{Key: "topic", Value: m.Topic},
			observability.Field{Key: "partition", Value: m.Partition},
			observability.Field{Key: "offset", Value: m.Offset},
			observability.Field{Key: "attempt", Value: attempt},
		), "message failed, retrying", err)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return false
		case <-t.C:
		}
		delay = min(delay*2, c.maxBackoff)
	}
}
