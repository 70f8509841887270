package rabbitmq

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ariefcatur/go-marketplace-ledger/internal/events"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToPublishing(t *testing.T) {
	r := events.Record{
		ID:        "evt-1",
		Topic:     events.TopicStatusChanged,
		Key:       "w1",
		EventType: events.EventStatusChanged,
		Body:      []byte(`{"event_id":"evt-1"}`),
		CreatedAt: time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
	}
	p := toPublishing(r)

	assert.Equal(t, "evt-1", p.MessageId)
	assert.Equal(t, events.EventStatusChanged, p.Type)
	assert.Equal(t, amqp.Persistent, p.DeliveryMode)
	assert.Equal(t, r.Body, p.Body)
	assert.Equal(t, events.TopicStatusChanged, p.Headers["topic"])
	assert.Equal(t, "w1", p.Headers["partition_key"])
	assert.NoError(t, p.Headers.Validate())
}

type fakeConfirm struct {
	acked bool
	err   error
}

func (f fakeConfirm) WaitContext(ctx context.Context) (bool, error) { return f.acked, f.err }

func TestPublishWaitsForBrokerAck(t *testing.T) {
	rec := events.Record{ID: "evt-2", EventType: events.EventBalanceAdjusted}
	tests := []struct {
		name    string
		conf    fakeConfirm
		sendErr error
		wantErr string
	}{
		{"acked", fakeConfirm{acked: true}, nil, ""},
		{"nacked", fakeConfirm{acked: false}, nil, "nacked"},
		{"confirm lost", fakeConfirm{err: context.DeadlineExceeded}, nil, "confirm evt-2"},
		{"send failed", fakeConfirm{}, errors.New("channel closed"), "publish evt-2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sent []amqp.Publishing
			p := &Publisher{queue: "ledger", publish: func(ctx context.Context, msg amqp.Publishing) (confirmation, error) {
				sent = append(sent, msg)
				if tt.sendErr != nil {
					return nil, tt.sendErr
				}
				return tt.conf, nil
			}}

			err := p.Publish(context.Background(), rec)
			require.Len(t, sent, 1)
			assert.Equal(t, "evt-2", sent[0].MessageId)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
