package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	EventStatusChanged       = "StatusChanged"
	EventBalanceAdjusted     = "BalanceAdjusted"
	EventWithdrawalRequested = "WithdrawalRequested"
)

const (
	TopicStatusChanged       = "ledger.status.changed"
	TopicBalanceAdjusted     = "ledger.balance.adjusted"
	TopicWithdrawalRequested = "ledger.withdrawal.requested"
)

var topics = map[string]string{
	EventStatusChanged:       TopicStatusChanged,
	EventBalanceAdjusted:     TopicBalanceAdjusted,
	EventWithdrawalRequested: TopicWithdrawalRequested,
}

// Envelope wraps every ledger event on the wire.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // document id
	Payload       json.RawMessage `json:"payload"`
}

type StatusChangedPayload struct {
	Entity     string `json:"entity"`
	DocumentID string `json:"document_id"`
	From       string `json:"from"`
	To         string `json:"to"`
	ActorID    string `json:"actor_id"`
}

type BalanceAdjustedPayload struct {
	UserID     string          `json:"user_id"`
	Field      string          `json:"field"`
	Delta      decimal.Decimal `json:"delta"`
	Balance    decimal.Decimal `json:"balance"`
	Reason     string          `json:"reason"` // effect key
	DocumentID string          `json:"document_id"`
}

type WithdrawalRequestedPayload struct {
	WithdrawalID string          `json:"withdrawal_id"`
	UserID       string          `json:"user_id"`
	Field        string          `json:"field"`
	Amount       decimal.Decimal `json:"amount"`
}

// Record is an envelope queued in the outbox, ready to publish.
type Record struct {
	ID        string
	Topic     string
	Key       string
	EventType string
	Body      []byte
	CreatedAt time.Time
}

// NewRecord builds an envelope around payload and serializes it for the
// outbox. The partition key is the correlation id so all events for one
// document keep their order.
func NewRecord(eventType, producer, correlationID string, payload any, at time.Time) (Record, error) {
	topic, ok := topics[eventType]
	if !ok {
		return Record{}, fmt.Errorf("unknown event type %q", eventType)
	}
	p, err := json.Marshal(payload)
	if err != nil {
		return Record{}, fmt.Errorf("encode payload: %w", err)
	}
	env := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    at.UTC(),
		Producer:      producer,
		CorrelationID: correlationID,
		Payload:       p,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return Record{}, fmt.Errorf("encode envelope: %w", err)
	}
	return Record{
		ID:        env.EventID,
		Topic:     topic,
		Key:       correlationID,
		EventType: eventType,
		Body:      body,
		CreatedAt: env.OccurredAt,
	}, nil
}

func Decode(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}

// UnwrapPayload decodes the type-specific payload of an envelope.
func UnwrapPayload[T any](payload json.RawMessage) (T, error) {
	var t T
	if err := json.Unmarshal(payload, &t); err != nil {
		return t, fmt.Errorf("decode payload: %w", err)
	}
	return t, nil
}
