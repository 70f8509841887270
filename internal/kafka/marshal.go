package kafka

import (
	"github.com/ariefcatur/go-marketplace-ledger/internal/events"
	"github.com/segmentio/kafka-go"
)

const (
	HeaderEventType    = "x-event-type"
	HeaderEventVersion = "x-event-version"
)

// toMessage keys the message by document id so every event of one document
// lands on the same partition.
func toMessage(r events.Record) kafka.Message {
	return kafka.Message{
		Topic: r.Topic,
		Key:   []byte(r.Key),
		Value: r.Body,
		Time:  r.CreatedAt,
		Headers: []kafka.Header{
			{Key: HeaderEventType, Value: []byte(r.EventType)},
			{Key: HeaderEventVersion, Value: []byte("1")},
		},
	}
}

// Header returns the value of the first header named key.
func Header(m kafka.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
