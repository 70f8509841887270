package kafka

import (
	"testing"
	"time"

	"github.com/ariefcatur/go-marketplace-ledger/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToMessage(t *testing.T) {
	at := time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC)
	rec, err := events.NewRecord(events.EventBalanceAdjusted, "ledger", "o1", events.BalanceAdjustedPayload{UserID: "u1"}, at)
	require.NoError(t, err)

	m := toMessage(rec)
	assert.Equal(t, events.TopicBalanceAdjusted, m.Topic)
	assert.Equal(t, "o1", string(m.Key))
	assert.Equal(t, rec.Body, m.Value)
	assert.Equal(t, at, m.Time)
	assert.Equal(t, events.EventBalanceAdjusted, Header(m, HeaderEventType))
	assert.Equal(t, "1", Header(m, HeaderEventVersion))
	assert.Empty(t, Header(m, "x-missing"))
}
