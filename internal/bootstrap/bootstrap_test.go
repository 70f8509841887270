package bootstrap

import (
	"context"
	"testing"

	"github.com/ariefcatur/go-marketplace-ledger/internal/config"
	"github.com/ariefcatur/go-marketplace-ledger/internal/memstore"
	"github.com/ariefcatur/go-marketplace-ledger/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenMemoryStore(t *testing.T) {
	s, closeFn, err := OpenStore(context.Background(), config.Config{StoreDriver: config.DriverMemory}, observability.NewNopLogger())
	require.NoError(t, err)
	defer closeFn()
	assert.IsType(t, &memstore.Store{}, s)
}

func TestOpenUnknownBackends(t *testing.T) {
	_, _, err := OpenStore(context.Background(), config.Config{StoreDriver: "sqlite"}, observability.NewNopLogger())
	assert.Error(t, err)

	_, _, err = OpenPublisher(context.Background(), config.Config{EventSink: "nats"}, observability.NewNopLogger())
	assert.Error(t, err)
}
