package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, cfg.StoreDriver)
	assert.Equal(t, SinkKafka, cfg.EventSink)
	assert.Equal(t, 3, cfg.LedgerMaxAttempts)
	assert.Equal(t, 50*time.Millisecond, cfg.LedgerBackoffBase)
	assert.Equal(t, []string{"kafka:9092"}, cfg.KafkaBrokers)
}

func TestFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
service:
  name: ledger-file
store:
  driver: mongo
  mongo_database: shop
events:
  sink: rabbitmq
  kafka_brokers: [k1:9092, k2:9092]
ledger:
  max_attempts: 5
  backoff_base: 10ms
outbox:
  poll_interval: 250ms
`), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("JWT_SECRET", "s")
	t.Setenv("SERVICE_NAME", "ledger-env")
	t.Setenv("LEDGER_MAX_ATTEMPTS", "7")
	t.Setenv("KAFKA_BROKERS", "a:1, b:2,")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "ledger-env", cfg.ServiceName, "env wins over file")
	assert.Equal(t, DriverMongo, cfg.StoreDriver)
	assert.Equal(t, "shop", cfg.MongoDatabase)
	assert.Equal(t, SinkRabbitMQ, cfg.EventSink)
	assert.Equal(t, 7, cfg.LedgerMaxAttempts)
	assert.Equal(t, 10*time.Millisecond, cfg.LedgerBackoffBase)
	assert.Equal(t, 250*time.Millisecond, cfg.OutboxPollInterval)
	assert.Equal(t, []string{"a:1", "b:2"}, cfg.KafkaBrokers)
}

func TestInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing secret", map[string]string{"JWT_SECRET": ""}},
		{"unknown driver", map[string]string{"JWT_SECRET": "s", "STORE_DRIVER": "sqlite"}},
		{"unknown sink", map[string]string{"JWT_SECRET": "s", "EVENT_SINK": "nats"}},
		{"bad int", map[string]string{"JWT_SECRET": "s", "WORKER_COUNT": "many"}},
		{"bad duration", map[string]string{"JWT_SECRET": "s", "OUTBOX_POLL_INTERVAL": "soon"}},
		{"missing file", map[string]string{"JWT_SECRET": "s", "CONFIG_FILE": "/nonexistent/ledger.yaml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}

	t.Setenv("JWT_SECRET", "")
	_, err := Load()
	assert.ErrorIs(t, err, ErrEmptyEnvironmentVariable)
}
