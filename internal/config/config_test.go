// internal/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "bookstore", cfg.AppName)
	assert.Equal(t, "postgres", cfg.StoreDriver)
	assert.Equal(t, 5*time.Second, cfg.TxTimeout)
	assert.Equal(t, 3, cfg.TxMaxRetries)
	assert.Equal(t, 168*time.Hour, cfg.CartTTL)
	assert.Equal(t, 2, cfg.ReorderMultiplier)
	assert.Equal(t, 30, cfg.VelocityWindowDays)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 100, cfg.OutboxBatchSize)
	assert.Empty(t, cfg.OTelExporterEndpoint)
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	content := "STORE_DRIVER=memory\nTX_TIMEOUT=750ms\nREORDER_MULTIPLIER=3\nKAFKA_TOPIC=from-file\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.env"), []byte(content), 0o600))

	t.Setenv("KAFKA_TOPIC", "from-env")
	t.Setenv("TX_MAX_RETRIES", "0")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.StoreDriver)
	assert.Equal(t, 750*time.Millisecond, cfg.TxTimeout)
	assert.Equal(t, 3, cfg.ReorderMultiplier)
	assert.Equal(t, "from-env", cfg.KafkaTopic)
	assert.Equal(t, 0, cfg.TxMaxRetries)
}

func TestLoad_RejectsUnknownDrivers(t *testing.T) {
	t.Setenv("STORE_DRIVER", "sqlite")
	_, err := Load(t.TempDir())
	assert.ErrorContains(t, err, "STORE_DRIVER")
}

func TestValidate(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	bad := cfg
	bad.OutboxSink = "nats"
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.TxTimeout = 0
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.VelocityWindowDays = 0
	assert.Error(t, bad.Validate())
}
