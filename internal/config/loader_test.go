package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_MemoryStorageWithDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
versioning:
  storage: memory
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Versioning.Storage)
	assert.Equal(t, 5*time.Second, cfg.Versioning.Activation.LockTimeout)
	assert.Equal(t, 3, cfg.Versioning.Activation.MaxAttempts)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadConfig_EnvOverridesKafkaBrokers(t *testing.T) {
	t.Setenv("BROKER_KAFKA_BROKERS", "k1:9092, k2:9092")
	path := writeConfig(t, `
broker:
  type: kafka
  kafka:
    brokers: ["localhost:9092"]
    events_topic: config_version_events
versioning:
  storage: memory
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Broker.Kafka.Brokers)
}

func TestLoadConfig_PostgresStorageRequiresHost(t *testing.T) {
	path := writeConfig(t, `
versioning:
  storage: postgres
`)

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.postgres.host")
}

func TestValidateStatic_UnknownBroker(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{Port: 8080, ReadTimeoutSeconds: time.Second, WriteTimeoutSeconds: time.Second},
		Broker: BrokerConfig{Type: "rabbitmq"},
		Versioning: VersioningConfig{
			Storage:    "memory",
			Activation: ActivationConfig{LockTimeout: time.Second, MaxAttempts: 1},
		},
	}

	err := ValidateStatic(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown broker type")
}

func TestValidateStatic_CacheRequiresRedis(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{Port: 8080, ReadTimeoutSeconds: time.Second, WriteTimeoutSeconds: time.Second},
		Versioning: VersioningConfig{
			Storage:    "memory",
			Activation: ActivationConfig{LockTimeout: time.Second, MaxAttempts: 1},
			Cache:      CacheConfig{Enabled: true},
		},
	}

	err := ValidateStatic(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "versioning.cache.enabled")
}

func TestValidateStatic_DictionaryRequiresMongo(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{Port: 8080, ReadTimeoutSeconds: time.Second, WriteTimeoutSeconds: time.Second},
		Versioning: VersioningConfig{
			Storage:    "memory",
			Activation: ActivationConfig{LockTimeout: time.Second, MaxAttempts: 1},
		},
		Dictionary: DictionaryConfig{Enabled: true, ReloadInterval: time.Minute},
	}

	err := ValidateStatic(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.mongodb.uri")
}

func TestValidateStatic_ReportsEveryViolation(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 70000
logging:
  level: verbose
versioning:
  storage: memory
  activation:
    max_attempts: 0
`)

	_, err := LoadConfig(path)
	require.Error(t, err)

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	for _, field := range []string{"server.port", "logging.level", "versioning.activation.max_attempts"} {
		assert.Contains(t, err.Error(), field)
	}
}
