package config

import (
	"errors"
	"fmt"
	"strings"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// checker collects every violation so one run reports all of them.
type checker struct {
	errs []error
}

func (c *checker) require(ok bool, field, format string, args ...interface{}) {
	if !ok {
		c.errs = append(c.errs, &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}
}

func (c *checker) port(field string, port int) {
	c.require(port >= 1 && port <= 65535, field, "port must be between 1 and 65535, got %d", port)
}

var (
	validSSLModes = map[string]bool{
		"disable": true, "allow": true, "prefer": true,
		"require": true, "verify-ca": true, "verify-full": true,
	}
	validLogLevels  = map[string]bool{"": true, "debug": true, "info": true, "warn": true, "error": true}
	validLogFormats = map[string]bool{"": true, "json": true, "console": true}
)

// ValidateStatic checks the configuration without touching any backend.
func ValidateStatic(cfg *Config) error {
	c := &checker{}

	c.port("server.port", cfg.Server.Port)
	c.require(cfg.Server.ReadTimeoutSeconds > 0, "server.read_timeout_seconds", "read timeout must be positive")
	c.require(cfg.Server.WriteTimeoutSeconds > 0, "server.write_timeout_seconds", "write timeout must be positive")

	c.require(validLogLevels[cfg.Logging.Level], "logging.level", "unknown level %q (supported: debug, info, warn, error)", cfg.Logging.Level)
	c.require(validLogFormats[cfg.Logging.Format], "logging.format", "unknown format %q (supported: json, console)", cfg.Logging.Format)

	checkBroker(c, cfg.Broker)
	checkDatabase(c, cfg.Database)
	checkVersioning(c, cfg.Versioning, cfg.Database)
	checkDictionary(c, cfg.Dictionary, cfg.Database)

	return errors.Join(c.errs...)
}

// An empty broker type is valid: notifications then stay in the outbox.
func checkBroker(c *checker, cfg BrokerConfig) {
	switch cfg.Type {
	case "":
		return
	case "kafka":
	default:
		c.require(false, "broker.type", "unknown broker type: %s (supported: kafka)", cfg.Type)
		return
	}

	k := cfg.Kafka
	c.require(len(k.Brokers) > 0, "broker.kafka.brokers", "at least one Kafka broker is required")
	for i, addr := range k.Brokers {
		c.require(addr != "", fmt.Sprintf("broker.kafka.brokers[%d]", i), "broker address cannot be empty")
	}
	c.require(k.EventsTopic != "", "broker.kafka.events_topic", "events topic is required")
	c.require(k.Retry.MaxAttempts >= 0, "broker.kafka.retry.max_attempts", "max_attempts must be non-negative")
	c.require(k.Retry.MaxInterval <= 0 || k.Retry.InitialInterval <= 0 || k.Retry.MaxInterval >= k.Retry.InitialInterval,
		"broker.kafka.retry.max_interval", "max_interval must be greater than or equal to initial_interval")
	c.require(k.Retry.Multiplier >= 0, "broker.kafka.retry.multiplier", "multiplier must be non-negative")
}

func checkDatabase(c *checker, cfg DatabaseConfig) {
	if pg := cfg.Postgres; pg.Host != "" || pg.Port > 0 {
		c.require(pg.Host != "", "database.postgres.host", "PostgreSQL host is required")
		c.port("database.postgres.port", pg.Port)
		c.require(pg.User != "", "database.postgres.user", "PostgreSQL user is required")
		c.require(pg.DBName != "", "database.postgres.dbname", "PostgreSQL database name is required")
		c.require(pg.SSLMode == "" || validSSLModes[strings.ToLower(pg.SSLMode)], "database.postgres.sslmode",
			"invalid SSL mode: %s (valid: disable, allow, prefer, require, verify-ca, verify-full)", pg.SSLMode)
	}

	if rd := cfg.Redis; rd.Host != "" || rd.Port > 0 {
		c.require(rd.Host != "", "database.redis.host", "Redis host is required")
		c.port("database.redis.port", rd.Port)
	}

	if mg := cfg.MongoDB; mg.URI != "" {
		c.require(strings.HasPrefix(mg.URI, "mongodb://") || strings.HasPrefix(mg.URI, "mongodb+srv://"),
			"database.mongodb.uri", "MongoDB URI must start with mongodb:// or mongodb+srv://")
		c.require(mg.Database != "", "database.mongodb.database", "MongoDB database name is required")
	}
}

func checkVersioning(c *checker, cfg VersioningConfig, db DatabaseConfig) {
	switch cfg.Storage {
	case "", "postgres":
		c.require(db.Postgres.Host != "", "database.postgres.host", "postgres storage requires database.postgres settings")
	case "memory":
	default:
		c.require(false, "versioning.storage", "unknown storage: %s (supported: postgres, memory)", cfg.Storage)
	}

	act := cfg.Activation
	c.require(act.LockTimeout > 0, "versioning.activation.lock_timeout", "lock timeout must be positive")
	c.require(act.MaxAttempts >= 1, "versioning.activation.max_attempts", "max_attempts must be at least 1")
	c.require(act.MaxInterval <= 0 || act.MaxInterval >= act.InitialInterval,
		"versioning.activation.max_interval", "max_interval must be greater than or equal to initial_interval")

	c.require(!cfg.Cache.Enabled || db.Redis.Host != "", "versioning.cache.enabled", "current-version cache requires database.redis settings")
	c.require(cfg.Cache.TTLSeconds >= 0, "versioning.cache.ttl_seconds", "TTL must be non-negative")

	if cfg.Outbox.Enabled {
		c.require(cfg.Outbox.BatchSize > 0, "versioning.outbox.batch_size", "batch size must be positive")
		c.require(cfg.Outbox.PollInterval > 0, "versioning.outbox.poll_interval", "poll interval must be positive")
	}
}

func checkDictionary(c *checker, cfg DictionaryConfig, db DatabaseConfig) {
	if !cfg.Enabled {
		return
	}
	c.require(db.MongoDB.URI != "", "database.mongodb.uri", "MongoDB URI is required when dictionary.enabled is set")
	c.require(cfg.ReloadInterval > 0, "dictionary.reload_interval", "reload interval must be positive")
	c.require(cfg.JitterMaxMilliseconds >= 0, "dictionary.jitter_max_milliseconds", "jitter must be non-negative")
}
