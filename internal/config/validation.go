package config

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// FieldError names the offending key and why it was rejected.
type FieldError struct {
	Field  string
	Reason string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return fmt.Errorf("%w: %w", ErrInvalidConfig, FieldError{Field: field, Reason: reason})
}

// Validate checks cross-field constraints. It reports the first problem
// found.
func (c *Config) Validate() error {
	if c.Server.GRPCAddr == "" {
		return invalid("server.grpc_addr", "must not be empty")
	}
	if c.Server.RateLimit < 0 {
		return invalid("server.rate_limit", "must not be negative")
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst < 1 {
		return invalid("server.rate_burst", "must be at least 1 when rate limiting")
	}
	if c.Server.ShutdownTimeout < 0 {
		return invalid("server.shutdown_timeout", "must not be negative")
	}

	switch c.Cache.Backend {
	case BackendDisk:
		if c.Cache.StoragePath == "" {
			return invalid("cache.storage_path", "required for the disk backend")
		}
	case BackendRedis:
		if c.Redis.Addr == "" {
			return invalid("redis.addr", "required for the redis backend")
		}
	default:
		return invalid("cache.backend", fmt.Sprintf("unknown backend %q", c.Cache.Backend))
	}
	if c.Cache.MemoryMaxItems < 0 {
		return invalid("cache.memory_max_items", "must not be negative")
	}
	if c.Cache.DiskMaxItems < 0 {
		return invalid("cache.disk_max_items", "must not be negative")
	}
	if c.Cache.DefaultTTL < 0 {
		return invalid("cache.default_ttl", "must not be negative")
	}

	if c.Quota.Enabled && (c.Quota.MaxItems < 1 || c.Quota.MaxValueBytes < 1) {
		return invalid("quota", "max_items and max_value_bytes must be positive when enabled")
	}

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return invalid("log.level", err.Error())
	}
	return nil
}
