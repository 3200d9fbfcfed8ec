package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.GRPCAddr != ":7420" || cfg.Server.MetricsAddr != ":9420" {
		t.Fatalf("unexpected listen addresses: %+v", cfg.Server)
	}
	if cfg.Server.ShutdownTimeout.DurationValue() != 10*time.Second {
		t.Fatalf("shutdown timeout = %v, want 10s", cfg.Server.ShutdownTimeout.DurationValue())
	}
	if cfg.Cache.Backend != BackendDisk || cfg.Cache.Namespace != "default" {
		t.Fatalf("unexpected cache config: %+v", cfg.Cache)
	}
	if !filepath.IsAbs(cfg.Cache.StoragePath) {
		t.Fatalf("storage path %q should be absolute", cfg.Cache.StoragePath)
	}
	if cfg.Cache.DefaultTTL != 0 {
		t.Fatalf("default TTL = %v, want 0", cfg.Cache.DefaultTTL.DurationValue())
	}
	if cfg.Quota.MaxItems != 1024 || cfg.Quota.MaxValueBytes != 1<<20 {
		t.Fatalf("unexpected quota defaults: %+v", cfg.Quota)
	}
	if cfg.Log.Level != "info" {
		t.Fatalf("log level = %q, want info", cfg.Log.Level)
	}
}

func TestLoadTOML(t *testing.T) {
	path := writeConfig(t, "rawrstash.toml", `
[server]
grpc_addr = "127.0.0.1:9000"
rate_limit = 50
rate_burst = 10

[cache]
namespace = "sessions"
storage_path = "/var/lib/rawrstash"
memory_max_items = 500
default_ttl = "90s"

[redis]
breaker_timeout = 30

[quota]
enabled = true
max_items = 10
max_value_bytes = 4096

[log]
level = "debug"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.GRPCAddr != "127.0.0.1:9000" || cfg.Server.RateLimit != 50 || cfg.Server.RateBurst != 10 {
		t.Fatalf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Cache.Namespace != "sessions" || cfg.Cache.MemoryMaxItems != 500 {
		t.Fatalf("unexpected cache config: %+v", cfg.Cache)
	}
	if cfg.Cache.StoragePath != "/var/lib/rawrstash" {
		t.Fatalf("storage path = %q", cfg.Cache.StoragePath)
	}
	if got := cfg.Cache.DefaultTTL.DurationValue(); got != 90*time.Second {
		t.Fatalf("default TTL = %v, want 90s", got)
	}
	if got := cfg.Redis.BreakerTimeout.DurationValue(); got != 30*time.Second {
		t.Fatalf("breaker timeout = %v, want 30s from plain seconds", got)
	}
	if !cfg.Quota.Enabled || cfg.Quota.MaxItems != 10 {
		t.Fatalf("unexpected quota config: %+v", cfg.Quota)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("log level = %q", cfg.Log.Level)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "rawrstash.yaml", `
cache:
  backend: redis
  default_ttl: "2.5"
redis:
  addr: "localhost:6379"
  db: 2
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Cache.Backend != BackendRedis || cfg.Redis.Addr != "localhost:6379" || cfg.Redis.DB != 2 {
		t.Fatalf("unexpected config: %+v %+v", cfg.Cache, cfg.Redis)
	}
	if got := cfg.Cache.DefaultTTL.DurationValue(); got != 2500*time.Millisecond {
		t.Fatalf("default TTL = %v, want 2.5s", got)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("RAWRSTASH_CACHE_NAMESPACE", "from-env")
	t.Setenv("RAWRSTASH_SERVER_SHUTDOWN_TIMEOUT", "3s")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Cache.Namespace != "from-env" {
		t.Fatalf("namespace = %q, want from-env", cfg.Cache.Namespace)
	}
	if got := cfg.Server.ShutdownTimeout.DurationValue(); got != 3*time.Second {
		t.Fatalf("shutdown timeout = %v, want 3s", got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, "bad.toml", `
[cache]
default_ttl = "soon"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected a decode error")
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		return *cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"unknown backend", func(c *Config) { c.Cache.Backend = "tape" }, "cache.backend"},
		{"redis without addr", func(c *Config) { c.Cache.Backend = BackendRedis }, "redis.addr"},
		{"disk without path", func(c *Config) { c.Cache.StoragePath = "" }, "cache.storage_path"},
		{"negative memory size", func(c *Config) { c.Cache.MemoryMaxItems = -1 }, "cache.memory_max_items"},
		{"negative rate", func(c *Config) { c.Server.RateLimit = -1 }, "server.rate_limit"},
		{"empty grpc addr", func(c *Config) { c.Server.GRPCAddr = "" }, "server.grpc_addr"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"quota without limits", func(c *Config) { c.Quota = QuotaConfig{Enabled: true} }, "quota"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("Validate = %v, want ErrInvalidConfig", err)
			}
			var fe FieldError
			if !errors.As(err, &fe) || fe.Field != tt.field {
				t.Fatalf("field error = %+v, want field %q", fe, tt.field)
			}
		})
	}
}
