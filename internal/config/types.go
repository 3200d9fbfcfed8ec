// Package config loads the rawrstash daemon configuration from a TOML, YAML
// or JSON file and RAWRSTASH_* environment variables.
package config

import "time"

// Duration accepts Go duration strings ("30s", "5m") as well as plain numbers
// of seconds when decoded from configuration.
type Duration time.Duration

// DurationValue returns d as a time.Duration.
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// Config is the complete daemon configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Quota   QuotaConfig   `mapstructure:"quota"`
	Log     LogConfig     `mapstructure:"log"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// ServerConfig controls the network listeners and request gating.
type ServerConfig struct {
	GRPCAddr        string   `mapstructure:"grpc_addr"`
	MetricsAddr     string   `mapstructure:"metrics_addr"`
	RateLimit       float64  `mapstructure:"rate_limit"`
	RateBurst       int      `mapstructure:"rate_burst"`
	ShutdownTimeout Duration `mapstructure:"shutdown_timeout"`
}

// Slow tier backends.
const (
	BackendDisk  = "disk"
	BackendRedis = "redis"
)

// CacheConfig describes the tiers of the served cache.
type CacheConfig struct {
	Namespace      string   `mapstructure:"namespace"`
	Backend        string   `mapstructure:"backend"`
	StoragePath    string   `mapstructure:"storage_path"`
	MemoryMaxItems int      `mapstructure:"memory_max_items"`
	DiskMaxItems   int      `mapstructure:"disk_max_items"`
	DefaultTTL     Duration `mapstructure:"default_ttl"`
}

// RedisConfig is used when Cache.Backend is "redis".
type RedisConfig struct {
	Addr             string   `mapstructure:"addr"`
	Password         string   `mapstructure:"password"`
	DB               int      `mapstructure:"db"`
	BreakerThreshold int      `mapstructure:"breaker_threshold"`
	BreakerTimeout   Duration `mapstructure:"breaker_timeout"`
}

// QuotaConfig bounds what the disk tier accepts per namespace.
type QuotaConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxItems      int  `mapstructure:"max_items"`
	MaxValueBytes int  `mapstructure:"max_value_bytes"`
}

// LogConfig controls the process logger. An empty FilePath logs to stdout.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	FilePath   string `mapstructure:"file_path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// TracingConfig enables span export.
type TracingConfig struct {
	// Stdout pretty-prints finished spans to stdout.
	Stdout bool `mapstructure:"stdout"`
}
