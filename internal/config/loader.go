package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. RAWRSTASH_CACHE_BACKEND.
const EnvPrefix = "RAWRSTASH"

// Load reads the configuration at path, applies defaults and environment
// overrides and validates the result. An empty path loads defaults and the
// environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	hook := mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hook)); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Cache.Backend == BackendDisk {
		abs, err := filepath.Abs(cfg.Cache.StoragePath)
		if err != nil {
			return nil, fmt.Errorf("resolve storage path: %w", err)
		}
		cfg.Cache.StoragePath = abs
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.grpc_addr", ":7420")
	v.SetDefault("server.metrics_addr", ":9420")
	v.SetDefault("server.rate_limit", 0)
	v.SetDefault("server.rate_burst", 100)
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("cache.namespace", "default")
	v.SetDefault("cache.backend", BackendDisk)
	v.SetDefault("cache.storage_path", "./storage")
	v.SetDefault("cache.memory_max_items", 10000)
	v.SetDefault("cache.disk_max_items", 100000)
	v.SetDefault("cache.default_ttl", 0)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.breaker_threshold", 5)
	v.SetDefault("redis.breaker_timeout", "5s")

	v.SetDefault("quota.enabled", false)
	v.SetDefault("quota.max_items", 1024)
	v.SetDefault("quota.max_value_bytes", 1<<20)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file_path", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 10)
	v.SetDefault("log.compress", true)

	v.SetDefault("tracing.stdout", false)
}

// durationDecodeHook decodes Duration fields from duration strings, numeric
// strings (seconds) and plain numbers (seconds).
func durationDecodeHook() mapstructure.DecodeHookFunc {
	target := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != target {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			v = strings.TrimSpace(v)
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("invalid duration %q", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("unsupported duration type %T", v)
		}
	}
}
