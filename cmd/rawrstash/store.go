package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"github.com/Keksclan/goRawrStash/breaker"
	"github.com/Keksclan/goRawrStash/cache"
	"github.com/Keksclan/goRawrStash/internal/config"
	"github.com/Keksclan/goRawrStash/quota"
)

// openStore builds the hybrid store described by cfg. The returned function
// drains the write-behind queue and closes both tiers.
func openStore(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger, metrics *cache.Metrics, tracer trace.Tracer) (*cache.Hybrid[string, []byte], func() error, error) {
	common := []cache.Option{
		cache.WithLogger(logger),
		cache.WithMetrics(metrics),
		cache.WithDefaultTTL(cfg.Cache.DefaultTTL.DurationValue()),
	}

	mem := cache.NewMemory[string, []byte](append(common, cache.WithMaxSize(cfg.Cache.MemoryMaxItems))...)

	var (
		slow      cache.Backend[string, []byte]
		closeSlow func() error
	)
	switch cfg.Cache.Backend {
	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		br := breaker.New(breaker.Config{
			FailureThreshold: cfg.Redis.BreakerThreshold,
			OpenTimeout:      cfg.Redis.BreakerTimeout.DurationValue(),
		})
		r := cache.NewRedis[string, []byte](rdb, cfg.Cache.Namespace, append(common, cache.WithBreaker(br))...)
		if err := r.Ping(ctx); err != nil {
			// The tier fails soft; start anyway and let the breaker decide.
			logger.WithError(err).WithField("addr", cfg.Redis.Addr).Warn("redis unreachable at startup")
		}
		slow, closeSlow = r, rdb.Close

	default:
		opts := append(common, cache.WithMaxSize(cfg.Cache.DiskMaxItems))
		if cfg.Quota.Enabled {
			opts = append(opts, cache.WithQuota(quota.New(quota.Limits{
				MaxItems:      cfg.Quota.MaxItems,
				MaxValueBytes: cfg.Quota.MaxValueBytes,
			})))
		}
		d, err := cache.OpenDisk[string, []byte](cfg.Cache.StoragePath, cfg.Cache.Namespace, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("open disk store: %w", err)
		}
		slow, closeSlow = d, d.Close
	}

	h := cache.NewHybrid(mem, slow,
		cache.WithLogger(logger),
		cache.WithMetrics(metrics),
		cache.WithTracer(tracer),
	)
	closeAll := func() error {
		return errors.Join(h.Close(), closeSlow())
	}
	return h, closeAll, nil
}
