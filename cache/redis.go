package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/Keksclan/goRawrStash/breaker"
	"github.com/Keksclan/goRawrStash/expiry"
)

// clearBatch is the number of keys deleted per DEL while clearing.
const clearBatch = 256

// Redis is a remote slow tier backed by Redis. Keys are stored as
// "<namespace>:<hex-sha256-of-key>" and expire through native Redis TTLs.
//
// All operations fail soft: when Redis is unreachable reads are misses and
// writes are dropped. A circuit breaker stops issuing commands while Redis
// keeps failing.
type Redis[K comparable, V any] struct {
	rdb       redis.UniversalClient
	namespace string

	defaultTTL expiry.TTL
	now        func() time.Time
	codec      Codec
	breaker    *breaker.Breaker
	metrics    *Metrics
	log        logrus.FieldLogger
}

// NewRedis creates a Redis tier on rdb. It honours WithDefaultTTL, WithClock,
// WithCodec, WithBreaker, WithMetrics and WithLogger. Without WithBreaker a
// breaker with breaker.DefaultConfig is used.
func NewRedis[K comparable, V any](rdb redis.UniversalClient, namespace string, opts ...Option) *Redis[K, V] {
	o := buildOptions(opts)
	br := o.breaker
	if br == nil {
		br = breaker.New(breaker.DefaultConfig)
	}
	return &Redis[K, V]{
		rdb:        rdb,
		namespace:  SanitizeNamespace(namespace),
		defaultTTL: o.defaultTTL,
		now:        o.now,
		codec:      o.codec,
		breaker:    br,
		metrics:    o.metrics,
		log: o.logger.WithFields(logrus.Fields{
			"tier":      tierRedis,
			"namespace": namespace,
		}),
	}
}

// Get returns the value stored under key. Connection failures, an open breaker
// and undecodable payloads are misses; undecodable payloads are deleted.
func (r *Redis[K, V]) Get(ctx context.Context, key K) (V, bool) {
	v, _, ok := r.GetWithExpiry(ctx, key)
	return v, ok
}

// GetWithExpiry is Get plus the expiry instant derived from the key's PTTL;
// the zero time means the key has no TTL.
func (r *Redis[K, V]) GetWithExpiry(ctx context.Context, key K) (V, time.Time, bool) {
	var zero V
	rkey, ok := r.key(key)
	if !ok {
		return zero, time.Time{}, false
	}

	var (
		data []byte
		ttl  time.Duration
	)
	err := r.breaker.Do(func() error {
		var (
			get  *redis.StringCmd
			pttl *redis.DurationCmd
		)
		_, err := r.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
			get = p.Get(ctx, rkey)
			pttl = p.PTTL(ctx, rkey)
			return nil
		})
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		data, err = get.Bytes()
		if errors.Is(err, redis.Nil) {
			data = nil
			return nil
		}
		if err != nil {
			return err
		}
		ttl = pttl.Val()
		return nil
	})
	if err != nil || data == nil {
		if err != nil {
			r.log.WithError(err).WithField("action", "get").Debug("redis read failed")
		}
		r.metrics.miss(tierRedis)
		return zero, time.Time{}, false
	}

	var v V
	if err := r.codec.Unmarshal(data, &v); err != nil {
		r.log.WithError(err).WithField("action", "decode").Debug("dropping corrupt entry")
		r.del(ctx, rkey)
		r.metrics.miss(tierRedis)
		return zero, time.Time{}, false
	}
	r.metrics.hit(tierRedis)

	var at time.Time
	if ttl > 0 {
		at = r.now().Add(ttl)
	}
	return v, at, true
}

// Put stores value under key with the resolved expiry.
func (r *Redis[K, V]) Put(ctx context.Context, key K, value V, ttl expiry.TTL) {
	rkey, ok := r.key(key)
	if !ok {
		r.metrics.writeFailed(tierRedis)
		return
	}
	data, err := r.codec.Marshal(value)
	if err != nil {
		r.log.WithError(err).WithField("action", "encode").Debug("value encoding failed")
		r.metrics.writeFailed(tierRedis)
		return
	}

	var exp time.Duration
	now := r.now()
	if at, ok := expiry.Compute(ttl, r.defaultTTL, now); ok {
		exp = at.Sub(now)
	}

	if err := r.breaker.Do(func() error {
		return r.rdb.Set(ctx, rkey, data, exp).Err()
	}); err != nil {
		r.log.WithError(err).WithField("action", "put").Debug("redis write failed")
		r.metrics.writeFailed(tierRedis)
	}
}

// Remove deletes key.
func (r *Redis[K, V]) Remove(ctx context.Context, key K) {
	if rkey, ok := r.key(key); ok {
		r.del(ctx, rkey)
	}
}

// Clear deletes every key of the namespace.
func (r *Redis[K, V]) Clear(ctx context.Context) {
	err := r.breaker.Do(func() error {
		iter := r.rdb.Scan(ctx, 0, r.scanPattern(), clearBatch).Iterator()
		batch := make([]string, 0, clearBatch)
		for iter.Next(ctx) {
			batch = append(batch, iter.Val())
			if len(batch) == clearBatch {
				if err := r.rdb.Del(ctx, batch...).Err(); err != nil {
					return err
				}
				batch = batch[:0]
			}
		}
		if err := iter.Err(); err != nil {
			return err
		}
		if len(batch) > 0 {
			return r.rdb.Del(ctx, batch...).Err()
		}
		return nil
	})
	if err != nil {
		r.log.WithError(err).WithField("action", "clear").Debug("redis clear failed")
	}
}

// Ping checks the Redis connection.
func (r *Redis[K, V]) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *Redis[K, V]) key(key K) (string, bool) {
	digest, err := KeyDigest(key)
	if err != nil {
		r.log.WithError(err).WithField("action", "key").Debug("key encoding failed")
		return "", false
	}
	return r.namespace + ":" + digest, true
}

// scanPattern matches every key of the namespace and nothing else. The
// sanitized namespace never contains ':', so a nested namespace such as
// "a:b" cannot fall under "a:*".
func (r *Redis[K, V]) scanPattern() string {
	return globEscape(r.namespace) + ":*"
}

func (r *Redis[K, V]) del(ctx context.Context, rkey string) {
	if err := r.breaker.Do(func() error {
		return r.rdb.Del(ctx, rkey).Err()
	}); err != nil {
		r.log.WithError(err).WithField("action", "remove").Debug("redis delete failed")
	}
}

// globEscape escapes the glob metacharacters understood by SCAN MATCH.
func globEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

var _ ExpiringBackend[string, string] = (*Redis[string, string])(nil)
