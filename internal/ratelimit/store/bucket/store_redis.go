package bucket

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"gatehouse/internal/ratelimit/models"
	"gatehouse/pkg/requestcontext"
)

const defaultKeyPrefix = "gatehouse:"

// incrementScript counts a hit and opens the window on the first one. The
// PTTL guard repairs keys that lost their expiry.
var incrementScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// releaseScript takes back one hit. A key left at zero or below is deleted,
// which also cleans up a key that expired between the hit and its release.
var releaseScript = redis.NewScript(`
local count = redis.call('DECR', KEYS[1])
if count <= 0 then
	redis.call('DEL', KEYS[1])
end
return count
`)

// RedisBucketStore keeps fixed windows in Redis so every instance shares one
// count per key.
type RedisBucketStore struct {
	client     *redis.Client
	prefix     string
	registerer prometheus.Registerer
	opDuration *prometheus.HistogramVec
}

type RedisOption func(*RedisBucketStore)

// WithKeyPrefix namespaces keys, e.g. per environment.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisBucketStore) {
		s.prefix = prefix
	}
}

// WithRegisterer exposes operation latency on reg. Without it the histogram
// is kept but not registered.
func WithRegisterer(reg prometheus.Registerer) RedisOption {
	return func(s *RedisBucketStore) {
		s.registerer = reg
	}
}

func NewRedis(client *redis.Client, opts ...RedisOption) *RedisBucketStore {
	s := &RedisBucketStore{client: client, prefix: defaultKeyPrefix}
	for _, opt := range opts {
		opt(s)
	}
	s.opDuration = promauto.With(s.registerer).NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gatehouse_ratelimit_redis_op_duration_ms",
		Help:    "Latency of shared counter operations in milliseconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 50},
	}, []string{"op"})
	return s
}

func (s *RedisBucketStore) Increment(ctx context.Context, key string, window time.Duration) (*models.Window, error) {
	defer s.observe("increment", time.Now())

	res, err := incrementScript.Run(ctx, s.client, []string{s.prefix + key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("redis increment %s: %w", key, err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("redis increment %s: unexpected reply %v", key, res)
	}
	now := requestcontext.Now(ctx)
	return &models.Window{
		Key:     key,
		Count:   int(res[0]),
		ResetAt: now.Add(time.Duration(res[1]) * time.Millisecond),
	}, nil
}

func (s *RedisBucketStore) Peek(ctx context.Context, key string) (*models.Window, error) {
	defer s.observe("peek", time.Now())

	pipe := s.client.Pipeline()
	get := pipe.Get(ctx, s.prefix+key)
	ttl := pipe.PTTL(ctx, s.prefix+key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis peek %s: %w", key, err)
	}

	count, err := get.Int()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis peek %s: %w", key, err)
	}
	remaining := ttl.Val()
	if remaining <= 0 {
		return nil, nil
	}
	return &models.Window{
		Key:     key,
		Count:   count,
		ResetAt: requestcontext.Now(ctx).Add(remaining),
	}, nil
}

func (s *RedisBucketStore) Release(ctx context.Context, key string) error {
	defer s.observe("release", time.Now())

	if err := releaseScript.Run(ctx, s.client, []string{s.prefix + key}).Err(); err != nil {
		return fmt.Errorf("redis release %s: %w", key, err)
	}
	return nil
}

func (s *RedisBucketStore) Reset(ctx context.Context, key string) error {
	defer s.observe("reset", time.Now())

	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis reset %s: %w", key, err)
	}
	return nil
}

func (s *RedisBucketStore) observe(op string, start time.Time) {
	s.opDuration.WithLabelValues(op).Observe(float64(time.Since(start).Microseconds()) / 1000.0)
}
