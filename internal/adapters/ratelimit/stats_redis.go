package ratelimit

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Event is one limiter decision worth counting.
type Event struct {
	Key     string
	Allowed bool
	Method  string
	Path    string
	At      time.Time
}

// StatsRecorder persists limiter decisions. Recording is best-effort.
type StatsRecorder interface {
	Record(ctx context.Context, ev Event) error
}

// RedisStats keeps allowed/denied counters in Redis hashes:
//
//	<prefix>:total               allowed|denied
//	<prefix>:minute:<yyyymmddHHMM> allowed|denied (expires after ttl)
//	<prefix>:route               "<METHOD> <path>:allowed|denied"
type RedisStats struct {
	rdb    redis.Cmdable
	prefix string
	ttl    time.Duration
}

// RedisStatsOption configures RedisStats.
type RedisStatsOption func(*RedisStats)

// WithStatsPrefix sets the key prefix.
func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStats) {
		if p := strings.Trim(prefix, ":"); p != "" {
			s.prefix = p
		}
	}
}

// WithStatsTTL sets the expiry of per-minute buckets.
func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStats) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// NewRedisStats returns a recorder writing through rdb.
func NewRedisStats(rdb redis.Cmdable, opts ...RedisStatsOption) *RedisStats {
	s := &RedisStats{
		rdb:    rdb,
		prefix: "calcstore:ratelimit",
		ttl:    24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record implements StatsRecorder. A nil receiver or client records nothing.
func (s *RedisStats) Record(ctx context.Context, ev Event) error {
	if s == nil || s.rdb == nil {
		return nil
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	field := "denied"
	if ev.Allowed {
		field = "allowed"
	}

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.prefix+":total", field, 1)

	bucket := s.prefix + ":minute:" + at.UTC().Format("200601021504")
	pipe.HIncrBy(ctx, bucket, field, 1)
	pipe.Expire(ctx, bucket, s.ttl)

	if route := strings.TrimSpace(ev.Method + " " + ev.Path); route != "" {
		pipe.HIncrBy(ctx, s.prefix+":route", route+":"+field, 1)
	}

	_, err := pipe.Exec(ctx)
	return err
}

// Totals reads the cumulative allowed and denied counters.
func (s *RedisStats) Totals(ctx context.Context) (allowed, denied int64, err error) {
	if s == nil || s.rdb == nil {
		return 0, 0, nil
	}
	vals, err := s.rdb.HMGet(ctx, s.prefix+":total", "allowed", "denied").Result()
	if err != nil {
		return 0, 0, err
	}
	return toInt64(vals[0]), toInt64(vals[1]), nil
}

func toInt64(v any) int64 {
	str, ok := v.(string)
	if !ok {
		return 0
	}
	n, _ := strconv.ParseInt(str, 10, 64)
	return n
}
