// Package risk derives an informational risk level from verification frequency.
// The level never changes a verification verdict.
package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/nkiryanov/parcelguard/internal/models"
)

const (
	defaultWindow          = 10 * time.Minute
	defaultMediumThreshold = 5
	defaultHighThreshold   = 20
	defaultPrefix          = "risk"
)

// Adds the verification to the sliding window and returns count of verifications within it
var observeScript = redis.NewScript(`
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])
local member = ARGV[3]

redis.call("ZREMRANGEBYSCORE", key, "-inf", now_ms - window_ms)
redis.call("ZADD", key, now_ms, member)
redis.call("PEXPIRE", key, window_ms)
return redis.call("ZCARD", key)
`)

type Config struct {
	// Key prefix in redis
	Prefix string

	// Sliding window length
	Window time.Duration

	// Count of verifications within window to raise level to MEDIUM and HIGH
	MediumThreshold int64
	HighThreshold   int64
}

// Noop scorer always reports low risk
type Noop struct{}

func (Noop) Observe(context.Context, uuid.UUID, time.Time) (string, error) {
	return models.RiskLow, nil
}

type RedisWindow struct {
	client redis.UniversalClient
	cfg    Config
}

func NewRedisWindow(client redis.UniversalClient, cfg Config) *RedisWindow {
	if cfg.Prefix == "" {
		cfg.Prefix = defaultPrefix
	}
	if cfg.Window == 0 {
		cfg.Window = defaultWindow
	}
	if cfg.MediumThreshold == 0 {
		cfg.MediumThreshold = defaultMediumThreshold
	}
	if cfg.HighThreshold == 0 {
		cfg.HighThreshold = defaultHighThreshold
	}

	return &RedisWindow{client: client, cfg: cfg}
}

// Observe records successful verification of the token at 'at' and returns current risk level
func (w *RedisWindow) Observe(ctx context.Context, tokenID uuid.UUID, at time.Time) (string, error) {
	key := fmt.Sprintf("%s:%s", w.cfg.Prefix, tokenID)
	member := fmt.Sprintf("%d-%s", at.UnixMilli(), uuid.NewString())

	count, err := observeScript.Run(ctx, w.client,
		[]string{key},
		at.UnixMilli(), w.cfg.Window.Milliseconds(), member,
	).Int64()
	if err != nil {
		return models.RiskLow, fmt.Errorf("redis error: %w", err)
	}

	return w.level(count), nil
}

func (w *RedisWindow) level(count int64) string {
	switch {
	case count >= w.cfg.HighThreshold:
		return models.RiskHigh
	case count >= w.cfg.MediumThreshold:
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}
