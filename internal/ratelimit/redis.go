package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "disparos:dispatches:"
	redisKeyTTL    = 48 * time.Hour
)

// Adds ARGV[1] to the day counter and sets the expiry on first write
const confirmLuaScript = `
local increment = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])

local newVal = redis.call("INCRBY", KEYS[1], increment)
if newVal == increment then
    redis.call("EXPIRE", KEYS[1], ttl)
end

return newVal
`

// RedisLimiter keeps one counter key per user and day. Stale days simply
// expire, so there is no explicit reset.
type RedisLimiter struct {
	client        redis.UniversalClient
	settings      SettingsSource
	clock         Clock
	confirmScript *redis.Script
}

func NewRedisLimiter(client redis.UniversalClient, settings SettingsSource, clock Clock) *RedisLimiter {
	return &RedisLimiter{
		client:        client,
		settings:      settings,
		clock:         clock,
		confirmScript: redis.NewScript(confirmLuaScript),
	}
}

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return client, nil
}

func (l *RedisLimiter) Check(ctx context.Context, userID string, n int) (*Result, error) {
	if err := validateCount(n); err != nil {
		return nil, err
	}

	s, err := l.settings.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load daily limit: %w", err)
	}

	used, err := l.client.Get(ctx, l.key(userID)).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read counter: %w", err)
	}

	return newResult(effectiveLimit(s), used, n), nil
}

func (l *RedisLimiter) Confirm(ctx context.Context, userID string, n int) error {
	if err := validateCount(n); err != nil {
		return err
	}

	ttl := int(redisKeyTTL / time.Second)
	if err := l.confirmScript.Run(ctx, l.client, []string{l.key(userID)}, n, ttl).Err(); err != nil {
		return fmt.Errorf("failed to confirm dispatch: %w", err)
	}
	return nil
}

func (l *RedisLimiter) key(userID string) string {
	return redisKeyPrefix + userID + ":" + l.clock.Today()
}
