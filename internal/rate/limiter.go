package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrRateLimited is returned when a counter exceeds its budget.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps transport failures so callers can treat
	// them as retryable.
	ErrRedisUnavailable = errors.New("redis unavailable")
)

// Config holds rate limiter tuning parameters.
type Config struct {
	// Prefix namespaces the counter keys so deployments sharing a Redis
	// instance do not throttle each other.
	Prefix                 string
	EnableIPThrottle       bool
	MaxSignInAttempts      int
	SignInCooldown         time.Duration
	MaxRefreshAttempts     int
	RefreshCooldown        time.Duration
	MaxPasswordlessGuesses int
	PasswordlessCooldown   time.Duration
}

// Limiter enforces per-identifier, per-IP, and per-session rate limits
// using Redis counters. A nil Limiter disables all throttling.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{redis: redisClient, config: cfg}
}

func (l *Limiter) key(suffix string) string {
	if l.config.Prefix == "" {
		return suffix
	}
	return l.config.Prefix + ":" + suffix
}

// CheckSignIn checks whether the identifier+IP pair is within the sign-in
// attempt budget without recording an attempt.
func (l *Limiter) CheckSignIn(ctx context.Context, identifier, ip string) error {
	if l == nil {
		return nil
	}
	if err := l.checkCounter(ctx, l.key("si:"+identifier), l.config.MaxSignInAttempts); err != nil {
		return err
	}
	if l.config.EnableIPThrottle && ip != "" {
		if err := l.checkCounter(ctx, l.key("sip:"+ip), l.config.MaxSignInAttempts); err != nil {
			return err
		}
	}
	return nil
}

// RecordSignInFailure records a failed sign-in attempt for the
// identifier+IP pair.
func (l *Limiter) RecordSignInFailure(ctx context.Context, identifier, ip string) error {
	if l == nil {
		return nil
	}
	count, err := l.incrementWithTTL(ctx, l.key("si:"+identifier), l.config.SignInCooldown)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxSignInAttempts) {
		return ErrRateLimited
	}

	if l.config.EnableIPThrottle && ip != "" {
		count, err = l.incrementWithTTL(ctx, l.key("sip:"+ip), l.config.SignInCooldown)
		if err != nil {
			return err
		}
		if count > int64(l.config.MaxSignInAttempts) {
			return ErrRateLimited
		}
	}
	return nil
}

// ResetSignIn clears the failure counter after a successful sign-in.
func (l *Limiter) ResetSignIn(ctx context.Context, identifier, ip string) error {
	if l == nil {
		return nil
	}
	keys := []string{l.key("si:" + identifier)}
	if l.config.EnableIPThrottle && ip != "" {
		keys = append(keys, l.key("sip:"+ip))
	}
	if err := l.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// CheckRefresh enforces the refresh budget for a session handle by
// incrementing the counter and applying the cooldown TTL.
func (l *Limiter) CheckRefresh(ctx context.Context, handle string) error {
	if l == nil || l.config.MaxRefreshAttempts <= 0 {
		return nil
	}
	count, err := l.incrementWithTTL(ctx, l.key("rf:"+handle), l.config.RefreshCooldown)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxRefreshAttempts) {
		return ErrRateLimited
	}
	return nil
}

// CheckPasswordlessGuess enforces the one-time-code guess budget per device.
func (l *Limiter) CheckPasswordlessGuess(ctx context.Context, deviceID string) error {
	if l == nil || l.config.MaxPasswordlessGuesses <= 0 {
		return nil
	}
	count, err := l.incrementWithTTL(ctx, l.key("pl:"+deviceID), l.config.PasswordlessCooldown)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxPasswordlessGuesses) {
		return ErrRateLimited
	}
	return nil
}

func (l *Limiter) checkCounter(ctx context.Context, key string, maxAttempts int) error {
	count, err := l.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count > int64(maxAttempts) {
		return ErrRateLimited
	}
	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: TTL is set only by the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	return count, nil
}
