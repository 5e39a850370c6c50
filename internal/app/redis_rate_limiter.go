package app

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var mutationRateLimitScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// RedisMutationRateLimiter implements distributed per-caller rate limiting for
// the mutating engine endpoints using Redis.
type RedisMutationRateLimiter struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisMutationRateLimiter(client redis.UniversalClient, prefix string) *RedisMutationRateLimiter {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "ajopool:rate_limit"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")

	return &RedisMutationRateLimiter{
		client: client,
		prefix: trimmedPrefix,
	}
}

// Consume counts one attempt for (scope, subject) inside a fixed window and
// reports how many attempts the window has seen. A nil limiter or
// non-positive limit disables limiting.
func (r *RedisMutationRateLimiter) Consume(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error) {
	if r == nil || r.client == nil || limit <= 0 || window <= 0 {
		return 0, 0, nil
	}

	normalizedScope := strings.TrimSpace(scope)
	normalizedSubject := strings.TrimSpace(subject)
	if normalizedScope == "" || normalizedSubject == "" {
		return 0, 0, nil
	}

	windowMs := window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}

	key := fmt.Sprintf("%s:%s:%s", r.prefix, normalizedScope, normalizedSubject)
	rawResult, err := mutationRateLimitScript.Run(ctx, r.client, []string{key}, windowMs).Result()
	if err != nil {
		return 0, 0, err
	}

	values, ok := rawResult.([]interface{})
	if !ok || len(values) != 2 {
		return 0, 0, fmt.Errorf("unexpected redis limiter response shape: %T", rawResult)
	}

	currentCount, ok := values[0].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("unexpected redis limiter count type: %T", values[0])
	}

	ttlMs, ok := values[1].(int64)
	if !ok {
		return int(currentCount), 0, fmt.Errorf("unexpected redis limiter ttl type: %T", values[1])
	}
	if ttlMs < 0 {
		ttlMs = windowMs
	}

	retryAfter := int(math.Ceil(float64(ttlMs) / 1000.0))
	if retryAfter < 1 {
		retryAfter = 1
	}

	return int(currentCount), retryAfter, nil
}

// ConsumeMutationRateLimit counts one mutating request for the caller and
// reports whether it stays within the configured per-minute budget. Limiter
// errors fail open: an unreachable Redis must not block payment attestation.
func (s *Service) ConsumeMutationRateLimit(ctx context.Context, userID string) (allowed bool, retryAfterSeconds int) {
	if s.mutationRateLimiter == nil || s.mutationRateLimitPerMinute <= 0 {
		return true, 0
	}
	count, retryAfter, err := s.mutationRateLimiter.Consume(ctx, "engine_mutation", userID, s.mutationRateLimitPerMinute, time.Minute)
	if err != nil {
		return true, 0
	}
	if count > s.mutationRateLimitPerMinute {
		return false, retryAfter
	}
	return true, 0
}
