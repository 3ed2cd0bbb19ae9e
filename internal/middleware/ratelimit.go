package middleware

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/wordai/api/pkg/response"
)

// RateLimiter is a fixed-window per-user limiter backed by Redis counters.
type RateLimiter struct {
	redis *redis.Client
	log   *zerolog.Logger
}

func NewRateLimiter(redisClient *redis.Client, logger *zerolog.Logger) *RateLimiter {
	l := logger.With().Str("component", "RateLimiter").Logger()
	return &RateLimiter{redis: redisClient, log: &l}
}

// Limit allows maxRequests per window per user. A limit <= 0 disables it.
func (rl *RateLimiter) Limit(keyPrefix string, maxRequests int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := GetUserID(c)
		if userID == "" || maxRequests <= 0 {
			return c.Next()
		}

		key := fmt.Sprintf("ratelimit:%s:%s", keyPrefix, userID)
		ctx := c.UserContext()

		count, err := rl.redis.Incr(ctx, key).Result()
		if err != nil {
			// Fail open: the limiter must not take the API down with Redis.
			rl.log.Warn().Err(err).Str("key", key).Msg("rate limit check failed")
			return c.Next()
		}
		if count == 1 {
			rl.redis.Expire(ctx, key, window)
		}

		if count > int64(maxRequests) {
			ttl, _ := rl.redis.TTL(ctx, key).Result()
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(ttl.Seconds())))
			return response.RateLimited(c)
		}

		c.Set("X-RateLimit-Limit", strconv.Itoa(maxRequests))
		c.Set("X-RateLimit-Remaining", strconv.FormatInt(int64(maxRequests)-count, 10))
		return c.Next()
	}
}

// SubmitLimit limits job submissions per hour.
func (rl *RateLimiter) SubmitLimit(maxPerHour int) fiber.Handler {
	return rl.Limit("submit", maxPerHour, time.Hour)
}

// StatusLimit limits status polls per minute.
func (rl *RateLimiter) StatusLimit(maxPerMin int) fiber.Handler {
	return rl.Limit("status", maxPerMin, time.Minute)
}
