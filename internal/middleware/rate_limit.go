package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const rateLimitPrefix = "rl:money:"

// RateLimit caps money-moving requests per authenticated user, falling back to the client IP,
// using a fixed one-minute window in Redis.
func RateLimit(cache *redis.Client, maxPerMin int, logger *slog.Logger) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 30
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next() // no-op without Redis
		}
		subject := c.IP()
		if p, ok := PrincipalFrom(c); ok {
			subject = p.UserID
		}
		key := rateLimitPrefix + subject
		cnt, err := hit(c.UserContext(), cache, key)
		if err != nil {
			logger.Warn("rate limit lookup failed", slog.String("subject", subject), slog.Any("error", err))
			return c.Next() // fail-open on cache errors
		}
		if cnt > int64(maxPerMin) {
			return fiber.NewError(http.StatusTooManyRequests, "too many requests, try again later")
		}
		return c.Next()
	}
}

// hit counts one request in key's window. A window left without an expiry, such as after a
// failed EXPIRE, gets one again on the next hit.
func hit(ctx context.Context, cache *redis.Client, key string) (int64, error) {
	pipe := cache.TxPipeline()
	incr := pipe.Incr(ctx, key)
	ttl := pipe.TTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	if ttl.Val() < 0 {
		if err := cache.Expire(ctx, key, time.Minute).Err(); err != nil {
			return 0, err
		}
	}
	return incr.Val(), nil
}
