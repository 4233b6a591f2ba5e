package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	idempotencyPrefix    = "escrow:idem:"
	idempotencyTimeout   = 2 * time.Second
	maxIdempotencyKey    = 128
)

// replayHeaders are the response headers restored on a replay.
var replayHeaders = []string{fiber.HeaderContentType, fiber.HeaderLocation}

// idemRecord is what the cache holds for one key. Pending records only carry the fingerprint.
type idemRecord struct {
	Pending     bool              `json:"pending,omitempty"`
	Fingerprint string            `json:"fingerprint"`
	Status      int               `json:"status,omitempty"`
	Body        []byte            `json:"body,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// IdempotencyConfig configures the Idempotency middleware.
type IdempotencyConfig struct {
	Cache  *redis.Client
	TTL    time.Duration
	Logger *slog.Logger
	// Skip exempts requests, such as signed webhooks that carry their own dedup reference.
	Skip func(c *fiber.Ctx) bool
}

// Idempotency makes unsafe requests replayable. The first response stored under a caller's
// Idempotency-Key is returned for every retry with the same body; reusing the key with a
// different body is rejected with 422, and a retry racing the original gets 409.
func Idempotency(cfg IdempotencyConfig) fiber.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *fiber.Ctx) error {
		if safeMethod(c.Method()) || cfg.Cache == nil || (cfg.Skip != nil && cfg.Skip(c)) {
			return c.Next()
		}

		key := c.Get(idempotencyKeyHeader)
		if key == "" || len(key) > maxIdempotencyKey {
			return fiber.NewError(fiber.StatusBadRequest, "an Idempotency-Key header of at most 128 characters is required")
		}
		cacheKey := scopedIdempotencyKey(c, key)
		fingerprint := requestFingerprint(c)
		log := logger.With(slog.String("idempotency_key", key), slog.String("path", c.Path()))

		ctx, cancel := context.WithTimeout(c.UserContext(), idempotencyTimeout)
		defer cancel()

		prev, found, err := loadRecord(ctx, cfg.Cache, cacheKey)
		if err != nil {
			log.Error("idempotency lookup failed", slog.Any("error", err))
			return fiber.NewError(fiber.StatusServiceUnavailable, "idempotency store unavailable")
		}
		if found {
			return replay(c, prev, fingerprint)
		}

		pending, _ := json.Marshal(idemRecord{Pending: true, Fingerprint: fingerprint})
		reserved, err := cfg.Cache.SetNX(ctx, cacheKey, pending, cfg.TTL).Result()
		if err != nil {
			log.Error("idempotency reservation failed", slog.Any("error", err))
			return fiber.NewError(fiber.StatusServiceUnavailable, "idempotency store unavailable")
		}
		if !reserved {
			return fiber.NewError(fiber.StatusConflict, "a request with this Idempotency-Key is in progress")
		}

		if err := c.Next(); err != nil {
			// Failed requests may be retried with the same key.
			release(cfg.Cache, cacheKey, log)
			return err
		}

		if err := persist(cfg.Cache, cacheKey, captureResponse(c, fingerprint), cfg.TTL); err != nil {
			log.Error("failed to persist idempotent response", slog.Any("error", err))
			release(cfg.Cache, cacheKey, log)
		}
		return nil
	}
}

func safeMethod(method string) bool {
	switch method {
	case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
		return true
	}
	return false
}

func loadRecord(ctx context.Context, cache *redis.Client, key string) (idemRecord, bool, error) {
	raw, err := cache.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return idemRecord{}, false, nil
	}
	if err != nil {
		return idemRecord{}, false, err
	}
	var rec idemRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return idemRecord{}, false, err
	}
	return rec, true, nil
}

func replay(c *fiber.Ctx, rec idemRecord, fingerprint string) error {
	if rec.Fingerprint != fingerprint {
		return fiber.NewError(fiber.StatusUnprocessableEntity, "Idempotency-Key was already used with a different request")
	}
	if rec.Pending {
		return fiber.NewError(fiber.StatusConflict, "a request with this Idempotency-Key is in progress")
	}
	for name, value := range rec.Headers {
		c.Set(name, value)
	}
	c.Set("Idempotent-Replayed", "true")
	return c.Status(rec.Status).Send(rec.Body)
}

func captureResponse(c *fiber.Ctx, fingerprint string) idemRecord {
	rec := idemRecord{
		Fingerprint: fingerprint,
		Status:      c.Response().StatusCode(),
		Body:        append([]byte(nil), c.Response().Body()...),
		Headers:     map[string]string{},
	}
	for _, name := range replayHeaders {
		if v := c.Response().Header.Peek(name); len(v) > 0 {
			rec.Headers[name] = string(v)
		}
	}
	return rec
}

func persist(cache *redis.Client, key string, rec idemRecord, ttl time.Duration) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), idempotencyTimeout)
	defer cancel()
	return cache.Set(ctx, key, payload, ttl).Err()
}

// release drops a reservation. It runs after the request context may be gone.
func release(cache *redis.Client, key string, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), idempotencyTimeout)
	defer cancel()
	if err := cache.Del(ctx, key).Err(); err != nil {
		log.Warn("failed to release idempotency key", slog.Any("error", err))
	}
}

func requestFingerprint(c *fiber.Ctx) string {
	h := sha256.New()
	h.Write([]byte(c.Method()))
	h.Write([]byte{0})
	h.Write([]byte(c.OriginalURL()))
	h.Write([]byte{0})
	h.Write(c.Body())
	return hex.EncodeToString(h.Sum(nil))
}

func scopedIdempotencyKey(c *fiber.Ctx, key string) string {
	subject := "anonymous"
	if p, ok := PrincipalFrom(c); ok {
		subject = p.UserID
	}
	return idempotencyPrefix + subject + ":" + key
}
