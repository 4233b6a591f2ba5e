package middleware

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/workbridge/escrow/internal/auth"
	"github.com/workbridge/escrow/internal/logging"
)

type idemApp struct {
	app   *fiber.App
	mr    *miniredis.Miniredis
	calls *atomic.Int64
}

func setupTestApp(t *testing.T) idemApp {
	t.Helper()
	mr := miniredis.RunT(t)

	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { cache.Close() })

	calls := &atomic.Int64{}
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		if uid := c.Get("X-Test-User"); uid != "" {
			c.Locals(principalKey, auth.Principal{UserID: uid, Role: auth.RoleUser})
		}
		return c.Next()
	})
	app.Use(Idempotency(IdempotencyConfig{
		Cache:  cache,
		TTL:    time.Minute,
		Logger: logging.Discard(),
		Skip:   func(c *fiber.Ctx) bool { return strings.HasSuffix(c.Path(), "/webhook") },
	}))
	handler := func(c *fiber.Ctx) error {
		n := calls.Add(1)
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"call": n})
	}
	app.Post("/resource", handler)
	app.Post("/webhook", handler)
	app.Post("/failing", func(c *fiber.Ctx) error {
		calls.Add(1)
		return fiber.NewError(fiber.StatusServiceUnavailable, "try again")
	})

	return idemApp{app: app, mr: mr, calls: calls}
}

func post(t *testing.T, app *fiber.App, path, key, user string) (int, string) {
	t.Helper()
	return postBody(t, app, path, key, user, "{}")
}

func postBody(t *testing.T, app *fiber.App, path, key, user, payload string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, path, strings.NewReader(payload))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if key != "" {
		req.Header.Set(idempotencyKeyHeader, key)
	}
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestIdempotencyRequiresHeader(t *testing.T) {
	ta := setupTestApp(t)

	status, _ := post(t, ta.app, "/resource", "", "u1")

	require.Equal(t, fiber.StatusBadRequest, status)
	require.Zero(t, ta.calls.Load())
}

func TestIdempotencyReturnsCachedResponse(t *testing.T) {
	ta := setupTestApp(t)

	status, first := post(t, ta.app, "/resource", "abc123", "u1")
	require.Equal(t, fiber.StatusCreated, status)

	// Second request returns the cached response without invoking the handler again.
	status, second := post(t, ta.app, "/resource", "abc123", "u1")
	require.Equal(t, fiber.StatusCreated, status)
	require.JSONEq(t, first, second)
	require.EqualValues(t, 1, ta.calls.Load())
}

func TestIdempotencyRejectsReusedKey(t *testing.T) {
	ta := setupTestApp(t)

	status, _ := postBody(t, ta.app, "/resource", "k1", "u1", `{"amount":"10"}`)
	require.Equal(t, fiber.StatusCreated, status)

	status, _ = postBody(t, ta.app, "/resource", "k1", "u1", `{"amount":"99"}`)
	require.Equal(t, fiber.StatusUnprocessableEntity, status)
	require.EqualValues(t, 1, ta.calls.Load())
}

func TestIdempotencyInProgress(t *testing.T) {
	ta := setupTestApp(t)
	pending, err := json.Marshal(idemRecord{Pending: true, Fingerprint: "other"})
	require.NoError(t, err)
	require.NoError(t, ta.mr.Set(idempotencyPrefix+"u1:busy", string(pending)))

	status, _ := post(t, ta.app, "/resource", "busy", "u1")
	require.Equal(t, fiber.StatusUnprocessableEntity, status)

	pending, err = json.Marshal(idemRecord{Pending: true, Fingerprint: fingerprintOf(t)})
	require.NoError(t, err)
	require.NoError(t, ta.mr.Set(idempotencyPrefix+"u1:busy", string(pending)))

	status, _ = post(t, ta.app, "/resource", "busy", "u1")
	require.Equal(t, fiber.StatusConflict, status)
	require.Zero(t, ta.calls.Load())
}

// fingerprintOf captures the fingerprint of POST /resource with an empty JSON object.
func fingerprintOf(t *testing.T) string {
	t.Helper()
	var got string
	app := fiber.New()
	app.Post("/resource", func(c *fiber.Ctx) error {
		got = requestFingerprint(c)
		return nil
	})
	req := httptest.NewRequest(fiber.MethodPost, "/resource", strings.NewReader("{}"))
	resp, err := app.Test(req)
	require.NoError(t, err)
	resp.Body.Close()
	return got
}

func TestIdempotencyReleasesKeyOnError(t *testing.T) {
	ta := setupTestApp(t)

	status, _ := post(t, ta.app, "/failing", "retry-me", "u1")
	require.Equal(t, fiber.StatusServiceUnavailable, status)
	status, _ = post(t, ta.app, "/failing", "retry-me", "u1")
	require.Equal(t, fiber.StatusServiceUnavailable, status)

	require.EqualValues(t, 2, ta.calls.Load(), "a failed request does not burn its key")
	require.False(t, ta.mr.Exists(idempotencyPrefix+"u1:retry-me"))
}

func TestIdempotencyKeysAreScopedPerUser(t *testing.T) {
	ta := setupTestApp(t)

	_, first := post(t, ta.app, "/resource", "same-key", "u1")
	_, second := post(t, ta.app, "/resource", "same-key", "u2")

	require.NotEqual(t, first, second)
	require.EqualValues(t, 2, ta.calls.Load())
}

func TestIdempotencySkip(t *testing.T) {
	ta := setupTestApp(t)

	status, _ := post(t, ta.app, "/webhook", "", "")
	require.Equal(t, fiber.StatusCreated, status)
	status, _ = post(t, ta.app, "/webhook", "", "")
	require.Equal(t, fiber.StatusCreated, status)

	require.EqualValues(t, 2, ta.calls.Load())
}
