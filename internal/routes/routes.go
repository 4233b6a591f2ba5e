package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/workbridge/escrow/internal/auth"
	"github.com/workbridge/escrow/internal/config"
	"github.com/workbridge/escrow/internal/dispute"
	"github.com/workbridge/escrow/internal/funding"
	"github.com/workbridge/escrow/internal/middleware"
	"github.com/workbridge/escrow/internal/notification"
	"github.com/workbridge/escrow/internal/payments"
	"github.com/workbridge/escrow/internal/store"
	"github.com/workbridge/escrow/internal/wallet"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg      config.Config
	DB       *pgxpool.Pool
	Cache    *redis.Client
	Notifier notification.Notifier
	Logger   *slog.Logger
	// Store overrides the store built from DB.
	Store store.Store
	// Checkout overrides the redirect-only checkout built from the config.
	Checkout funding.Checkout
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if !d.Cfg.Development() {
		if d.DB == nil && d.Store == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}

	st := d.Store
	switch {
	case st != nil:
	case d.DB != nil:
		st = store.NewPostgres(d.DB)
	default:
		d.Logger.Warn("DATABASE_URL not set, balances live in memory for this process")
		st = store.NewMemory()
	}
	notifier := d.Notifier
	if notifier == nil {
		notifier = notification.NewLoggerNotifier(d.Logger)
	}
	checkout := d.Checkout
	if checkout == nil {
		checkout = funding.StaticCheckout{BaseURL: d.Cfg.CheckoutBaseURL}
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)

	paymentSvc := payments.NewService(st, checkout, notifier, d.Logger)
	disputeSvc := dispute.NewService(st, paymentSvc, notifier, d.Logger)

	h := handlers{
		wallet:   wallet.NewHandler(paymentSvc),
		funding:  funding.NewHandler(paymentSvc, d.Cfg.CheckoutWebhookSecret),
		payments: payments.NewHandler(paymentSvc),
		dispute:  dispute.NewHandler(disputeSvc),
	}

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	// Signed by the checkout provider and deduplicated by reference, so no bearer token or
	// Idempotency-Key.
	RegisterWebhookRoutes(api, h.funding)

	protected := api.Group("",
		middleware.JWTAuth(auth.NewVerifier(d.Cfg.JWTSecret)),
		middleware.Idempotency(middleware.IdempotencyConfig{
			Cache:  d.Cache,
			TTL:    d.Cfg.IdempotencyTTL,
			Logger: d.Logger,
		}),
	)
	money := middleware.RateLimit(d.Cache, d.Cfg.RateLimitPerMinute, d.Logger)

	RegisterWalletRoutes(protected, h, money)
	RegisterEscrowRoutes(protected, h, money)
	RegisterDashboardRoutes(protected, h)

	return nil
}

type handlers struct {
	wallet   *wallet.Handler
	funding  *funding.Handler
	payments *payments.Handler
	dispute  *dispute.Handler
}
