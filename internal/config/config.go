package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

const (
	defaultAppName         = "Workbridge Escrow"
	defaultAppEnv          = EnvDevelopment
	defaultPort            = "8080"
	defaultLogLevel        = "info"
	defaultShutdownDelay   = 10 * time.Second
	defaultIdempotencyTTL  = 24 * time.Hour
	defaultRateLimit       = 30
	defaultCheckoutBaseURL = "http://localhost:8080/checkout"
	defaultKafkaTopic      = "escrow.notifications"
	defaultEnvFile         = ".env"
	idemTTLSecondsEnvVar   = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar       = "IDEMPOTENCY_TTL"
	shutdownSecondsEnvVar  = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar = "SHUTDOWN_TIMEOUT"
)

const EnvDevelopment = "development"

// Config captures application runtime configuration.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	JWTSecret             string
	CheckoutBaseURL       string
	CheckoutWebhookSecret string
	KafkaBrokers          string
	KafkaTopic            string
	RateLimitPerMinute    int
}

// Load builds the configuration from defaults, then a .env file, then the environment, then
// command line flags. Each layer overrides the previous one.
func Load(args []string, getenv func(string) string) (Config, error) {
	fs := pflag.NewFlagSet("escrow", pflag.ContinueOnError)
	envFile := fs.String("env-file", defaultEnvFile, "Path of an optional .env file")
	port := fs.StringP("port", "p", "", "HTTP listen port")
	logLevel := fs.StringP("log-level", "l", "", "Logging level (debug, info, warn, error)")
	databaseURL := fs.StringP("database-url", "d", "", "PostgreSQL connection string")
	redisURL := fs.StringP("redis-url", "r", "", "Redis connection string")
	appEnv := fs.StringP("env", "e", "", "Environment (development, production)")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	dotenv, err := godotenv.Read(*envFile)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("read %s: %w", *envFile, err)
	}
	lookup := func(key string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return dotenv[key]
	}
	get := func(key, fallback string) string {
		if v := lookup(key); v != "" {
			return v
		}
		return fallback
	}

	cfg := Config{
		AppName:               get("APP_NAME", defaultAppName),
		AppEnv:                get("APP_ENV", defaultAppEnv),
		Port:                  get("PORT", defaultPort),
		LogLevel:              strings.ToLower(get("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:           lookup("DATABASE_URL"),
		RedisURL:              lookup("REDIS_URL"),
		ShutdownPeriod:        defaultShutdownDelay,
		IdempotencyTTL:        defaultIdempotencyTTL,
		JWTSecret:             lookup("JWT_SECRET"),
		CheckoutBaseURL:       get("CHECKOUT_BASE_URL", defaultCheckoutBaseURL),
		CheckoutWebhookSecret: lookup("CHECKOUT_WEBHOOK_SECRET"),
		KafkaBrokers:          lookup("KAFKA_BROKERS"),
		KafkaTopic:            get("KAFKA_TOPIC", defaultKafkaTopic),
		RateLimitPerMinute:    defaultRateLimit,
	}

	if cfg.ShutdownPeriod, err = duration(lookup, shutdownSecondsEnvVar, shutdownDurationEnvVar, cfg.ShutdownPeriod); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = duration(lookup, idemTTLSecondsEnvVar, idemTTLDurEnvVar, cfg.IdempotencyTTL); err != nil {
		return Config{}, err
	}
	if v := lookup("RATE_LIMIT_PER_MINUTE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Config{}, fmt.Errorf("invalid RATE_LIMIT_PER_MINUTE: %q", v)
		}
		cfg.RateLimitPerMinute = n
	}

	for _, o := range []struct {
		flag  *string
		field *string
	}{
		{port, &cfg.Port},
		{logLevel, &cfg.LogLevel},
		{databaseURL, &cfg.DatabaseURL},
		{redisURL, &cfg.RedisURL},
		{appEnv, &cfg.AppEnv},
	} {
		if *o.flag != "" {
			*o.field = *o.flag
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Development reports whether the service runs with development fallbacks.
func (c Config) Development() bool {
	return c.AppEnv == EnvDevelopment
}

func (c Config) validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must be set")
	}
	if c.CheckoutWebhookSecret == "" {
		return fmt.Errorf("CHECKOUT_WEBHOOK_SECRET must be set")
	}
	if c.Development() {
		return nil
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL must be set")
	}
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL must be set")
	}
	return nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// duration reads a whole number of seconds from secondsKey, else a Go duration from durationKey.
func duration(lookup func(string) string, secondsKey, durationKey string, fallback time.Duration) (time.Duration, error) {
	if v := lookup(secondsKey); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if v := lookup(durationKey); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", durationKey, err)
		}
		return d, nil
	}
	return fallback, nil
}
