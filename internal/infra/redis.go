package infra

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisDialTimeout = 2 * time.Second
	redisIOTimeout   = time.Second
)

// NewRedisClient opens the client behind the idempotency cache and the rate limiter.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redisOptions(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opt)
	ping := func(ctx context.Context) error { return client.Ping(ctx).Err() }
	if err := verify(ctx, "redis", redisDialTimeout, ping, func() { _ = client.Close() }); err != nil {
		return nil, err
	}
	return client, nil
}

// redisOptions parses url and caps every network step. A slow cache must not stall money routes.
func redisOptions(url string) (*redis.Options, error) {
	if url == "" {
		return nil, errors.New("redis url is required")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opt.DialTimeout = redisDialTimeout
	opt.ReadTimeout = redisIOTimeout
	opt.WriteTimeout = redisIOTimeout
	opt.MaxRetries = 1
	return opt, nil
}
