// Package cache holds the optional Redis-backed stores: consumer idempotency
// and the rotation analysis cache. Each store has an in-memory twin used when
// Redis is not configured and in tests.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/pharmaflow/pharmaflow-backend/pkg/config"
	"github.com/redis/go-redis/v9"
)

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}
