package client

import (
	"context"
	"fmt"
	"paypal-billing-service/internal/config"
	"time"

	"github.com/redis/go-redis/v9"
)

// InitRedisClient connects and pings so a misconfigured idempotency
// backend fails at startup.
func InitRedisClient(ctx context.Context, cfg *config.Redis) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}

	return rdb, nil
}
