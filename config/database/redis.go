package database

import (
	"context"
	"fmt"
	"time"

	"collabcanvas/config"
	"collabcanvas/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// ConnectRedis opens the client behind the ephemeral channel and checks it with a ping.
func ConnectRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis %s: %w", cfg.Addr, err)
	}

	logger.Sugar.Infof("Connected to Redis at %s", cfg.Addr)
	return client, nil
}
