package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"forum-api/internal/config"
)

// NewClient connects to the Redis database selected for the running environment.
func NewClient(ctx context.Context, cfg config.Config) (*redis.Client, error) {
	addr, password, db := cfg.RedisOptions()
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping %s/%d: %w", addr, db, err)
	}
	return rdb, nil
}
