package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const blacklistPrefix = "jwt_blacklist:"

// TokenBlacklist remembers revoked access token ids until the token would have expired anyway.
type TokenBlacklist struct {
	rdb       *redis.Client
	namespace string
}

func NewTokenBlacklist(rdb *redis.Client, namespace string) *TokenBlacklist {
	return &TokenBlacklist{rdb: rdb, namespace: namespace}
}

func (b *TokenBlacklist) Add(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	return b.rdb.Set(ctx, b.namespace+blacklistPrefix+jti, "1", ttl).Err()
}

func (b *TokenBlacklist) Contains(ctx context.Context, jti string) (bool, error) {
	n, err := b.rdb.Exists(ctx, b.namespace+blacklistPrefix+jti).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
