package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const fileURLPrefix = "file_url:"

// FileURLCache stores signed object URLs keyed by file id.
type FileURLCache struct {
	rdb       *redis.Client
	namespace string
}

func NewFileURLCache(rdb *redis.Client, namespace string) *FileURLCache {
	return &FileURLCache{rdb: rdb, namespace: namespace}
}

func (c *FileURLCache) key(fileID string) string {
	return c.namespace + fileURLPrefix + fileID
}

func (c *FileURLCache) pattern() string {
	return c.namespace + fileURLPrefix + "*"
}

// Get returns the cached URL, or "" on a miss.
func (c *FileURLCache) Get(ctx context.Context, fileID string) (string, error) {
	url, err := c.rdb.Get(ctx, c.key(fileID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return url, err
}

func (c *FileURLCache) Set(ctx context.Context, fileID, url string, ttl time.Duration) error {
	return c.rdb.Set(ctx, c.key(fileID), url, ttl).Err()
}

func (c *FileURLCache) Delete(ctx context.Context, fileID string) (int64, error) {
	return c.rdb.Del(ctx, c.key(fileID)).Result()
}

// Clear removes every cached file URL and returns how many keys went away.
func (c *FileURLCache) Clear(ctx context.Context) (int64, error) {
	var cleared int64
	iter := c.rdb.Scan(ctx, 0, c.pattern(), 100).Iterator()
	for iter.Next(ctx) {
		n, err := c.rdb.Del(ctx, iter.Val()).Result()
		if err != nil {
			return cleared, err
		}
		cleared += n
	}
	return cleared, iter.Err()
}

func (c *FileURLCache) Count(ctx context.Context) (int64, error) {
	var n int64
	iter := c.rdb.Scan(ctx, 0, c.pattern(), 100).Iterator()
	for iter.Next(ctx) {
		n++
	}
	return n, iter.Err()
}

// Expiring lists file ids whose entry has a TTL strictly between zero and threshold.
func (c *FileURLCache) Expiring(ctx context.Context, threshold time.Duration) ([]string, error) {
	var ids []string
	prefix := c.namespace + fileURLPrefix
	iter := c.rdb.Scan(ctx, 0, c.pattern(), 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		ttl, err := c.rdb.TTL(ctx, key).Result()
		if err != nil {
			return nil, err
		}
		if ttl > 0 && ttl < threshold {
			ids = append(ids, strings.TrimPrefix(key, prefix))
		}
	}
	return ids, iter.Err()
}
