package cache

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Throttle allows one action per key within a window.
type Throttle struct {
	rdb       *redis.Client
	namespace string
	prefix    string
	window    time.Duration
}

func NewThrottle(rdb *redis.Client, namespace, name string, window time.Duration) *Throttle {
	return &Throttle{rdb: rdb, namespace: namespace, prefix: name + ":", window: window}
}

// Allow reports whether the action may run now and reserves the window if so.
func (t *Throttle) Allow(ctx context.Context, key string) (bool, error) {
	k := t.namespace + t.prefix + strings.ToLower(strings.TrimSpace(key))
	return t.rdb.SetNX(ctx, k, "1", t.window).Result()
}
