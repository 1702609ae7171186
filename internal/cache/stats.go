package cache

import (
	"bufio"
	"context"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

type ServerStats struct {
	UsedMemoryHuman        string
	ConnectedClients       int64
	TotalCommandsProcessed int64
	KeyspaceHits           int64
	KeyspaceMisses         int64
}

// HitRatio returns hits/(hits+misses) and false when nothing was looked up yet.
func (s ServerStats) HitRatio() (float64, bool) {
	total := s.KeyspaceHits + s.KeyspaceMisses
	if total == 0 {
		return 0, false
	}
	return float64(s.KeyspaceHits) / float64(total), true
}

func Stats(ctx context.Context, rdb *redis.Client) (ServerStats, error) {
	info, err := rdb.Info(ctx, "memory", "clients", "stats").Result()
	if err != nil {
		return ServerStats{}, err
	}
	return parseInfo(info), nil
}

func parseInfo(info string) ServerStats {
	fields := map[string]string{}
	sc := bufio.NewScanner(strings.NewReader(info))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, ":")
		if ok {
			fields[k] = v
		}
	}

	num := func(k string) int64 {
		n, _ := strconv.ParseInt(fields[k], 10, 64)
		return n
	}
	used := fields["used_memory_human"]
	if used == "" {
		used = "N/A"
	}
	return ServerStats{
		UsedMemoryHuman:        used,
		ConnectedClients:       num("connected_clients"),
		TotalCommandsProcessed: num("total_commands_processed"),
		KeyspaceHits:           num("keyspace_hits"),
		KeyspaceMisses:         num("keyspace_misses"),
	}
}
