package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"forum-api/internal/cache"
	"forum-api/internal/model"
	"forum-api/internal/repository"
)

const (
	refreshThreshold = 5 * time.Minute
	warmLatestLimit  = 100
	warmTypeLimit    = 1000
)

// StatsSource reads server level counters from Redis.
type StatsSource func(ctx context.Context) (cache.ServerStats, error)

type CacheStats struct {
	MemoryUsed             string `json:"redis_memory_used"`
	ConnectedClients       int64  `json:"redis_connected_clients"`
	TotalCommandsProcessed int64  `json:"redis_total_commands_processed"`
	FileURLEntries         int64  `json:"file_url_cache_entries"`
	HitRatio               any    `json:"cache_hit_ratio"`
}

type CacheService interface {
	Stats(ctx context.Context) (*CacheStats, error)
	Clear(ctx context.Context, fileID string) (int64, error)
	Warm(ctx context.Context, fileIDs []uuid.UUID, fileType string) (int, error)
	Refresh(ctx context.Context) (int, error)
}

type cacheService struct {
	urls  URLCache
	files repository.FileRepository
	sign  FileService
	stats StatsSource
}

func NewCacheService(urls URLCache, files repository.FileRepository, sign FileService, stats StatsSource) CacheService {
	return &cacheService{urls: urls, files: files, sign: sign, stats: stats}
}

func (s *cacheService) Stats(ctx context.Context) (*CacheStats, error) {
	server, err := s.stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("redis info: %w", err)
	}
	entries, err := s.urls.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count file urls: %w", err)
	}

	out := &CacheStats{
		MemoryUsed:             server.UsedMemoryHuman,
		ConnectedClients:       server.ConnectedClients,
		TotalCommandsProcessed: server.TotalCommandsProcessed,
		FileURLEntries:         entries,
		HitRatio:               "N/A",
	}
	if ratio, ok := server.HitRatio(); ok {
		out.HitRatio = math.Round(ratio*10000) / 10000
	}
	return out, nil
}

// Clear drops one file's entry, or every file URL when fileID is empty.
func (s *cacheService) Clear(ctx context.Context, fileID string) (int64, error) {
	if fileID != "" {
		return s.urls.Delete(ctx, fileID)
	}
	return s.urls.Clear(ctx)
}

func (s *cacheService) Warm(ctx context.Context, fileIDs []uuid.UUID, fileType string) (int, error) {
	var (
		files []model.File
		err   error
	)
	switch {
	case len(fileIDs) > 0:
		files, err = s.files.FindByIDs(ctx, fileIDs)
	case fileType != "":
		files, err = s.files.ListByType(ctx, fileType, warmTypeLimit)
	default:
		files, err = s.files.ListLatest(ctx, warmLatestLimit)
	}
	if err != nil {
		return 0, fmt.Errorf("load files: %w", err)
	}

	return s.cacheAll(ctx, files), nil
}

// Refresh re-signs entries that expire within five minutes.
func (s *cacheService) Refresh(ctx context.Context) (int, error) {
	ids, err := s.urls.Expiring(ctx, refreshThreshold)
	if err != nil {
		return 0, fmt.Errorf("scan expiring urls: %w", err)
	}

	var parsed []uuid.UUID
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			continue
		}
		parsed = append(parsed, id)
	}
	if len(parsed) == 0 {
		return 0, nil
	}

	files, err := s.files.FindByIDs(ctx, parsed)
	if err != nil {
		return 0, fmt.Errorf("load files: %w", err)
	}
	return s.cacheAll(ctx, files), nil
}

func (s *cacheService) cacheAll(ctx context.Context, files []model.File) int {
	count := 0
	for i := range files {
		ok, err := s.sign.CacheViewURL(ctx, &files[i])
		if err != nil {
			slog.WarnContext(ctx, "could not cache file url", "file_id", files[i].ID, "error", err)
			continue
		}
		if ok {
			count++
		}
	}
	return count
}
