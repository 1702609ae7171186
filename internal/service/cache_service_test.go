package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forum-api/internal/cache"
	"forum-api/internal/model"
)

func newCacheFixture(files ...*model.File) (CacheService, *fakeURLCache) {
	repo := newFakeFileRepo(files...)
	urls := newFakeURLCache()
	fileSvc := NewFileService(repo, &fakeSigner{}, urls, time.Hour)
	stats := func(context.Context) (cache.ServerStats, error) {
		return cache.ServerStats{
			UsedMemoryHuman:        "1.20M",
			ConnectedClients:       3,
			TotalCommandsProcessed: 1000,
			KeyspaceHits:           2,
			KeyspaceMisses:         1,
		}, nil
	}
	return NewCacheService(urls, repo, fileSvc, stats), urls
}

func TestCacheStats(t *testing.T) {
	svc, urls := newCacheFixture()
	urls.entries["a"] = cachedURL{url: "u", ttl: time.Hour}

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.20M", stats.MemoryUsed)
	assert.Equal(t, int64(3), stats.ConnectedClients)
	assert.Equal(t, int64(1), stats.FileURLEntries)
	assert.Equal(t, 0.6667, stats.HitRatio)
}

func TestCacheStats_NoLookupsYet(t *testing.T) {
	urls := newFakeURLCache()
	svc := NewCacheService(urls, newFakeFileRepo(), nil, func(context.Context) (cache.ServerStats, error) {
		return cache.ServerStats{UsedMemoryHuman: "N/A"}, nil
	})

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "N/A", stats.HitRatio)

	failing := NewCacheService(urls, newFakeFileRepo(), nil, func(context.Context) (cache.ServerStats, error) {
		return cache.ServerStats{}, errors.New("connection refused")
	})
	_, err = failing.Stats(context.Background())
	assert.Error(t, err)
}

func TestCacheClear(t *testing.T) {
	svc, urls := newCacheFixture()
	urls.entries["a"] = cachedURL{url: "u"}
	urls.entries["b"] = cachedURL{url: "u"}

	n, err := svc.Clear(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = svc.Clear(context.Background(), "missing")
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = svc.Clear(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Empty(t, urls.entries)
}

func TestCacheWarm(t *testing.T) {
	avatar := &model.File{ID: uuid.New(), ObjectName: "a.png", FileType: "avatar"}
	doc := &model.File{ID: uuid.New(), ObjectName: "b.pdf", FileType: model.FileTypeGeneral}
	deleted := &model.File{ID: uuid.New(), ObjectName: "c.pdf", FileType: "avatar", IsDeleted: true}
	ctx := context.Background()

	svc, urls := newCacheFixture(avatar, doc, deleted)
	n, err := svc.Warm(ctx, []uuid.UUID{doc.ID, uuid.New()}, "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, urls.entries, doc.ID.String())

	svc, urls = newCacheFixture(avatar, doc, deleted)
	n, err = svc.Warm(ctx, nil, "avatar")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, urls.entries, avatar.ID.String())

	svc, _ = newCacheFixture(avatar, doc, deleted)
	n, err = svc.Warm(ctx, nil, "")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestCacheRefresh(t *testing.T) {
	soon := &model.File{ID: uuid.New(), ObjectName: "soon.png"}
	later := &model.File{ID: uuid.New(), ObjectName: "later.png"}
	svc, urls := newCacheFixture(soon, later)
	urls.entries[soon.ID.String()] = cachedURL{url: "old", ttl: time.Minute}
	urls.entries[later.ID.String()] = cachedURL{url: "old", ttl: time.Hour}
	urls.entries["not-a-uuid"] = cachedURL{url: "old", ttl: time.Minute}

	n, err := svc.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "https://oss.example/soon.png?signed", urls.entries[soon.ID.String()].url)
	assert.Equal(t, "old", urls.entries[later.ID.String()].url)
}
