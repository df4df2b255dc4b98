package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/recodarr/internal/cache"
	"github.com/jmylchreest/recodarr/internal/models"
)

// stubCache implements LibraryCache.
type stubCache struct {
	stats       cache.Stats
	stale       bool
	lastMaxAge  time.Duration
	entries     []*models.CacheEntry
	invalidated string
	cleared     bool
}

func (s *stubCache) Stats(ctx context.Context) (cache.Stats, error) { return s.stats, nil }

func (s *stubCache) NeedsRefresh(ctx context.Context, maxAge time.Duration) (bool, error) {
	s.lastMaxAge = maxAge
	return s.stale, nil
}

func (s *stubCache) FullIndex(ctx context.Context, root string) (*cache.IndexResult, error) {
	return &cache.IndexResult{Root: root, Files: 10, Dirs: 2}, nil
}

func (s *stubCache) Sync(ctx context.Context, dir string) (int, error) { return 3, nil }

func (s *stubCache) Directory(ctx context.Context, dir string) ([]*models.CacheEntry, error) {
	return s.entries, nil
}

func (s *stubCache) Search(ctx context.Context, query string, videoOnly bool, limit int) ([]*models.CacheEntry, error) {
	return s.entries, nil
}

func (s *stubCache) FolderStats(ctx context.Context, dir string) (*cache.FolderReport, error) {
	return &cache.FolderReport{Path: dir, FileCount: int64(len(s.entries))}, nil
}

func (s *stubCache) Invalidate(ctx context.Context, p string) error {
	s.invalidated = p
	return nil
}

func (s *stubCache) Clear(ctx context.Context) error {
	s.cleared = true
	return nil
}

func TestCacheHandler_NeedsRefresh(t *testing.T) {
	c := &stubCache{stale: true}
	h := NewCacheHandler(c)

	out, err := h.NeedsRefresh(context.Background(), &NeedsRefreshInput{MaxAgeHours: 24})
	require.NoError(t, err)
	assert.True(t, out.Body.NeedsRefresh)
	assert.Equal(t, 24*time.Hour, c.lastMaxAge)
}

func TestCacheHandler_FullIndex(t *testing.T) {
	h := NewCacheHandler(&stubCache{})

	input := &FullIndexInput{}
	input.Body.Root = "/library"
	out, err := h.FullIndex(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, "/library", out.Body.Root)
	assert.Equal(t, 10, out.Body.Files)
}

func TestCacheHandler_Sync(t *testing.T) {
	h := NewCacheHandler(&stubCache{})

	input := &SyncInput{}
	input.Body.Dir = "/library/movies"
	out, err := h.Sync(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, 3, out.Body.Refreshed)
	assert.Equal(t, "3 entries refreshed", out.Body.Message)
}

func TestCacheHandler_InvalidateAndClear(t *testing.T) {
	c := &stubCache{}
	h := NewCacheHandler(c)

	_, err := h.Invalidate(context.Background(), &InvalidateInput{Path: "/library/movies/old.mkv"})
	require.NoError(t, err)
	assert.Equal(t, "/library/movies/old.mkv", c.invalidated)

	_, err = h.Clear(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, c.cleared)
}
