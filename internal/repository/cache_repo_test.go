package repository

import (
	"context"
	"testing"
	"time"

	"github.com/jmylchreest/recodarr/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEntries(syncedAt time.Time) []*models.CacheEntry {
	return []*models.CacheEntry{
		{Path: "/media/movies", Name: "movies", ParentDir: "/media", IsDir: true, SyncedAt: syncedAt},
		{Path: "/media/movies/Alpha (2019).mkv", Name: "Alpha (2019).mkv", ParentDir: "/media/movies", Size: 4_000_000_000, SyncedAt: syncedAt},
		{Path: "/media/movies/Beta (2021).mp4", Name: "Beta (2021).mp4", ParentDir: "/media/movies", Size: 2_000_000_000, SyncedAt: syncedAt},
		{Path: "/media/shows", Name: "shows", ParentDir: "/media", IsDir: true, SyncedAt: syncedAt},
	}
}

func TestCacheRepo_UpsertEntries(t *testing.T) {
	repo := NewCacheRepository(setupTestDB(t))
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, repo.UpsertEntries(ctx, sampleEntries(now)))

	count, totalSize, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)
	assert.Equal(t, int64(6_000_000_000), totalSize)

	// A second sync refreshes existing rows instead of duplicating them.
	later := now.Add(time.Hour)
	refreshed := sampleEntries(later)
	refreshed[1].Size = 4_500_000_000
	require.NoError(t, repo.UpsertEntries(ctx, refreshed))

	count, totalSize, err = repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)
	assert.Equal(t, int64(6_500_000_000), totalSize)

	entry, err := repo.GetByPath(ctx, "/media/movies/Alpha (2019).mkv")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, int64(4_500_000_000), entry.Size)
	assert.WithinDuration(t, later, entry.SyncedAt, time.Second)
}

func TestCacheRepo_UpsertEntries_Empty(t *testing.T) {
	repo := NewCacheRepository(setupTestDB(t))
	require.NoError(t, repo.UpsertEntries(context.Background(), nil))
}

func TestCacheRepo_GetByPath_NotFound(t *testing.T) {
	repo := NewCacheRepository(setupTestDB(t))

	entry, err := repo.GetByPath(context.Background(), "/media/missing.mkv")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestCacheRepo_Search(t *testing.T) {
	repo := NewCacheRepository(setupTestDB(t))
	ctx := context.Background()
	require.NoError(t, repo.UpsertEntries(ctx, sampleEntries(time.Now())))

	results, err := repo.Search(ctx, "alpha", 0)
	require.NoError(t, err)
	require.Len(t, results, 1, "matching is case-insensitive")
	assert.Equal(t, "/media/movies/Alpha (2019).mkv", results[0].Path)

	// Directories never match; only files are searchable.
	results, err = repo.Search(ctx, "movies", 0)
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = repo.Search(ctx, "(20", 1)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestCacheRepo_ListDir(t *testing.T) {
	repo := NewCacheRepository(setupTestDB(t))
	ctx := context.Background()
	require.NoError(t, repo.UpsertEntries(ctx, sampleEntries(time.Now())))

	entries, err := repo.ListDir(ctx, "/media")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "movies", entries[0].Name)
	assert.Equal(t, "shows", entries[1].Name)

	entries, err = repo.ListDir(ctx, "/media/movies")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "Alpha (2019).mkv", entries[0].Name)

	entries, err = repo.ListDir(ctx, "/media/empty")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCacheRepo_SetCodec(t *testing.T) {
	repo := NewCacheRepository(setupTestDB(t))
	ctx := context.Background()
	require.NoError(t, repo.UpsertEntries(ctx, sampleEntries(time.Now())))

	require.NoError(t, repo.SetCodec(ctx, "/media/movies/Alpha (2019).mkv", "hevc"))

	entry, err := repo.GetByPath(ctx, "/media/movies/Alpha (2019).mkv")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "hevc", entry.Codec)
}

func TestCacheRepo_DeleteStale(t *testing.T) {
	repo := NewCacheRepository(setupTestDB(t))
	ctx := context.Background()

	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, repo.UpsertEntries(ctx, sampleEntries(old)))

	// Re-sync only the movies subtree; the shows dir keeps its old SyncedAt.
	fresh := time.Now()
	resynced := sampleEntries(fresh)[:3]
	require.NoError(t, repo.UpsertEntries(ctx, resynced))

	removed, err := repo.DeleteStale(ctx, fresh.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	entry, err := repo.GetByPath(ctx, "/media/shows")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestCacheRepo_DeleteSubtree(t *testing.T) {
	repo := NewCacheRepository(setupTestDB(t))
	ctx := context.Background()
	require.NoError(t, repo.UpsertEntries(ctx, sampleEntries(time.Now())))

	removed, err := repo.DeleteSubtree(ctx, "/media/movies")
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed, "the directory and both files")

	entry, err := repo.GetByPath(ctx, "/media/movies/Alpha (2019).mkv")
	require.NoError(t, err)
	assert.Nil(t, entry)

	// Siblings are untouched.
	entry, err = repo.GetByPath(ctx, "/media/shows")
	require.NoError(t, err)
	assert.NotNil(t, entry)

	// Deleting a single file removes just that row.
	require.NoError(t, repo.UpsertEntries(ctx, sampleEntries(time.Now())))
	removed, err = repo.DeleteSubtree(ctx, "/media/movies/Beta (2021).mp4")
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}

func TestCacheRepo_LastSynced(t *testing.T) {
	repo := NewCacheRepository(setupTestDB(t))
	ctx := context.Background()

	last, err := repo.LastSynced(ctx)
	require.NoError(t, err)
	assert.True(t, last.IsZero(), "empty index has no sync time")

	syncedAt := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, repo.UpsertEntries(ctx, sampleEntries(syncedAt)))

	last, err = repo.LastSynced(ctx)
	require.NoError(t, err)
	assert.WithinDuration(t, syncedAt, last, time.Second)
}

func TestCacheRepo_Clear(t *testing.T) {
	repo := NewCacheRepository(setupTestDB(t))
	ctx := context.Background()
	require.NoError(t, repo.UpsertEntries(ctx, sampleEntries(time.Now())))

	require.NoError(t, repo.Clear(ctx))

	count, totalSize, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Zero(t, totalSize)
}

func TestCacheRepo_FolderStats(t *testing.T) {
	repo := NewCacheRepository(setupTestDB(t))
	ctx := context.Background()

	modTime := time.Now().Add(-time.Hour).UTC().Truncate(time.Second)
	stats := &models.FolderStats{
		Path:         "/media/movies",
		Size:         6_000_000_000,
		FileCount:    2,
		AvgSize:      3_000_000_000,
		ModTime:      modTime,
		CalculatedAt: time.Now().UTC(),
	}
	require.NoError(t, repo.UpsertFolderStats(ctx, stats))

	found, err := repo.GetFolderStats(ctx, "/media/movies")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, int64(2), found.FileCount)
	assert.False(t, found.Stale(modTime))
	assert.True(t, found.Stale(modTime.Add(time.Minute)))

	// Upserting the same path replaces the stored numbers.
	stats.FileCount = 3
	stats.Size = 9_000_000_000
	require.NoError(t, repo.UpsertFolderStats(ctx, stats))

	found, err = repo.GetFolderStats(ctx, "/media/movies")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, int64(3), found.FileCount)
	assert.Equal(t, int64(9_000_000_000), found.Size)

	require.NoError(t, repo.InvalidateFolderStats(ctx, "/media/movies"))
	found, err = repo.GetFolderStats(ctx, "/media/movies")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestCacheRepo_GetFolderStats_NotFound(t *testing.T) {
	repo := NewCacheRepository(setupTestDB(t))

	found, err := repo.GetFolderStats(context.Background(), "/media/none")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestCacheRepo_ClearFolderStats(t *testing.T) {
	repo := NewCacheRepository(setupTestDB(t))
	ctx := context.Background()

	for _, p := range []string{"/media/movies", "/media/shows"} {
		require.NoError(t, repo.UpsertFolderStats(ctx, &models.FolderStats{
			Path: p, ModTime: time.Now(), CalculatedAt: time.Now(),
		}))
	}

	require.NoError(t, repo.ClearFolderStats(ctx))

	found, err := repo.GetFolderStats(ctx, "/media/movies")
	require.NoError(t, err)
	assert.Nil(t, found)
}
