package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheEntry_TableName(t *testing.T) {
	e := CacheEntry{}
	assert.Equal(t, "cache_entries", e.TableName())
}

func TestCacheEntry_Validate(t *testing.T) {
	e := CacheEntry{Path: "/media/movies/a.mkv", Name: "a.mkv"}
	require.NoError(t, e.Validate())

	e.Path = ""
	assert.ErrorIs(t, e.Validate(), ErrFolderPathRequired)
}

func TestFolderStats_TableName(t *testing.T) {
	f := FolderStats{}
	assert.Equal(t, "folder_stats", f.TableName())
}

func TestFolderStats_Stale(t *testing.T) {
	computed := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	f := FolderStats{Path: "/media/movies", ModTime: computed}

	assert.False(t, f.Stale(computed))
	assert.True(t, f.Stale(computed.Add(time.Minute)))
	assert.True(t, f.Stale(computed.Add(-time.Minute)), "older mtime still invalidates")
}

func TestFolderStats_Validate(t *testing.T) {
	f := FolderStats{Path: "/media/movies"}
	require.NoError(t, f.Validate())

	f.Path = ""
	assert.ErrorIs(t, f.Validate(), ErrFolderPathRequired)
}
