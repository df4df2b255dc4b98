package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/recodarr/internal/cache"
	"github.com/jmylchreest/recodarr/internal/models"
)

// LibraryCache is the slice of the cache service surface the cache
// endpoints use. *cache.Service satisfies it.
type LibraryCache interface {
	Stats(ctx context.Context) (cache.Stats, error)
	NeedsRefresh(ctx context.Context, maxAge time.Duration) (bool, error)
	FullIndex(ctx context.Context, root string) (*cache.IndexResult, error)
	Sync(ctx context.Context, dir string) (int, error)
	Directory(ctx context.Context, dir string) ([]*models.CacheEntry, error)
	Search(ctx context.Context, query string, videoOnly bool, limit int) ([]*models.CacheEntry, error)
	FolderStats(ctx context.Context, dir string) (*cache.FolderReport, error)
	Invalidate(ctx context.Context, p string) error
	Clear(ctx context.Context) error
}

// CacheHandler handles the library index endpoints.
type CacheHandler struct {
	cache LibraryCache
}

// NewCacheHandler creates a new cache handler.
func NewCacheHandler(c LibraryCache) *CacheHandler {
	return &CacheHandler{cache: c}
}

// Register registers the cache routes with the API.
func (h *CacheHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getCacheStats",
		Method:      "GET",
		Path:        "/api/v1/cache/stats",
		Summary:     "Index statistics",
		Tags:        []string{"Cache"},
	}, h.Stats)

	huma.Register(api, huma.Operation{
		OperationID: "getCacheNeedsRefresh",
		Method:      "GET",
		Path:        "/api/v1/cache/needs-refresh",
		Summary:     "Check index staleness",
		Tags:        []string{"Cache"},
	}, h.NeedsRefresh)

	huma.Register(api, huma.Operation{
		OperationID: "cacheFullIndex",
		Method:      "POST",
		Path:        "/api/v1/cache/full-index",
		Summary:     "Rebuild the index",
		Description: "Walks the remote tree from the given root and refreshes every entry. Runs synchronously; one run at a time.",
		Tags:        []string{"Cache"},
	}, h.FullIndex)

	huma.Register(api, huma.Operation{
		OperationID: "cacheSync",
		Method:      "POST",
		Path:        "/api/v1/cache/sync",
		Summary:     "Refresh one directory",
		Tags:        []string{"Cache"},
	}, h.Sync)

	huma.Register(api, huma.Operation{
		OperationID: "getCacheDirectory",
		Method:      "GET",
		Path:        "/api/v1/cache/directory",
		Summary:     "List a directory from the index",
		Tags:        []string{"Cache"},
	}, h.Directory)

	huma.Register(api, huma.Operation{
		OperationID: "getCacheFolderStats",
		Method:      "GET",
		Path:        "/api/v1/cache/folder-stats",
		Summary:     "Cached directory statistics",
		Tags:        []string{"Cache"},
	}, h.FolderStats)

	huma.Register(api, huma.Operation{
		OperationID: "cacheSearch",
		Method:      "GET",
		Path:        "/api/v1/cache/search",
		Summary:     "Search the index by name",
		Tags:        []string{"Cache"},
	}, h.Search)

	huma.Register(api, huma.Operation{
		OperationID: "cacheInvalidate",
		Method:      "DELETE",
		Path:        "/api/v1/cache/item",
		Summary:     "Invalidate a path",
		Description: "Drops a path from the index including anything beneath it",
		Tags:        []string{"Cache"},
	}, h.Invalidate)

	huma.Register(api, huma.Operation{
		OperationID: "cacheClear",
		Method:      "DELETE",
		Path:        "/api/v1/cache",
		Summary:     "Clear the index",
		Tags:        []string{"Cache"},
	}, h.Clear)
}

// CacheStatsOutput carries index statistics.
type CacheStatsOutput struct {
	Body cache.Stats
}

// Stats returns file count, total size and the newest sync time.
func (h *CacheHandler) Stats(ctx context.Context, input *struct{}) (*CacheStatsOutput, error) {
	stats, err := h.cache.Stats(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get cache stats", err)
	}
	return &CacheStatsOutput{Body: stats}, nil
}

// NeedsRefreshInput sets the staleness window.
type NeedsRefreshInput struct {
	MaxAgeHours int `query:"max_age_hours" default:"24" minimum:"0" doc:"Age beyond which the index counts as stale; 0 only flags an empty index"`
}

// NeedsRefreshOutput reports index staleness.
type NeedsRefreshOutput struct {
	Body struct {
		NeedsRefresh bool `json:"needs_refresh"`
	}
}

// NeedsRefresh reports whether the index is empty or stale.
func (h *CacheHandler) NeedsRefresh(ctx context.Context, input *NeedsRefreshInput) (*NeedsRefreshOutput, error) {
	stale, err := h.cache.NeedsRefresh(ctx, time.Duration(input.MaxAgeHours)*time.Hour)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to check index age", err)
	}
	resp := &NeedsRefreshOutput{}
	resp.Body.NeedsRefresh = stale
	return resp, nil
}

// FullIndexInput names the root to walk.
type FullIndexInput struct {
	Body struct {
		Root string `json:"root" required:"true" doc:"Absolute remote directory to index from"`
	}
}

// FullIndexOutput reports what the run covered.
type FullIndexOutput struct {
	Body cache.IndexResult
}

// FullIndex rebuilds the index from a remote walk.
func (h *CacheHandler) FullIndex(ctx context.Context, input *FullIndexInput) (*FullIndexOutput, error) {
	result, err := h.cache.FullIndex(ctx, input.Body.Root)
	if err != nil {
		return nil, mapPipelineError(err, "index rebuild failed")
	}
	return &FullIndexOutput{Body: *result}, nil
}

// SyncInput names the directory to refresh.
type SyncInput struct {
	Body struct {
		Dir string `json:"dir" required:"true" doc:"Absolute remote directory"`
	}
}

// SyncOutput reports how many entries were refreshed.
type SyncOutput struct {
	Body struct {
		Refreshed int    `json:"refreshed"`
		Message   string `json:"message"`
	}
}

// Sync refreshes one directory of the index.
func (h *CacheHandler) Sync(ctx context.Context, input *SyncInput) (*SyncOutput, error) {
	n, err := h.cache.Sync(ctx, input.Body.Dir)
	if err != nil {
		return nil, mapPipelineError(err, "directory sync failed")
	}
	resp := &SyncOutput{}
	resp.Body.Refreshed = n
	resp.Body.Message = fmt.Sprintf("%d entries refreshed", n)
	return resp, nil
}

// CacheDirectoryInput identifies an indexed directory.
type CacheDirectoryInput struct {
	Path string `query:"path" required:"true" doc:"Absolute remote directory"`
}

// CacheDirectoryOutput lists indexed entries.
type CacheDirectoryOutput struct {
	Body struct {
		Path    string               `json:"path"`
		Entries []*models.CacheEntry `json:"entries"`
	}
}

// Directory lists a directory from the index, falling back to a live
// listing on a miss while connected.
func (h *CacheHandler) Directory(ctx context.Context, input *CacheDirectoryInput) (*CacheDirectoryOutput, error) {
	entries, err := h.cache.Directory(ctx, input.Path)
	if err != nil {
		return nil, mapPipelineError(err, "failed to read directory")
	}
	resp := &CacheDirectoryOutput{}
	resp.Body.Path = input.Path
	resp.Body.Entries = entries
	return resp, nil
}

// FolderStats serves cached directory statistics, recomputing when the
// directory changed.
func (h *CacheHandler) FolderStats(ctx context.Context, input *CacheDirectoryInput) (*FolderStatsOutput, error) {
	report, err := h.cache.FolderStats(ctx, input.Path)
	if err != nil {
		return nil, mapPipelineError(err, "failed to get folder stats")
	}
	return &FolderStatsOutput{Body: *report}, nil
}

// SearchInput is a name-substring query over the index.
type SearchInput struct {
	Query     string `query:"q" required:"true" minLength:"1" doc:"Name substring, case-insensitive"`
	VideoOnly bool   `query:"video_only" doc:"Restrict to video file extensions"`
	Limit     int    `query:"limit" default:"100" minimum:"1" maximum:"1000"`
}

// SearchOutput lists matches.
type SearchOutput struct {
	Body struct {
		Results []*models.CacheEntry `json:"results"`
	}
}

// Search finds indexed files by name substring.
func (h *CacheHandler) Search(ctx context.Context, input *SearchInput) (*SearchOutput, error) {
	results, err := h.cache.Search(ctx, input.Query, input.VideoOnly, input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("search failed", err)
	}
	resp := &SearchOutput{}
	resp.Body.Results = results
	return resp, nil
}

// InvalidateInput identifies paths to drop from the index.
type InvalidateInput struct {
	Path string `query:"path" required:"true" doc:"Absolute remote path"`
}

// InvalidateOutput acknowledges an invalidation.
type InvalidateOutput struct {
	Body MessageResponse
}

// Invalidate drops a path and its subtree from the index.
func (h *CacheHandler) Invalidate(ctx context.Context, input *InvalidateInput) (*InvalidateOutput, error) {
	if err := h.cache.Invalidate(ctx, input.Path); err != nil {
		return nil, huma.Error500InternalServerError("failed to invalidate path", err)
	}
	return &InvalidateOutput{Body: MessageResponse{Message: fmt.Sprintf("%s invalidated", input.Path)}}, nil
}

// Clear empties the whole index.
func (h *CacheHandler) Clear(ctx context.Context, input *struct{}) (*InvalidateOutput, error) {
	if err := h.cache.Clear(ctx); err != nil {
		return nil, huma.Error500InternalServerError("failed to clear cache", err)
	}
	return &InvalidateOutput{Body: MessageResponse{Message: "cache cleared"}}, nil
}
