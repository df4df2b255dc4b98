package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/recodarr/internal/cache"
	"github.com/jmylchreest/recodarr/internal/remote"
)

// FolderStatser computes directory statistics from a live listing.
// *cache.Service satisfies it.
type FolderStatser interface {
	ComputeFolderStats(ctx context.Context, dir string, includeDuration bool) (*cache.FolderReport, error)
}

// TransferHandler handles the remote transfer endpoints. It holds the
// routing facade directly; per-operation transport selection happens
// inside the client.
type TransferHandler struct {
	client       *remote.Client
	stats        FolderStatser
	downloadRoot func() string
	logger       *slog.Logger
}

// NewTransferHandler creates a new transfer handler. downloadRoot
// resolves the default download directory at call time so configuration
// changes apply without restart.
func NewTransferHandler(client *remote.Client, stats FolderStatser, downloadRoot func() string, logger *slog.Logger) *TransferHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TransferHandler{
		client:       client,
		stats:        stats,
		downloadRoot: downloadRoot,
		logger:       logger.With(slog.String("component", "transfer-api")),
	}
}

// Register registers the transfer routes with the API.
func (h *TransferHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "transferConnect",
		Method:      "POST",
		Path:        "/api/v1/transfer/connect",
		Summary:     "Connect to the remote library",
		Tags:        []string{"Transfer"},
	}, h.Connect)

	huma.Register(api, huma.Operation{
		OperationID: "transferDisconnect",
		Method:      "POST",
		Path:        "/api/v1/transfer/disconnect",
		Summary:     "Disconnect from the remote library",
		Tags:        []string{"Transfer"},
	}, h.Disconnect)

	huma.Register(api, huma.Operation{
		OperationID: "transferTest",
		Method:      "POST",
		Path:        "/api/v1/transfer/test",
		Summary:     "Test the connection",
		Description: "Attempts to connect and reports the state of each transport",
		Tags:        []string{"Transfer"},
	}, h.Test)

	huma.Register(api, huma.Operation{
		OperationID: "transferList",
		Method:      "GET",
		Path:        "/api/v1/transfer/list",
		Summary:     "List a remote directory",
		Tags:        []string{"Transfer"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "transferStat",
		Method:      "GET",
		Path:        "/api/v1/transfer/stat",
		Summary:     "Stat a remote path",
		Tags:        []string{"Transfer"},
	}, h.Stat)

	huma.Register(api, huma.Operation{
		OperationID: "transferScan",
		Method:      "GET",
		Path:        "/api/v1/transfer/scan",
		Summary:     "Scan a remote tree for video files",
		Tags:        []string{"Transfer"},
	}, h.Scan)

	huma.Register(api, huma.Operation{
		OperationID: "transferFolderStats",
		Method:      "GET",
		Path:        "/api/v1/transfer/folder-stats",
		Summary:     "Compute directory statistics",
		Description: "Size, file count and average size from a live listing; optionally the total known video duration",
		Tags:        []string{"Transfer"},
	}, h.FolderStats)

	huma.Register(api, huma.Operation{
		OperationID: "transferDelete",
		Method:      "DELETE",
		Path:        "/api/v1/transfer/item",
		Summary:     "Delete a remote file or directory",
		Tags:        []string{"Transfer"},
	}, h.Delete)

	huma.Register(api, huma.Operation{
		OperationID: "transferDownload",
		Method:      "POST",
		Path:        "/api/v1/transfer/download",
		Summary:     "Download to the default download directory",
		Description: "Starts a background download of a remote file or directory tree and returns immediately",
		Tags:        []string{"Transfer"},
	}, h.Download)
}

// TransferActionInput is the empty input for connection actions.
type TransferActionInput struct{}

// TransferStatusOutput reports the connection state of both transports.
type TransferStatusOutput struct {
	Body struct {
		Connected  bool                     `json:"connected"`
		Transports []remote.TransportStatus `json:"transports"`
	}
}

// Connect establishes remote sessions per the configured method.
func (h *TransferHandler) Connect(ctx context.Context, input *TransferActionInput) (*TransferStatusOutput, error) {
	if err := h.client.Connect(ctx); err != nil {
		return nil, mapPipelineError(err, "failed to connect")
	}
	return h.status(), nil
}

// Disconnect tears down remote sessions.
func (h *TransferHandler) Disconnect(ctx context.Context, input *TransferActionInput) (*TransferStatusOutput, error) {
	if err := h.client.Disconnect(); err != nil {
		return nil, huma.Error500InternalServerError("failed to disconnect", err)
	}
	return h.status(), nil
}

// Test attempts a connection and reports per-transport state.
func (h *TransferHandler) Test(ctx context.Context, input *TransferActionInput) (*TransferStatusOutput, error) {
	if err := h.client.Connect(ctx); err != nil {
		// A failed test is a result, not an error; the transport list
		// carries the detail.
		h.logger.Warn("connection test failed", "error", err)
	}
	return h.status(), nil
}

func (h *TransferHandler) status() *TransferStatusOutput {
	resp := &TransferStatusOutput{}
	resp.Body.Connected = h.client.IsConnected()
	resp.Body.Transports = h.client.Status()
	return resp
}

// RemotePathInput identifies a remote path by query parameter.
type RemotePathInput struct {
	Path string `query:"path" required:"true" doc:"Absolute remote path"`
}

// ListOutput carries a directory listing.
type ListOutput struct {
	Body struct {
		Path    string         `json:"path"`
		Entries []remote.Entry `json:"entries"`
	}
}

// List returns the visible entries of a remote directory.
func (h *TransferHandler) List(ctx context.Context, input *RemotePathInput) (*ListOutput, error) {
	entries, err := h.client.List(ctx, input.Path)
	if err != nil {
		return nil, mapPipelineError(err, "failed to list directory")
	}
	resp := &ListOutput{}
	resp.Body.Path = input.Path
	resp.Body.Entries = entries
	return resp, nil
}

// StatOutput carries a single entry.
type StatOutput struct {
	Body remote.Entry
}

// Stat describes a single remote path.
func (h *TransferHandler) Stat(ctx context.Context, input *RemotePathInput) (*StatOutput, error) {
	entry, err := h.client.Stat(ctx, input.Path)
	if err != nil {
		return nil, mapPipelineError(err, "failed to stat path")
	}
	return &StatOutput{Body: entry}, nil
}

// ScanOutput carries the video files found under a tree.
type ScanOutput struct {
	Body struct {
		Root   string         `json:"root"`
		Videos []remote.Entry `json:"videos"`
	}
}

// Scan walks a remote tree and returns every visible video file.
func (h *TransferHandler) Scan(ctx context.Context, input *RemotePathInput) (*ScanOutput, error) {
	videos, err := remote.ScanVideos(ctx, h.client, input.Path)
	if err != nil {
		return nil, mapPipelineError(err, "failed to scan tree")
	}
	resp := &ScanOutput{}
	resp.Body.Root = input.Path
	resp.Body.Videos = videos
	return resp, nil
}

// FolderStatsInput selects a directory and whether to sum durations.
type FolderStatsInput struct {
	Path            string `query:"path" required:"true" doc:"Absolute remote directory"`
	IncludeDuration bool   `query:"include_duration" doc:"Sum the durations the progress ledger knows"`
}

// FolderStatsOutput carries directory statistics.
type FolderStatsOutput struct {
	Body cache.FolderReport
}

// FolderStats computes statistics for a remote directory.
func (h *TransferHandler) FolderStats(ctx context.Context, input *FolderStatsInput) (*FolderStatsOutput, error) {
	report, err := h.stats.ComputeFolderStats(ctx, input.Path, input.IncludeDuration)
	if err != nil {
		return nil, mapPipelineError(err, "failed to compute folder stats")
	}
	return &FolderStatsOutput{Body: *report}, nil
}

// DeleteItemInput identifies a remote item to delete.
type DeleteItemInput struct {
	Body struct {
		Path  string `json:"path" required:"true" doc:"Absolute remote path"`
		IsDir bool   `json:"is_dir" doc:"Delete recursively as a directory"`
	}
}

// DeleteItemOutput acknowledges a deletion.
type DeleteItemOutput struct {
	Body MessageResponse
}

// Delete removes a remote file or directory tree.
func (h *TransferHandler) Delete(ctx context.Context, input *DeleteItemInput) (*DeleteItemOutput, error) {
	if err := h.client.Delete(ctx, input.Body.Path, input.Body.IsDir); err != nil {
		return nil, mapPipelineError(err, "failed to delete item")
	}
	return &DeleteItemOutput{Body: MessageResponse{Message: fmt.Sprintf("%s deleted", input.Body.Path)}}, nil
}

// DownloadInput identifies a remote item to download.
type DownloadInput struct {
	Body struct {
		Path  string `json:"path" required:"true" doc:"Absolute remote path"`
		IsDir bool   `json:"is_dir" doc:"Download the whole tree"`
	}
}

// DownloadOutput acknowledges a started download.
type DownloadOutput struct {
	Status int
	Body   struct {
		Message string `json:"message"`
		Target  string `json:"target"`
	}
}

// Download copies a remote file or tree to the default download
// directory in the background.
func (h *TransferHandler) Download(ctx context.Context, input *DownloadInput) (*DownloadOutput, error) {
	root := h.downloadRoot()
	if root == "" {
		return nil, huma.Error400BadRequest("storage.default_download_path is not configured")
	}
	if !h.client.IsConnected() {
		return nil, huma.Error503ServiceUnavailable("not connected to the remote library")
	}

	remotePath := input.Body.Path
	target := filepath.Join(root, path.Base(remotePath))

	// Detached from the request context: the download outlives the
	// HTTP exchange.
	go h.runDownload(context.Background(), remotePath, target, input.Body.IsDir)

	resp := &DownloadOutput{Status: 202}
	resp.Body.Message = fmt.Sprintf("download of %s started", remotePath)
	resp.Body.Target = target
	return resp, nil
}

func (h *TransferHandler) runDownload(ctx context.Context, remotePath, target string, isDir bool) {
	var err error
	if isDir {
		err = remote.Walk(ctx, h.client, remotePath, func(dir string, entries []remote.Entry) error {
			for _, e := range entries {
				if e.IsDir() {
					continue
				}
				rel, relErr := filepath.Rel(remotePath, e.Path)
				if relErr != nil {
					rel = e.Name
				}
				local := filepath.Join(target, rel)
				if mkErr := mkdirForFile(local); mkErr != nil {
					return mkErr
				}
				if dlErr := h.client.Download(ctx, e.Path, local, nil); dlErr != nil {
					return dlErr
				}
			}
			return nil
		})
	} else {
		if err = mkdirForFile(target); err == nil {
			err = h.client.Download(ctx, remotePath, target, nil)
		}
	}

	if err != nil {
		h.logger.Error("background download failed",
			"remote_path", remotePath,
			"target", target,
			"error", err,
		)
		return
	}
	h.logger.Info("background download finished", "remote_path", remotePath, "target", target)
}

func mkdirForFile(p string) error {
	return os.MkdirAll(filepath.Dir(p), 0o755)
}
