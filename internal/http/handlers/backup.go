package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"github.com/jmylchreest/recodarr/internal/models"
)

// BackupService is the slice of the backup service surface the backup
// endpoints use. *backup.Service satisfies it.
type BackupService interface {
	Create(ctx context.Context) (*models.BackupMetadata, error)
	List(ctx context.Context) ([]*models.BackupMetadata, error)
	Get(ctx context.Context, filename string) (*models.BackupMetadata, error)
	Delete(ctx context.Context, filename string) error
	Open(ctx context.Context, filename string) (*os.File, error)
	Restore(ctx context.Context, filename string) error
	Import(ctx context.Context, r io.Reader, filename string) (*models.BackupMetadata, error)
	Directory() string
}

// BackupHandler handles database snapshot endpoints.
type BackupHandler struct {
	backups BackupService
}

// NewBackupHandler creates a new backup handler.
func NewBackupHandler(backups BackupService) *BackupHandler {
	return &BackupHandler{backups: backups}
}

// Register registers the backup routes with the API.
func (h *BackupHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listBackups",
		Method:      "GET",
		Path:        "/api/v1/backups",
		Summary:     "List backups",
		Description: "Returns all database snapshots, newest first",
		Tags:        []string{"Backup"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "createBackup",
		Method:      "POST",
		Path:        "/api/v1/backups",
		Summary:     "Create a backup",
		Description: "Creates a gzip-compressed snapshot of the job database",
		Tags:        []string{"Backup"},
	}, h.Create)

	huma.Register(api, huma.Operation{
		OperationID: "getBackup",
		Method:      "GET",
		Path:        "/api/v1/backups/{filename}",
		Summary:     "Get backup details",
		Tags:        []string{"Backup"},
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID: "deleteBackup",
		Method:      "DELETE",
		Path:        "/api/v1/backups/{filename}",
		Summary:     "Delete a backup",
		Tags:        []string{"Backup"},
	}, h.Delete)

	huma.Register(api, huma.Operation{
		OperationID: "restoreBackup",
		Method:      "POST",
		Path:        "/api/v1/backups/{filename}/restore",
		Summary:     "Restore from backup",
		Description: "Replaces the live database with the snapshot. Requires confirm=true. A pre-restore snapshot is taken first; restart after restoring.",
		Tags:        []string{"Backup"},
	}, h.Restore)
}

// RegisterChiRoutes registers the raw routes for file download and
// upload, which huma does not handle well.
func (h *BackupHandler) RegisterChiRoutes(r chi.Router) {
	r.Get("/api/v1/backups/{filename}/download", h.Download)
	r.Post("/api/v1/backups/import", h.Upload)
}

// ListBackupsOutput lists snapshots and where they live.
type ListBackupsOutput struct {
	Body struct {
		Backups   []*models.BackupMetadata `json:"backups"`
		Directory string                   `json:"directory"`
	}
}

// List returns all snapshots, newest first.
func (h *BackupHandler) List(ctx context.Context, input *struct{}) (*ListBackupsOutput, error) {
	backups, err := h.backups.List(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list backups", err)
	}
	resp := &ListBackupsOutput{}
	resp.Body.Backups = backups
	resp.Body.Directory = h.backups.Directory()
	return resp, nil
}

// BackupOutput carries snapshot metadata.
type BackupOutput struct {
	Body *models.BackupMetadata
}

// Create takes a new snapshot of the database.
func (h *BackupHandler) Create(ctx context.Context, input *struct{}) (*BackupOutput, error) {
	meta, err := h.backups.Create(ctx)
	if err != nil {
		return nil, mapPipelineError(err, "failed to create backup")
	}
	return &BackupOutput{Body: meta}, nil
}

// BackupFilenameInput identifies a snapshot by filename.
type BackupFilenameInput struct {
	Filename string `path:"filename" doc:"Snapshot filename, e.g. recodarr-backup-2026-08-25T03-00-00.db.gz"`
}

// Get returns metadata for one snapshot.
func (h *BackupHandler) Get(ctx context.Context, input *BackupFilenameInput) (*BackupOutput, error) {
	if err := checkBackupFilename(input.Filename); err != nil {
		return nil, huma.Error400BadRequest("invalid filename", err)
	}
	meta, err := h.backups.Get(ctx, input.Filename)
	if err != nil {
		return nil, huma.Error404NotFound("backup not found")
	}
	return &BackupOutput{Body: meta}, nil
}

// DeleteBackupOutput acknowledges a deletion.
type DeleteBackupOutput struct {
	Body MessageResponse
}

// Delete removes a snapshot and its metadata sidecar.
func (h *BackupHandler) Delete(ctx context.Context, input *BackupFilenameInput) (*DeleteBackupOutput, error) {
	if err := checkBackupFilename(input.Filename); err != nil {
		return nil, huma.Error400BadRequest("invalid filename", err)
	}
	if err := h.backups.Delete(ctx, input.Filename); err != nil {
		return nil, huma.Error500InternalServerError("failed to delete backup", err)
	}
	return &DeleteBackupOutput{Body: MessageResponse{Message: fmt.Sprintf("backup %s deleted", input.Filename)}}, nil
}

// RestoreBackupInput requires explicit confirmation.
type RestoreBackupInput struct {
	Filename string `path:"filename" doc:"Snapshot filename to restore from"`
	Confirm  bool   `query:"confirm" doc:"Must be true to proceed"`
}

// RestoreBackupOutput reports the restore result.
type RestoreBackupOutput struct {
	Body struct {
		Message         string `json:"message"`
		RestartRequired bool   `json:"restart_required"`
	}
}

// Restore replaces the live database with the given snapshot.
func (h *BackupHandler) Restore(ctx context.Context, input *RestoreBackupInput) (*RestoreBackupOutput, error) {
	if err := checkBackupFilename(input.Filename); err != nil {
		return nil, huma.Error400BadRequest("invalid filename", err)
	}
	if !input.Confirm {
		return nil, huma.Error400BadRequest("restore requires confirmation", fmt.Errorf("set confirm=true to proceed"))
	}
	if err := h.backups.Restore(ctx, input.Filename); err != nil {
		return nil, mapPipelineError(err, "failed to restore backup")
	}
	resp := &RestoreBackupOutput{}
	resp.Body.Message = fmt.Sprintf("database restored from %s", input.Filename)
	resp.Body.RestartRequired = true
	return resp, nil
}

// Download streams a snapshot file. Raw chi because huma buffers bodies.
func (h *BackupHandler) Download(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	if err := checkBackupFilename(filename); err != nil {
		http.Error(w, "invalid filename", http.StatusBadRequest)
		return
	}

	file, err := h.backups.Open(r.Context(), filename)
	if err != nil {
		http.Error(w, "backup not found", http.StatusNotFound)
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		http.Error(w, "failed to stat backup file", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/gzip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", fmt.Sprintf("%d", info.Size()))
	// Client disconnects mid-stream are not an error worth surfacing.
	_, _ = io.Copy(w, file)
}

// Upload accepts a snapshot file for later restore. Raw chi because huma
// does not handle multipart uploads well.
func (h *BackupHandler) Upload(w http.ResponseWriter, r *http.Request) {
	const maxUploadSize = 1 << 30
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeJSONError(w, fmt.Sprintf("failed to parse form: %v", err), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSONError(w, fmt.Sprintf("failed to get file: %v", err), http.StatusBadRequest)
		return
	}
	defer file.Close()

	meta, err := h.backups.Import(r.Context(), file, header.Filename)
	if err != nil {
		if strings.Contains(err.Error(), "invalid filename") || strings.Contains(err.Error(), "already exists") {
			writeJSONError(w, err.Error(), http.StatusBadRequest)
		} else {
			writeJSONError(w, fmt.Sprintf("failed to import backup: %v", err), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(meta)
}

// checkBackupFilename rejects path traversal and names that do not look
// like our snapshot files.
func checkBackupFilename(filename string) error {
	if filename == "" {
		return fmt.Errorf("filename is required")
	}
	if strings.ContainsAny(filename, "/\\") || strings.Contains(filename, "..") {
		return fmt.Errorf("path separators are not allowed")
	}
	if !strings.HasPrefix(filename, "recodarr-backup-") || !strings.HasSuffix(filename, ".db.gz") {
		return fmt.Errorf("expected recodarr-backup-<timestamp>.db.gz")
	}
	return nil
}

// writeJSONError writes an error response in JSON, matching the API's
// error shape closely enough for clients.
func writeJSONError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
