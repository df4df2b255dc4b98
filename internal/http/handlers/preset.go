package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/recodarr/internal/models"
)

// PresetService is the slice of the preset service surface the preset
// endpoints use. *preset.Service satisfies it.
type PresetService interface {
	List(ctx context.Context) ([]*models.Preset, error)
	Save(ctx context.Context, name, description string, settings map[string]any) (*models.Preset, error)
	Capture(ctx context.Context, name, description string) (*models.Preset, error)
	Load(ctx context.Context, name string) (*models.Preset, error)
	Delete(ctx context.Context, name string) error
	Apply(ctx context.Context, name string) (*models.Preset, error)
	Export(ctx context.Context, name string) ([]byte, error)
	Push(ctx context.Context, name string) error
	Pull(ctx context.Context, name string) (*models.Preset, error)
	Import(ctx context.Context, name string, r io.Reader) (*models.Preset, error)
}

// PresetHandler handles encoding preset endpoints.
type PresetHandler struct {
	presets PresetService
}

// NewPresetHandler creates a new preset handler.
func NewPresetHandler(p PresetService) *PresetHandler {
	return &PresetHandler{presets: p}
}

// Register registers the preset routes with the API.
func (h *PresetHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listPresets",
		Method:      "GET",
		Path:        "/api/v1/presets",
		Summary:     "List presets",
		Tags:        []string{"Presets"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "savePreset",
		Method:      "PUT",
		Path:        "/api/v1/presets/{name}",
		Summary:     "Create or update a preset",
		Description: "Saves the given settings under the name. Omit settings to capture the current encoder configuration instead.",
		Tags:        []string{"Presets"},
	}, h.Save)

	huma.Register(api, huma.Operation{
		OperationID: "importPreset",
		Method:      "POST",
		Path:        "/api/v1/presets/import",
		Summary:     "Import a preset document",
		Description: "Accepts a preset document, JSON or YAML, optionally gzip, bzip2 or xz compressed. The name query parameter overrides the document's own name.",
		Tags:        []string{"Presets"},
	}, h.Import)

	huma.Register(api, huma.Operation{
		OperationID: "getPreset",
		Method:      "GET",
		Path:        "/api/v1/presets/{name}",
		Summary:     "Get a preset",
		Tags:        []string{"Presets"},
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID: "deletePreset",
		Method:      "DELETE",
		Path:        "/api/v1/presets/{name}",
		Summary:     "Delete a preset",
		Tags:        []string{"Presets"},
	}, h.Delete)

	huma.Register(api, huma.Operation{
		OperationID: "applyPreset",
		Method:      "POST",
		Path:        "/api/v1/presets/{name}/apply",
		Summary:     "Apply a preset",
		Description: "Writes the preset's settings into the live configuration",
		Tags:        []string{"Presets"},
	}, h.Apply)

	huma.Register(api, huma.Operation{
		OperationID: "pushPreset",
		Method:      "POST",
		Path:        "/api/v1/presets/{name}/push",
		Summary:     "Push a preset to the remote",
		Tags:        []string{"Presets"},
	}, h.Push)

	huma.Register(api, huma.Operation{
		OperationID: "pullPreset",
		Method:      "POST",
		Path:        "/api/v1/presets/{name}/pull",
		Summary:     "Pull a preset from the remote",
		Tags:        []string{"Presets"},
	}, h.Pull)

	huma.Register(api, huma.Operation{
		OperationID: "exportPreset",
		Method:      "GET",
		Path:        "/api/v1/presets/{name}/export",
		Summary:     "Export a preset as JSON",
		Tags:        []string{"Presets"},
	}, h.Export)

}

// PresetResponse is the wire form of a preset.
type PresetResponse struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Settings    string `json:"settings"`
	UpdatedAt   string `json:"updated_at"`
}

func presetFromModel(p *models.Preset) PresetResponse {
	return PresetResponse{
		Name:        p.Name,
		Description: p.Description,
		Settings:    p.Settings,
		UpdatedAt:   p.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// PresetListOutput lists presets.
type PresetListOutput struct {
	Body struct {
		Presets []PresetResponse `json:"presets"`
	}
}

// List returns all stored presets.
func (h *PresetHandler) List(ctx context.Context, input *struct{}) (*PresetListOutput, error) {
	presets, err := h.presets.List(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list presets", err)
	}
	resp := &PresetListOutput{}
	resp.Body.Presets = make([]PresetResponse, 0, len(presets))
	for _, p := range presets {
		resp.Body.Presets = append(resp.Body.Presets, presetFromModel(p))
	}
	return resp, nil
}

// SavePresetInput creates or updates a preset.
type SavePresetInput struct {
	Name string `path:"name" maxLength:"128"`
	Body struct {
		Description string         `json:"description,omitempty" maxLength:"512"`
		Settings    map[string]any `json:"settings,omitempty" doc:"Dotted config keys to capture; omit to snapshot the current encoder settings"`
	}
}

// PresetOutput carries a single preset.
type PresetOutput struct {
	Body PresetResponse
}

// Save stores a preset, capturing live encoder settings when the body
// carries none.
func (h *PresetHandler) Save(ctx context.Context, input *SavePresetInput) (*PresetOutput, error) {
	var (
		p   *models.Preset
		err error
	)
	if len(input.Body.Settings) == 0 {
		p, err = h.presets.Capture(ctx, input.Name, input.Body.Description)
	} else {
		p, err = h.presets.Save(ctx, input.Name, input.Body.Description, input.Body.Settings)
	}
	if err != nil {
		return nil, mapPresetError(err, "failed to save preset")
	}
	return &PresetOutput{Body: presetFromModel(p)}, nil
}

// PresetNameInput identifies a preset by name.
type PresetNameInput struct {
	Name string `path:"name" maxLength:"128"`
}

// Get returns one preset.
func (h *PresetHandler) Get(ctx context.Context, input *PresetNameInput) (*PresetOutput, error) {
	p, err := h.presets.Load(ctx, input.Name)
	if err != nil {
		return nil, mapPresetError(err, "failed to load preset")
	}
	return &PresetOutput{Body: presetFromModel(p)}, nil
}

// DeletePresetOutput acknowledges a deletion.
type DeletePresetOutput struct {
	Body MessageResponse
}

// Delete removes a preset.
func (h *PresetHandler) Delete(ctx context.Context, input *PresetNameInput) (*DeletePresetOutput, error) {
	if err := h.presets.Delete(ctx, input.Name); err != nil {
		return nil, mapPresetError(err, "failed to delete preset")
	}
	return &DeletePresetOutput{Body: MessageResponse{Message: fmt.Sprintf("preset %q deleted", input.Name)}}, nil
}

// Apply writes a preset's settings into the live configuration.
func (h *PresetHandler) Apply(ctx context.Context, input *PresetNameInput) (*PresetOutput, error) {
	p, err := h.presets.Apply(ctx, input.Name)
	if err != nil {
		return nil, mapPresetError(err, "failed to apply preset")
	}
	return &PresetOutput{Body: presetFromModel(p)}, nil
}

// Push uploads a preset document to the remote presets directory.
func (h *PresetHandler) Push(ctx context.Context, input *PresetNameInput) (*DeletePresetOutput, error) {
	if err := h.presets.Push(ctx, input.Name); err != nil {
		return nil, mapPresetError(err, "failed to push preset")
	}
	return &DeletePresetOutput{Body: MessageResponse{Message: fmt.Sprintf("preset %q pushed", input.Name)}}, nil
}

// Pull downloads a preset document from the remote and stores it.
func (h *PresetHandler) Pull(ctx context.Context, input *PresetNameInput) (*PresetOutput, error) {
	p, err := h.presets.Pull(ctx, input.Name)
	if err != nil {
		return nil, mapPresetError(err, "failed to pull preset")
	}
	return &PresetOutput{Body: presetFromModel(p)}, nil
}

// ExportPresetOutput is a raw preset document download.
type ExportPresetOutput struct {
	ContentType        string `header:"Content-Type"`
	ContentDisposition string `header:"Content-Disposition"`
	Body               []byte
}

// Export returns the preset as a portable JSON document.
func (h *PresetHandler) Export(ctx context.Context, input *PresetNameInput) (*ExportPresetOutput, error) {
	doc, err := h.presets.Export(ctx, input.Name)
	if err != nil {
		return nil, mapPresetError(err, "failed to export preset")
	}
	return &ExportPresetOutput{
		ContentType:        "application/json",
		ContentDisposition: fmt.Sprintf("attachment; filename=%q", "ffmpeg_"+input.Name+".json"),
		Body:               doc,
	}, nil
}

// ImportPresetInput carries a preset document body.
type ImportPresetInput struct {
	Name    string `query:"name" maxLength:"128" doc:"Overrides the name carried in the document"`
	RawBody []byte
}

// Import stores a preset from an uploaded document.
func (h *PresetHandler) Import(ctx context.Context, input *ImportPresetInput) (*PresetOutput, error) {
	p, err := h.presets.Import(ctx, input.Name, bytes.NewReader(input.RawBody))
	if err != nil {
		return nil, mapPresetError(err, "failed to import preset")
	}
	return &PresetOutput{Body: presetFromModel(p)}, nil
}

func mapPresetError(err error, summary string) error {
	if errors.Is(err, models.ErrPresetNotFound) {
		return huma.Error404NotFound("preset not found", err)
	}
	return mapPipelineError(err, summary)
}
