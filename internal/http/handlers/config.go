package handlers

import (
	"context"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/recodarr/internal/config"
)

// redactedValue replaces secrets in configuration dumps.
const redactedValue = "[REDACTED]"

// ConfigStore is the slice of the config store surface the config
// endpoints use. *config.Store satisfies it.
type ConfigStore interface {
	All() map[string]any
	Update(values map[string]any) error
	Validate() config.ValidationResult
}

// ConfigHandler handles runtime configuration endpoints.
type ConfigHandler struct {
	store ConfigStore
}

// NewConfigHandler creates a new config handler.
func NewConfigHandler(store ConfigStore) *ConfigHandler {
	return &ConfigHandler{store: store}
}

// Register registers the config routes with the API.
func (h *ConfigHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getConfig",
		Method:      "GET",
		Path:        "/api/v1/config",
		Summary:     "Get the configuration",
		Description: "Returns every setting with secrets redacted",
		Tags:        []string{"Config"},
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID: "updateConfig",
		Method:      "PATCH",
		Path:        "/api/v1/config",
		Summary:     "Update configuration values",
		Description: "Applies dotted-key changes atomically: either all validate and persist, or none do",
		Tags:        []string{"Config"},
	}, h.Update)

	// Back-compat alias used by the queue UI.
	huma.Register(api, huma.Operation{
		OperationID: "updateSettings",
		Method:      "PATCH",
		Path:        "/api/v1/settings",
		Summary:     "Update configuration values",
		Tags:        []string{"Config"},
	}, h.Update)

	huma.Register(api, huma.Operation{
		OperationID: "validateConfig",
		Method:      "POST",
		Path:        "/api/v1/config/validate",
		Summary:     "Validate the configuration",
		Tags:        []string{"Config"},
	}, h.Validate)
}

// ConfigOutput carries the redacted configuration tree.
type ConfigOutput struct {
	Body map[string]any
}

// Get returns every setting with passwords redacted.
func (h *ConfigHandler) Get(ctx context.Context, input *struct{}) (*ConfigOutput, error) {
	return &ConfigOutput{Body: redact(h.store.All())}, nil
}

// UpdateConfigInput carries dotted-key changes.
type UpdateConfigInput struct {
	Body map[string]any `doc:"Dotted config keys to new values, e.g. {\"ffmpeg.crf\": 21}"`
}

// UpdateConfigOutput acknowledges an update.
type UpdateConfigOutput struct {
	Body MessageResponse
}

// Update applies dotted-key changes and persists them to the config file.
func (h *ConfigHandler) Update(ctx context.Context, input *UpdateConfigInput) (*UpdateConfigOutput, error) {
	if len(input.Body) == 0 {
		return nil, huma.Error400BadRequest("no settings provided")
	}
	if err := h.store.Update(input.Body); err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}
	return &UpdateConfigOutput{Body: MessageResponse{Message: "configuration updated"}}, nil
}

// ValidateConfigOutput reports validation results.
type ValidateConfigOutput struct {
	Body config.ValidationResult
}

// Validate re-validates the stored configuration.
func (h *ConfigHandler) Validate(ctx context.Context, input *struct{}) (*ValidateConfigOutput, error) {
	return &ValidateConfigOutput{Body: h.store.Validate()}, nil
}

// redact returns a deep copy of the settings tree with any value under a
// key containing "password" replaced.
func redact(settings map[string]any) map[string]any {
	out := make(map[string]any, len(settings))
	for key, value := range settings {
		if nested, ok := value.(map[string]any); ok {
			out[key] = redact(nested)
			continue
		}
		if strings.Contains(strings.ToLower(key), "password") {
			if s, ok := value.(string); !ok || s != "" {
				out[key] = redactedValue
				continue
			}
		}
		out[key] = value
	}
	return out
}
