package models

import (
	"encoding/json"
	"regexp"

	"gorm.io/gorm"
)

// presetNamePattern restricts preset names to filesystem and URL safe
// characters.
var presetNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Preset is a named snapshot of encoder and behaviour settings that can
// be saved, applied, exported and imported.
type Preset struct {
	BaseModel

	// Name identifies the preset. Letters, digits, hyphen, underscore.
	Name string `gorm:"not null;uniqueIndex;size:128" json:"name"`

	// Description is an optional free-form note.
	Description string `gorm:"size:512" json:"description,omitempty"`

	// Settings is the JSON-encoded map of dotted config keys to values
	// captured by the preset.
	Settings string `gorm:"not null" json:"settings"`
}

// TableName returns the table name for Preset.
func (Preset) TableName() string {
	return "presets"
}

// ValidPresetName returns true if name is non-empty and contains only
// letters, digits, hyphen and underscore.
func ValidPresetName(name string) bool {
	return presetNamePattern.MatchString(name)
}

// SettingsMap decodes the stored settings into a map of dotted config
// keys.
func (p *Preset) SettingsMap() (map[string]any, error) {
	settings := make(map[string]any)
	if p.Settings == "" {
		return settings, nil
	}
	if err := json.Unmarshal([]byte(p.Settings), &settings); err != nil {
		return nil, err
	}
	return settings, nil
}

// SetSettings encodes and stores a map of dotted config keys.
func (p *Preset) SetSettings(settings map[string]any) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	p.Settings = string(data)
	return nil
}

// Validate performs basic validation on the preset.
func (p *Preset) Validate() error {
	if !ValidPresetName(p.Name) {
		return ErrInvalidPresetName
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the preset.
func (p *Preset) BeforeCreate(tx *gorm.DB) error {
	if p.Settings == "" {
		p.Settings = "{}"
	}
	return p.Validate()
}

// BeforeUpdate is a GORM hook that validates the preset before update.
func (p *Preset) BeforeUpdate(tx *gorm.DB) error {
	return p.Validate()
}
