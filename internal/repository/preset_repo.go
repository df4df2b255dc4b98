package repository

import (
	"context"
	"fmt"

	"github.com/jmylchreest/recodarr/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// presetRepo implements PresetRepository using GORM.
type presetRepo struct {
	db *gorm.DB
}

// NewPresetRepository creates a new PresetRepository.
func NewPresetRepository(db *gorm.DB) *presetRepo {
	return &presetRepo{db: db}
}

// Save creates the preset or replaces the settings of an existing
// preset with the same name.
func (r *presetRepo) Save(ctx context.Context, preset *models.Preset) error {
	if err := preset.Validate(); err != nil {
		return err
	}

	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"description", "settings", "updated_at",
		}),
	}).Create(preset).Error; err != nil {
		return fmt.Errorf("saving preset: %w", err)
	}
	return nil
}

// GetByName retrieves a preset by name.
func (r *presetRepo) GetByName(ctx context.Context, name string) (*models.Preset, error) {
	var preset models.Preset
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&preset).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting preset: %w", err)
	}
	return &preset, nil
}

// GetAll retrieves all presets ordered by name.
func (r *presetRepo) GetAll(ctx context.Context) ([]*models.Preset, error) {
	var presets []*models.Preset
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&presets).Error; err != nil {
		return nil, fmt.Errorf("getting all presets: %w", err)
	}
	return presets, nil
}

// Delete removes a preset by name.
func (r *presetRepo) Delete(ctx context.Context, name string) error {
	result := r.db.WithContext(ctx).Where("name = ?", name).Delete(&models.Preset{})
	if result.Error != nil {
		return fmt.Errorf("deleting preset: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return models.ErrPresetNotFound
	}
	return nil
}

// Ensure presetRepo implements PresetRepository at compile time.
var _ PresetRepository = (*presetRepo)(nil)
