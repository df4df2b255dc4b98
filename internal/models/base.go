// Package models defines GORM database models for recodarr entities.
package models

import "time"

// BaseModel provides common fields for all persisted models. IDs are
// auto-increment integers ordered by insertion.
type BaseModel struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Time is an alias for time.Time used in models.
type Time = time.Time

// Now returns the current time.
func Now() Time {
	return time.Now()
}
