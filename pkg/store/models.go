package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type DocumentModel struct {
	ID               string `gorm:"primaryKey"`
	OwnerID          string `gorm:"not null;index"`
	Name             string `gorm:"not null"`
	OriginalFilename string `gorm:"not null"`
	StorageKey       string
	Status           string `gorm:"not null;index"`
	ErrorMessage     string
	Archived         bool              `gorm:"not null;default:false;index"`
	SizeBytes        int64             `gorm:"not null"`
	TotalPages       int               `gorm:"not null;default:0"`
	Metadata         datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt        time.Time         `gorm:"not null;index"`
	UpdatedAt        time.Time         `gorm:"not null"`
}
