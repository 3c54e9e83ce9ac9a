package store

import (
	"time"

	"gorm.io/datatypes"
)

// User is one registered account. Password accounts carry a bcrypt hash;
// Google accounts carry the Google subject id instead.
type User struct {
	ID           uint   `gorm:"primarykey"`
	Name         string `gorm:"not null"`
	Email        string `gorm:"uniqueIndex;not null"`
	PasswordHash string
	GoogleSub    string `gorm:"index"`
	CreatedAt    time.Time
	UpdatedAt    time.Time

	Maps []Map
}

// Map is one persisted map: the feature payload plus the camera and style
// needed to restore the session exactly.
type Map struct {
	ID          uint   `gorm:"primarykey"`
	UserID      uint   `gorm:"index;not null"`
	Name        string `gorm:"not null"`
	Description string
	Style       string
	GeoJSON     datatypes.JSON

	Lng     float64
	Lat     float64
	Zoom    float64
	Bearing float64
	Pitch   float64

	IsDraft   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DatabaseModels lists every table for migration.
var DatabaseModels = []any{
	&User{},
	&Map{},
}
