package models

import (
	"time"

	"gorm.io/datatypes"
)

// Setting stores a runtime-tunable key/value pair.
type Setting struct {
	Key       string         `gorm:"primaryKey;type:varchar(128)"` // Setting key.
	Value     datatypes.JSON `gorm:"type:text"`                    // JSON encoded value.
	UpdatedAt time.Time      `gorm:"not null;autoUpdateTime"`      // Last update timestamp.
}
