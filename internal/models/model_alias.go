package models

import (
	"time"

	"gorm.io/datatypes"
)

// ModelAlias maps a gateway-local model name (a "combo") to an ordered list
// of concrete upstream model identifiers. Resolution always uses the first
// listed target.
type ModelAlias struct {
	Name string `gorm:"type:text;primaryKey"` // Logical model name exposed to clients.

	Targets datatypes.JSON `gorm:"not null"` // JSON array of upstream model ids.

	// Builtin mappings ship with the gateway; they can be value-updated but
	// never deleted.
	Builtin bool `gorm:"not null;default:false"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
