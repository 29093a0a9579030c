package models

import "time"

// APIKey represents a bearer secret minted by a user for client requests.
// Keys are many-to-one with User and revocable individually.
type APIKey struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID string `gorm:"type:text;not null;index"` // Owning user ID.
	User   *User  `gorm:"foreignKey:UserID"`        // Associated user record.

	APIKey string `gorm:"type:text;not null;uniqueIndex"` // Full API key string.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}
