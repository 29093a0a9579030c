package models

import "time"

// User status values.
const (
	// UserStatusActive allows the user's keys to authenticate requests.
	UserStatusActive = "active"
	// UserStatusSuspended rejects all of the user's keys.
	UserStatusSuspended = "suspended"
)

// User represents a billed tenant of the gateway. A user signs in with a
// login token and mints any number of API keys for client traffic.
type User struct {
	ID string `gorm:"type:text;primaryKey"` // Opaque hex identifier.

	Name       string `gorm:"type:text;not null"`             // Display name.
	LoginToken string `gorm:"type:text;not null;uniqueIndex"` // Self-service login secret.

	Status string `gorm:"type:text;not null;default:'active';index"` // active or suspended.

	// AssignedCredentialID pins the user to one pool credential. Empty means
	// pooled round-robin selection.
	AssignedCredentialID string `gorm:"type:text;not null;default:''"`

	TokenBalance int64 `gorm:"not null;default:0"` // Prepaid token balance, floored at zero.
	TokenGranted int64 `gorm:"not null;default:0"` // Lifetime total of positive grants.

	QuotaDailyTokens   int64 `gorm:"not null;default:0"` // Daily token cap, 0 = unlimited.
	QuotaMonthlyTokens int64 `gorm:"not null;default:0"` // Monthly token cap, 0 = unlimited.
	QuotaDailyRequests int64 `gorm:"not null;default:0"` // Daily request cap, 0 = unlimited.

	RequestCount int64      `gorm:"not null;default:0"` // Total requests served.
	LastUsedAt   *time.Time // Last successful request time.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}

// IsActive reports whether the user may issue requests.
func (u *User) IsActive() bool { return u.Status == UserStatusActive }
