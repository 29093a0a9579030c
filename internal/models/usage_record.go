package models

import "time"

// UsageRecord is an immutable append-only fact about one completed request.
// Records are only inserted, and bulk-deleted when an admin resets a user's
// usage history.
type UsageRecord struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID string `gorm:"type:text;not null;index:idx_usage_user_time,priority:1"` // Consuming user.
	Model  string `gorm:"type:text;not null;index"`                                // Model actually used upstream.

	PromptTokens     int64 `gorm:"not null;default:0"` // Prompt side of the bill.
	CompletionTokens int64 `gorm:"not null;default:0"` // Completion side of the bill.

	CredentialID string `gorm:"type:text;not null;default:'';index"` // Serving pool credential.

	RecordedAt time.Time `gorm:"not null;autoCreateTime;index:idx_usage_user_time,priority:2"` // Insertion time.
}

// TotalTokens returns the billable token total for the record.
func (r *UsageRecord) TotalTokens() int64 { return r.PromptTokens + r.CompletionTokens }
