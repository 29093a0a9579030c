package models

import "time"

// Credential status values.
const (
	// CredentialStatusActive marks a credential as selectable by the pool.
	CredentialStatusActive = "active"
	// CredentialStatusSuspended removes a credential from rotation without deleting it.
	CredentialStatusSuspended = "suspended"
)

// Credential represents one upstream account's authentication material,
// pooled and rotated across users.
type Credential struct {
	ID string `gorm:"type:text;primaryKey"` // Opaque hex identifier.

	RefreshToken string `gorm:"type:text"` // Long-lived refresh token.
	AccessToken  string `gorm:"type:text"` // Cached access token, may be stale.
	ExpiresAt    string `gorm:"type:text"` // Upstream expiry, RFC 3339 string as delivered.

	Region       string `gorm:"type:text;not null;default:'us-east-1'"` // Upstream region.
	ClientIDHash string `gorm:"type:text;index"`                        // Stable hardware/client fingerprint; upsert key.
	ClientID     string `gorm:"type:text"`                              // OAuth client id when present.
	ClientSecret string `gorm:"type:text"`                              // OAuth client secret when present.
	AuthMethod   string `gorm:"type:text"`                              // Auth flavour reported by the extractor.
	Provider     string `gorm:"type:text"`                              // Upstream provider label.
	ProfileARN   string `gorm:"type:text"`                              // Optional upstream profile reference.

	Status string `gorm:"type:text;not null;default:'active';index"` // active or suspended.

	UseCount   int64      `gorm:"not null;default:0"` // Number of requests served.
	LastUsedAt *time.Time // Last selection timestamp.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}

// IsActive reports whether the credential can be selected by the pool.
func (c *Credential) IsActive() bool { return c.Status == CredentialStatusActive }
