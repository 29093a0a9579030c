// Package credential manages the pool of upstream credentials: durable
// records, round-robin selection, and the per-credential auth session bridge.
package credential

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/apollohq/apollo-gateway/internal/cache"
	"github.com/apollohq/apollo-gateway/internal/models"
	"github.com/apollohq/apollo-gateway/internal/security"
	"github.com/apollohq/apollo-gateway/internal/util"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// listCacheTTL bounds staleness of the redacted listing.
const listCacheTTL = 30 * time.Second

// ErrNoActiveCredential indicates the pool holds no selectable credential.
var ErrNoActiveCredential = errors.New("credential: no active credential in pool")

// AddOutcome tags the result of an Add call.
type AddOutcome int

// Add outcomes.
const (
	// OutcomeInserted means a new credential row was created.
	OutcomeInserted AddOutcome = iota
	// OutcomeUpdated means an existing row matched the fingerprint and was
	// updated in place and reactivated.
	OutcomeUpdated
)

// AddInput carries the secret material for a new or rotated credential.
type AddInput struct {
	RefreshToken string
	AccessToken  string
	ExpiresAt    string
	Region       string
	ClientIDHash string
	ClientID     string
	ClientSecret string
	AuthMethod   string
	Provider     string
	ProfileARN   string
}

// Store owns credential rows and the shared round-robin cursor.
type Store struct {
	db *gorm.DB

	mu     sync.Mutex // guards cursor
	cursor int

	listCache *cache.TTL[[]RedactedCredential]
}

// NewStore constructs a credential Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:        db,
		listCache: cache.New[[]RedactedCredential](listCacheTTL),
	}
}

// RedactedCredential is a credential row with secret fields truncated for
// listing endpoints.
type RedactedCredential struct {
	ID           string     `json:"id"`
	RefreshToken string     `json:"refreshToken"`
	AccessToken  string     `json:"accessToken"`
	ClientSecret string     `json:"clientSecret"`
	Region       string     `json:"region"`
	AuthMethod   string     `json:"authMethod"`
	Provider     string     `json:"provider"`
	Status       string     `json:"status"`
	UseCount     int64      `json:"useCount"`
	LastUsedAt   *time.Time `json:"lastUsed"`
	CreatedAt    time.Time  `json:"addedAt"`
}

// Add inserts a new credential, or updates and reactivates the existing row
// sharing the same client fingerprint. The outcome tags which path was taken.
func (s *Store) Add(ctx context.Context, input AddInput) (*models.Credential, AddOutcome, error) {
	fingerprint := strings.TrimSpace(input.ClientIDHash)

	if fingerprint != "" {
		var existing models.Credential
		errFind := s.db.WithContext(ctx).Where("client_id_hash = ?", fingerprint).First(&existing).Error
		switch {
		case errFind == nil:
			updates := map[string]any{
				"refresh_token": input.RefreshToken,
				"access_token":  input.AccessToken,
				"expires_at":    input.ExpiresAt,
				"region":        regionOrDefault(input.Region),
				"client_id":     input.ClientID,
				"client_secret": input.ClientSecret,
				"auth_method":   input.AuthMethod,
				"provider":      input.Provider,
				"profile_arn":   input.ProfileARN,
				"status":        models.CredentialStatusActive,
			}
			if errUpdate := s.db.WithContext(ctx).Model(&models.Credential{}).
				Where("id = ?", existing.ID).
				Updates(updates).Error; errUpdate != nil {
				return nil, OutcomeUpdated, fmt.Errorf("credential: update: %w", errUpdate)
			}
			s.listCache.Clear()
			log.Infof("credential updated (same fingerprint): id=%s", existing.ID)
			var updated models.Credential
			if errReload := s.db.WithContext(ctx).First(&updated, "id = ?", existing.ID).Error; errReload != nil {
				return nil, OutcomeUpdated, fmt.Errorf("credential: reload: %w", errReload)
			}
			return &updated, OutcomeUpdated, nil
		case errors.Is(errFind, gorm.ErrRecordNotFound):
			// fall through to insert
		default:
			return nil, OutcomeInserted, fmt.Errorf("credential: lookup fingerprint: %w", errFind)
		}
	}

	id, errID := security.GenerateID()
	if errID != nil {
		return nil, OutcomeInserted, errID
	}
	row := models.Credential{
		ID:           id,
		RefreshToken: input.RefreshToken,
		AccessToken:  input.AccessToken,
		ExpiresAt:    input.ExpiresAt,
		Region:       regionOrDefault(input.Region),
		ClientIDHash: fingerprint,
		ClientID:     input.ClientID,
		ClientSecret: input.ClientSecret,
		AuthMethod:   input.AuthMethod,
		Provider:     input.Provider,
		ProfileARN:   input.ProfileARN,
		Status:       models.CredentialStatusActive,
	}
	if errCreate := s.db.WithContext(ctx).Create(&row).Error; errCreate != nil {
		return nil, OutcomeInserted, fmt.Errorf("credential: insert: %w", errCreate)
	}
	s.listCache.Clear()
	log.Infof("credential added: id=%s", id)
	return &row, OutcomeInserted, nil
}

// Remove deletes a credential row. The caller must evict any cached auth
// session for the id.
func (s *Store) Remove(ctx context.Context, id string) (bool, error) {
	res := s.db.WithContext(ctx).Delete(&models.Credential{}, "id = ?", id)
	if res.Error != nil {
		return false, fmt.Errorf("credential: delete: %w", res.Error)
	}
	s.listCache.Clear()
	return res.RowsAffected == 1, nil
}

// Get returns the full credential row, secrets included.
func (s *Store) Get(ctx context.Context, id string) (*models.Credential, error) {
	var row models.Credential
	errFind := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("credential: get: %w", errFind)
	}
	return &row, nil
}

// List returns all credentials with secret fields redacted, served from a
// short-lived cache.
func (s *Store) List(ctx context.Context) ([]RedactedCredential, error) {
	if cached, ok := s.listCache.Get("all"); ok {
		return cached, nil
	}

	var rows []models.Credential
	if errFind := s.db.WithContext(ctx).Order("created_at ASC").Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("credential: list: %w", errFind)
	}

	out := make([]RedactedCredential, 0, len(rows))
	for _, row := range rows {
		out = append(out, RedactedCredential{
			ID:           row.ID,
			RefreshToken: util.RedactSecret(row.RefreshToken),
			AccessToken:  util.RedactSecret(row.AccessToken),
			ClientSecret: util.RedactSecret(row.ClientSecret),
			Region:       row.Region,
			AuthMethod:   row.AuthMethod,
			Provider:     row.Provider,
			Status:       row.Status,
			UseCount:     row.UseCount,
			LastUsedAt:   row.LastUsedAt,
			CreatedAt:    row.CreatedAt,
		})
	}
	s.listCache.Set("all", out)
	return out, nil
}

// Next selects the next active credential by round-robin. The cursor is taken
// modulo the active-set size at the time of the call; selection under
// concurrent removals may skip or repeat an entry, which is accepted as
// best-effort fairness.
func (s *Store) Next(ctx context.Context) (*models.Credential, error) {
	var rows []models.Credential
	if errFind := s.db.WithContext(ctx).
		Where("status = ?", models.CredentialStatusActive).
		Order("created_at ASC").
		Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("credential: next: %w", errFind)
	}
	if len(rows) == 0 {
		return nil, ErrNoActiveCredential
	}

	s.mu.Lock()
	s.cursor %= len(rows)
	row := rows[s.cursor]
	s.cursor = (s.cursor + 1) % len(rows)
	s.mu.Unlock()

	return &row, nil
}

// MarkUsed bumps the use counter and last-used timestamp. Not required to be
// synchronous with the call that used the credential.
func (s *Store) MarkUsed(ctx context.Context, id string) error {
	now := time.Now().UTC()
	errUpdate := s.db.WithContext(ctx).Model(&models.Credential{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"use_count":    gorm.Expr("use_count + 1"),
			"last_used_at": now,
		}).Error
	if errUpdate != nil {
		return fmt.Errorf("credential: mark used: %w", errUpdate)
	}
	return nil
}

// UpdateSecrets rotates stored secret material for a credential. The caller
// must evict any cached auth session so the next request picks up the new
// material.
func (s *Store) UpdateSecrets(ctx context.Context, id string, updates map[string]any) error {
	allowed := map[string]string{
		"accessToken":  "access_token",
		"refreshToken": "refresh_token",
		"expiresAt":    "expires_at",
		"clientSecret": "client_secret",
	}
	columns := make(map[string]any, len(updates))
	for key, value := range updates {
		column, ok := allowed[key]
		if !ok {
			continue
		}
		columns[column] = value
	}
	if len(columns) == 0 {
		return nil
	}
	if errUpdate := s.db.WithContext(ctx).Model(&models.Credential{}).
		Where("id = ?", id).
		Updates(columns).Error; errUpdate != nil {
		return fmt.Errorf("credential: update secrets: %w", errUpdate)
	}
	s.listCache.Clear()
	return nil
}

// regionOrDefault falls back to the pool's default region.
func regionOrDefault(region string) string {
	if strings.TrimSpace(region) == "" {
		return "us-east-1"
	}
	return region
}
