// Package alias resolves gateway-local model names ("combos") to concrete
// upstream model identifiers.
package alias

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/apollohq/apollo-gateway/internal/cache"
	"github.com/apollohq/apollo-gateway/internal/models"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// mappingCacheTTL bounds staleness of alias reads. Any write clears the whole
// cache rather than invalidating single keys; the brief burst of store reads
// afterwards is the accepted cost of that simplicity.
const mappingCacheTTL = 60 * time.Second

// Builtins ship with the gateway and are seeded at startup. They can be
// value-updated but never deleted.
var Builtins = map[string][]string{
	"kiro-opus-4-6":   {"claude-opus-4.6"},
	"kiro-opus-4-5":   {"claude-opus-4.5"},
	"kiro-sonnet-4-5": {"claude-sonnet-4.5"},
	"kiro-sonnet-4":   {"claude-sonnet-4"},
	"kiro-haiku-4-5":  {"claude-haiku-4.5"},
	"kiro-haiku":      {"claude-haiku-4.5"},
	"kiro-auto":       {"auto-kiro"},
}

// Resolver maps logical model names to upstream model ids through a
// short-lived cache.
type Resolver struct {
	db        *gorm.DB
	cache     *cache.TTL[[]string]
	listCache *cache.TTL[map[string][]string]
}

// NewResolver constructs a Resolver.
func NewResolver(db *gorm.DB) *Resolver {
	return &Resolver{
		db:        db,
		cache:     cache.New[[]string](mappingCacheTTL),
		listCache: cache.New[map[string][]string](mappingCacheTTL),
	}
}

// SeedBuiltins upserts the built-in mappings, refreshing their target lists
// while preserving any admin-defined aliases.
func (r *Resolver) SeedBuiltins(ctx context.Context) error {
	for name, targets := range Builtins {
		encoded, errMarshal := json.Marshal(targets)
		if errMarshal != nil {
			return fmt.Errorf("alias: marshal builtin %s: %w", name, errMarshal)
		}
		row := models.ModelAlias{Name: name, Targets: encoded, Builtin: true}
		if errUpsert := r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.Assignments(map[string]any{"targets": encoded, "builtin": true}),
		}).Create(&row).Error; errUpsert != nil {
			return fmt.Errorf("alias: seed builtin %s: %w", name, errUpsert)
		}
	}
	r.cache.Clear()
	r.listCache.Clear()
	return nil
}

// Resolve returns the first target of the alias, or name unchanged when no
// alias matches or the alias has an empty target list.
func (r *Resolver) Resolve(ctx context.Context, name string) (string, error) {
	targets, errLookup := r.lookup(ctx, name)
	if errLookup != nil {
		return "", errLookup
	}
	if len(targets) == 0 {
		return name, nil
	}
	return targets[0], nil
}

// Targets returns the full target list for an alias, or nil when the name is
// not an alias.
func (r *Resolver) Targets(ctx context.Context, name string) ([]string, error) {
	return r.lookup(ctx, name)
}

// lookup serves the alias target list from cache, falling back to the store.
func (r *Resolver) lookup(ctx context.Context, name string) ([]string, error) {
	if cached, ok := r.cache.Get("combo:" + name); ok {
		return cached, nil
	}

	var row models.ModelAlias
	errFind := r.db.WithContext(ctx).First(&row, "name = ?", name).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("alias: lookup %s: %w", name, errFind)
	}

	var targets []string
	if errUnmarshal := json.Unmarshal(row.Targets, &targets); errUnmarshal != nil {
		return nil, fmt.Errorf("alias: decode targets for %s: %w", name, errUnmarshal)
	}
	if len(targets) > 0 {
		r.cache.Set("combo:"+name, targets)
	}
	return targets, nil
}

// List returns every alias mapping keyed by name.
func (r *Resolver) List(ctx context.Context) (map[string][]string, error) {
	if cached, ok := r.listCache.Get("all"); ok {
		return cached, nil
	}

	var rows []models.ModelAlias
	if errFind := r.db.WithContext(ctx).Order("name ASC").Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("alias: list: %w", errFind)
	}

	out := make(map[string][]string, len(rows))
	for _, row := range rows {
		var targets []string
		if errUnmarshal := json.Unmarshal(row.Targets, &targets); errUnmarshal != nil {
			log.WithError(errUnmarshal).Warnf("alias: skipping undecodable mapping %s", row.Name)
			continue
		}
		out[row.Name] = targets
	}

	r.listCache.Set("all", out)
	return out, nil
}

// Set upserts a (non-builtin) alias mapping and clears the whole cache.
func (r *Resolver) Set(ctx context.Context, name string, targets []string) error {
	if name == "" || len(targets) == 0 {
		return fmt.Errorf("alias: name and targets are required")
	}
	encoded, errMarshal := json.Marshal(targets)
	if errMarshal != nil {
		return fmt.Errorf("alias: marshal targets: %w", errMarshal)
	}
	row := models.ModelAlias{Name: name, Targets: encoded, Builtin: false}
	if errUpsert := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.Assignments(map[string]any{"targets": encoded}),
	}).Create(&row).Error; errUpsert != nil {
		return fmt.Errorf("alias: set %s: %w", name, errUpsert)
	}
	r.cache.Clear()
	r.listCache.Clear()
	return nil
}

// Remove deletes a non-builtin alias. It returns false for builtins and for
// names that do not exist.
func (r *Resolver) Remove(ctx context.Context, name string) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("name = ? AND builtin = ?", name, false).
		Delete(&models.ModelAlias{})
	if res.Error != nil {
		return false, fmt.Errorf("alias: remove %s: %w", name, res.Error)
	}
	r.cache.Clear()
	r.listCache.Clear()
	return res.RowsAffected == 1, nil
}
