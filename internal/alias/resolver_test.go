package alias

import (
	"context"
	"testing"

	"github.com/apollohq/apollo-gateway/internal/db"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, errOpen := db.Open(":memory:")
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}
	return conn
}

func seededResolver(t *testing.T) *Resolver {
	t.Helper()
	resolver := NewResolver(openTestDB(t))
	if errSeed := resolver.SeedBuiltins(context.Background()); errSeed != nil {
		t.Fatalf("seed builtins: %v", errSeed)
	}
	return resolver
}

func TestResolveBuiltinAlias(t *testing.T) {
	resolver := seededResolver(t)

	got, errResolve := resolver.Resolve(context.Background(), "kiro-haiku")
	if errResolve != nil {
		t.Fatalf("resolve: %v", errResolve)
	}
	if got != "claude-haiku-4.5" {
		t.Fatalf("expected claude-haiku-4.5, got %q", got)
	}
}

func TestResolvePassesUnknownNameThrough(t *testing.T) {
	resolver := seededResolver(t)

	got, errResolve := resolver.Resolve(context.Background(), "claude-opus-4.6")
	if errResolve != nil {
		t.Fatalf("resolve: %v", errResolve)
	}
	if got != "claude-opus-4.6" {
		t.Fatalf("unknown names must pass through unchanged, got %q", got)
	}
}

func TestResolveIsNotRecursive(t *testing.T) {
	resolver := seededResolver(t)
	ctx := context.Background()

	// chain-a -> kiro-haiku, which is itself an alias. Resolution must stop
	// after one hop.
	if errSet := resolver.Set(ctx, "chain-a", []string{"kiro-haiku"}); errSet != nil {
		t.Fatalf("set: %v", errSet)
	}
	got, errResolve := resolver.Resolve(ctx, "chain-a")
	if errResolve != nil {
		t.Fatalf("resolve: %v", errResolve)
	}
	if got != "kiro-haiku" {
		t.Fatalf("expected single-hop resolution, got %q", got)
	}
}

func TestSetUpdateVisibleDespiteCache(t *testing.T) {
	resolver := seededResolver(t)
	ctx := context.Background()

	if errSet := resolver.Set(ctx, "team-model", []string{"claude-sonnet-4"}); errSet != nil {
		t.Fatalf("set: %v", errSet)
	}
	if got, _ := resolver.Resolve(ctx, "team-model"); got != "claude-sonnet-4" {
		t.Fatalf("expected claude-sonnet-4, got %q", got)
	}

	// Update through the same resolver; the write must clear the cache so the
	// new target is visible immediately.
	if errSet := resolver.Set(ctx, "team-model", []string{"claude-opus-4.5"}); errSet != nil {
		t.Fatalf("update: %v", errSet)
	}
	if got, _ := resolver.Resolve(ctx, "team-model"); got != "claude-opus-4.5" {
		t.Fatalf("stale cache after update: got %q", got)
	}
}

func TestRemoveRefusesBuiltin(t *testing.T) {
	resolver := seededResolver(t)
	ctx := context.Background()

	removed, errRemove := resolver.Remove(ctx, "kiro-auto")
	if errRemove != nil {
		t.Fatalf("remove: %v", errRemove)
	}
	if removed {
		t.Fatal("builtin aliases must not be removable")
	}
	if got, _ := resolver.Resolve(ctx, "kiro-auto"); got != "auto-kiro" {
		t.Fatalf("builtin mapping lost after refused remove: %q", got)
	}
}

func TestRemoveCustomAlias(t *testing.T) {
	resolver := seededResolver(t)
	ctx := context.Background()

	if errSet := resolver.Set(ctx, "short-lived", []string{"claude-sonnet-4.5"}); errSet != nil {
		t.Fatalf("set: %v", errSet)
	}
	removed, errRemove := resolver.Remove(ctx, "short-lived")
	if errRemove != nil {
		t.Fatalf("remove: %v", errRemove)
	}
	if !removed {
		t.Fatal("expected custom alias to be removed")
	}
	if got, _ := resolver.Resolve(ctx, "short-lived"); got != "short-lived" {
		t.Fatalf("removed alias must pass through, got %q", got)
	}
}

func TestListIncludesBuiltinsAndCustom(t *testing.T) {
	resolver := seededResolver(t)
	ctx := context.Background()

	if errSet := resolver.Set(ctx, "extra", []string{"claude-opus-4.6", "claude-sonnet-4.5"}); errSet != nil {
		t.Fatalf("set: %v", errSet)
	}
	all, errList := resolver.List(ctx)
	if errList != nil {
		t.Fatalf("list: %v", errList)
	}
	if len(all) != len(Builtins)+1 {
		t.Fatalf("expected %d mappings, got %d", len(Builtins)+1, len(all))
	}
	if targets := all["extra"]; len(targets) != 2 || targets[0] != "claude-opus-4.6" {
		t.Fatalf("unexpected custom targets %v", targets)
	}
}
