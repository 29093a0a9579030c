package credential

import (
	"context"
	"testing"

	"github.com/apollohq/apollo-gateway/internal/db"
	"github.com/apollohq/apollo-gateway/internal/models"
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

func TestAddInsertsThenUpdatesByFingerprint(t *testing.T) {
	store := NewStore(openTestDB(t))
	ctx := context.Background()

	first, outcome, errAdd := store.Add(ctx, AddInput{
		RefreshToken: "refresh-1",
		ClientIDHash: "fp-1",
	})
	if errAdd != nil {
		t.Fatalf("add: %v", errAdd)
	}
	if outcome != OutcomeInserted {
		t.Fatalf("expected inserted outcome, got %v", outcome)
	}

	second, outcome, errAdd := store.Add(ctx, AddInput{
		RefreshToken: "refresh-2",
		ClientIDHash: "fp-1",
	})
	if errAdd != nil {
		t.Fatalf("re-add: %v", errAdd)
	}
	if outcome != OutcomeUpdated {
		t.Fatalf("expected updated outcome, got %v", outcome)
	}
	if second.ID != first.ID {
		t.Fatalf("fingerprint upsert created a new row: %s != %s", second.ID, first.ID)
	}
	if second.RefreshToken != "refresh-2" {
		t.Fatalf("refresh token not rotated: %q", second.RefreshToken)
	}
	if second.Status != models.CredentialStatusActive {
		t.Fatalf("upsert must reactivate, got status %q", second.Status)
	}
}

func TestAddReactivatesSuspendedCredential(t *testing.T) {
	conn := openTestDB(t)
	store := NewStore(conn)
	ctx := context.Background()

	row, _, errAdd := store.Add(ctx, AddInput{ClientIDHash: "fp-s"})
	if errAdd != nil {
		t.Fatalf("add: %v", errAdd)
	}
	if errSuspend := conn.Model(&models.Credential{}).Where("id = ?", row.ID).
		Update("status", models.CredentialStatusSuspended).Error; errSuspend != nil {
		t.Fatalf("suspend: %v", errSuspend)
	}

	updated, outcome, errAdd := store.Add(ctx, AddInput{ClientIDHash: "fp-s"})
	if errAdd != nil {
		t.Fatalf("re-add: %v", errAdd)
	}
	if outcome != OutcomeUpdated || updated.Status != models.CredentialStatusActive {
		t.Fatalf("expected reactivated update, got outcome=%v status=%q", outcome, updated.Status)
	}
}

func TestNextRoundRobinSkipsSuspended(t *testing.T) {
	conn := openTestDB(t)
	store := NewStore(conn)
	ctx := context.Background()

	a, _, _ := store.Add(ctx, AddInput{ClientIDHash: "fp-a"})
	b, _, _ := store.Add(ctx, AddInput{ClientIDHash: "fp-b"})
	c, _, _ := store.Add(ctx, AddInput{ClientIDHash: "fp-c"})
	if errSuspend := conn.Model(&models.Credential{}).Where("id = ?", c.ID).
		Update("status", models.CredentialStatusSuspended).Error; errSuspend != nil {
		t.Fatalf("suspend: %v", errSuspend)
	}

	var previous string
	for i := 0; i < 10; i++ {
		row, errNext := store.Next(ctx)
		if errNext != nil {
			t.Fatalf("next #%d: %v", i, errNext)
		}
		if row.ID == c.ID {
			t.Fatalf("round-robin returned suspended credential on call %d", i)
		}
		if row.ID != a.ID && row.ID != b.ID {
			t.Fatalf("unexpected credential %s", row.ID)
		}
		if row.ID == previous {
			t.Fatalf("round-robin repeated %s on consecutive calls", row.ID)
		}
		previous = row.ID
	}
}

func TestNextEmptyPool(t *testing.T) {
	store := NewStore(openTestDB(t))
	if _, errNext := store.Next(context.Background()); errNext != ErrNoActiveCredential {
		t.Fatalf("expected ErrNoActiveCredential, got %v", errNext)
	}
}

func TestListRedactsSecrets(t *testing.T) {
	store := NewStore(openTestDB(t))
	ctx := context.Background()

	if _, _, errAdd := store.Add(ctx, AddInput{
		RefreshToken: "0123456789abcdef0123456789abcdef",
		ClientIDHash: "fp-r",
	}); errAdd != nil {
		t.Fatalf("add: %v", errAdd)
	}

	rows, errList := store.List(ctx)
	if errList != nil {
		t.Fatalf("list: %v", errList)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].RefreshToken != "0123456789abcdef..." {
		t.Fatalf("refresh token not redacted: %q", rows[0].RefreshToken)
	}
}

func TestMarkUsedIncrementsCounter(t *testing.T) {
	conn := openTestDB(t)
	store := NewStore(conn)
	ctx := context.Background()

	row, _, _ := store.Add(ctx, AddInput{ClientIDHash: "fp-m"})
	if errMark := store.MarkUsed(ctx, row.ID); errMark != nil {
		t.Fatalf("mark used: %v", errMark)
	}
	if errMark := store.MarkUsed(ctx, row.ID); errMark != nil {
		t.Fatalf("mark used: %v", errMark)
	}

	var reloaded models.Credential
	if errFind := conn.First(&reloaded, "id = ?", row.ID).Error; errFind != nil {
		t.Fatalf("reload: %v", errFind)
	}
	if reloaded.UseCount != 2 {
		t.Fatalf("expected use count 2, got %d", reloaded.UseCount)
	}
	if reloaded.LastUsedAt == nil {
		t.Fatal("expected last used timestamp to be set")
	}
}
