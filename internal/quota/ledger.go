// Package quota enforces per-user spending limits and keeps the append-only
// usage history they are computed from.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/apollohq/apollo-gateway/internal/db"
	"github.com/apollohq/apollo-gateway/internal/models"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ErrUserNotFound indicates the referenced user row does not exist.
var ErrUserNotFound = errors.New("quota: user not found")

// Ledger answers admission checks and records settled usage.
//
// CheckAdmission and RecordUsage deliberately do not share a transaction: a
// burst of concurrent requests can each pass the check before any of them
// settles, briefly overshooting a cap. Caps are treated as soft limits and the
// window is bounded by request latency.
type Ledger struct {
	db *gorm.DB
}

// NewLedger constructs a Ledger.
func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// CheckAdmission evaluates the user's limits and returns a human-readable
// denial reason, or "" when the request may proceed. Checks run in a fixed
// order: balance, daily requests, daily tokens, monthly tokens. A cap of zero
// means unlimited.
func (l *Ledger) CheckAdmission(ctx context.Context, userID string) (string, error) {
	var user models.User
	errFind := l.db.WithContext(ctx).First(&user, "id = ?", userID).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("quota: load user: %w", errFind)
	}

	if user.TokenBalance <= 0 {
		return fmt.Sprintf("Token balance exhausted (granted: %d)", user.TokenGranted), nil
	}

	now := time.Now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	if user.QuotaDailyRequests > 0 {
		var count int64
		if errCount := l.db.WithContext(ctx).Model(&models.UsageRecord{}).
			Where("user_id = ? AND recorded_at >= ?", userID, dayStart).
			Count(&count).Error; errCount != nil {
			return "", fmt.Errorf("quota: count daily requests: %w", errCount)
		}
		if count >= user.QuotaDailyRequests {
			return fmt.Sprintf("Daily request limit reached (%d)", user.QuotaDailyRequests), nil
		}
	}

	if user.QuotaDailyTokens > 0 {
		spent, errSum := l.tokensSince(ctx, userID, dayStart)
		if errSum != nil {
			return "", errSum
		}
		if spent >= user.QuotaDailyTokens {
			return fmt.Sprintf("Daily token limit reached (%d)", user.QuotaDailyTokens), nil
		}
	}

	if user.QuotaMonthlyTokens > 0 {
		monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		spent, errSum := l.tokensSince(ctx, userID, monthStart)
		if errSum != nil {
			return "", errSum
		}
		if spent >= user.QuotaMonthlyTokens {
			return fmt.Sprintf("Monthly token limit reached (%d)", user.QuotaMonthlyTokens), nil
		}
	}

	return "", nil
}

// tokensSince sums prompt+completion tokens for a user from the given instant.
func (l *Ledger) tokensSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	var total int64
	errSum := l.db.WithContext(ctx).Model(&models.UsageRecord{}).
		Where("user_id = ? AND recorded_at >= ?", userID, since).
		Select("COALESCE(SUM(prompt_tokens + completion_tokens), 0)").
		Scan(&total).Error
	if errSum != nil {
		return 0, fmt.Errorf("quota: sum tokens: %w", errSum)
	}
	return total, nil
}

// RecordUsage appends a usage record and deducts the token total from the
// user's balance, clamping it at zero on the SQL side. Callers invoke this at
// most once per request; a partially delivered stream records whatever usage
// accumulated before it ended.
func (l *Ledger) RecordUsage(ctx context.Context, userID, model string, promptTokens, completionTokens int64, credentialID string) error {
	total := promptTokens + completionTokens

	clampFn := "GREATEST"
	if db.IsSQLite(l.db) {
		clampFn = "MAX"
	}

	errTx := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record := models.UsageRecord{
			UserID:           userID,
			Model:            model,
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			CredentialID:     credentialID,
		}
		if errCreate := tx.Create(&record).Error; errCreate != nil {
			return fmt.Errorf("append record: %w", errCreate)
		}
		if errDeduct := tx.Model(&models.User{}).
			Where("id = ?", userID).
			Update("token_balance", gorm.Expr(clampFn+"(0, token_balance - ?)", total)).Error; errDeduct != nil {
			return fmt.Errorf("deduct balance: %w", errDeduct)
		}
		return nil
	})
	if errTx != nil {
		return fmt.Errorf("quota: record usage: %w", errTx)
	}

	log.Debugf("usage recorded: user=%s model=%s credential=%s +%d", userID, model, credentialID, total)
	return nil
}

// GrantTokens adjusts the user's balance by amount (which may be negative),
// clamping the result at zero. Only positive grants add to the lifetime
// granted total. It returns the user's new balance and granted totals.
func (l *Ledger) GrantTokens(ctx context.Context, userID string, amount int64) (balance, granted int64, err error) {
	var user models.User
	errFind := l.db.WithContext(ctx).First(&user, "id = ?", userID).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return 0, 0, ErrUserNotFound
		}
		return 0, 0, fmt.Errorf("quota: load user: %w", errFind)
	}

	balance = user.TokenBalance + amount
	if balance < 0 {
		balance = 0
	}
	granted = user.TokenGranted
	if amount > 0 {
		granted += amount
	}

	if errUpdate := l.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"token_balance": balance,
			"token_granted": granted,
		}).Error; errUpdate != nil {
		return 0, 0, fmt.Errorf("quota: grant tokens: %w", errUpdate)
	}

	log.Infof("tokens granted to %s: %+d, balance=%d", userID, amount, balance)
	return balance, granted, nil
}

// ResetUsage deletes the user's usage history and zeroes the request counter.
// Balance and granted totals are untouched.
func (l *Ledger) ResetUsage(ctx context.Context, userID string) (bool, error) {
	if errDelete := l.db.WithContext(ctx).
		Delete(&models.UsageRecord{}, "user_id = ?", userID).Error; errDelete != nil {
		return false, fmt.Errorf("quota: delete records: %w", errDelete)
	}
	res := l.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Update("request_count", 0)
	if res.Error != nil {
		return false, fmt.Errorf("quota: reset counter: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}
