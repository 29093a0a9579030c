package quota

import (
	"context"
	"errors"
	"fmt"

	"github.com/apollohq/apollo-gateway/internal/db"
	"github.com/apollohq/apollo-gateway/internal/models"

	"gorm.io/gorm"
)

// Bucket aggregates usage over one grouping key (a model name or a date).
type Bucket struct {
	PromptTokens     int64 `json:"prompt"`
	CompletionTokens int64 `json:"completion"`
	Requests         int64 `json:"requests"`
}

// UserUsage is the per-user usage report.
type UserUsage struct {
	UserID       string `json:"user_id"`
	Name         string `json:"name"`
	TokenBalance int64  `json:"token_balance"`
	TokenGranted int64  `json:"token_granted"`

	TotalPromptTokens     int64             `json:"total_prompt_tokens"`
	TotalCompletionTokens int64             `json:"total_completion_tokens"`
	TotalTokens           int64             `json:"total_tokens"`
	ByModel               map[string]Bucket `json:"by_model"`
	ByDate                map[string]Bucket `json:"by_date"`

	QuotaDailyTokens   int64 `json:"quota_daily_tokens"`
	QuotaMonthlyTokens int64 `json:"quota_monthly_tokens"`
	QuotaDailyRequests int64 `json:"quota_daily_requests"`
	RequestCount       int64 `json:"request_count"`
}

// UserSummary is one row of the global report's per-user ranking.
type UserSummary struct {
	UserID       string `json:"user_id"`
	Name         string `json:"name"`
	Status       string `json:"status"`
	TokenBalance int64  `json:"token_balance"`
	TokenGranted int64  `json:"token_granted"`
	TotalTokens  int64  `json:"total_tokens"`
	RequestCount int64  `json:"request_count"`
}

// GlobalUsage is the gateway-wide usage report.
type GlobalUsage struct {
	TotalPromptTokens     int64             `json:"total_prompt_tokens"`
	TotalCompletionTokens int64             `json:"total_completion_tokens"`
	TotalTokens           int64             `json:"total_tokens"`
	TotalRequests         int64             `json:"total_requests"`
	ByModel               map[string]Bucket `json:"by_model"`
	ByDate                map[string]Bucket `json:"by_date"`
	Users                 []UserSummary     `json:"users"`
}

// CredentialUsage aggregates usage served through one pool credential.
type CredentialUsage struct {
	CredentialID          string            `json:"credential_id"`
	TotalPromptTokens     int64             `json:"total_prompt_tokens"`
	TotalCompletionTokens int64             `json:"total_completion_tokens"`
	TotalTokens           int64             `json:"total_tokens"`
	TotalRequests         int64             `json:"total_requests"`
	ByModel               map[string]Bucket `json:"by_model,omitempty"`
}

type bucketRow struct {
	Key              string
	PromptTokens     int64
	CompletionTokens int64
	Requests         int64
}

func bucketsByKey(rows []bucketRow) map[string]Bucket {
	out := make(map[string]Bucket, len(rows))
	for _, row := range rows {
		out[row.Key] = Bucket{
			PromptTokens:     row.PromptTokens,
			CompletionTokens: row.CompletionTokens,
			Requests:         row.Requests,
		}
	}
	return out
}

const bucketSums = "COALESCE(SUM(prompt_tokens),0) AS prompt_tokens, COALESCE(SUM(completion_tokens),0) AS completion_tokens, COUNT(*) AS requests"

// UserReport builds the full usage report for one user, or nil when the user
// does not exist.
func (l *Ledger) UserReport(ctx context.Context, userID string) (*UserUsage, error) {
	var user models.User
	errFind := l.db.WithContext(ctx).First(&user, "id = ?", userID).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("quota: load user: %w", errFind)
	}

	var byModel []bucketRow
	if errGroup := l.db.WithContext(ctx).Model(&models.UsageRecord{}).
		Select("model AS key, "+bucketSums).
		Where("user_id = ?", userID).
		Group("model").
		Scan(&byModel).Error; errGroup != nil {
		return nil, fmt.Errorf("quota: group by model: %w", errGroup)
	}

	dateExpr := db.DateExpr(l.db, "recorded_at")
	var byDate []bucketRow
	if errGroup := l.db.WithContext(ctx).Model(&models.UsageRecord{}).
		Select(dateExpr+" AS key, "+bucketSums).
		Where("user_id = ?", userID).
		Group(dateExpr).
		Order("key DESC").
		Scan(&byDate).Error; errGroup != nil {
		return nil, fmt.Errorf("quota: group by date: %w", errGroup)
	}

	report := &UserUsage{
		UserID:             user.ID,
		Name:               user.Name,
		TokenBalance:       user.TokenBalance,
		TokenGranted:       user.TokenGranted,
		ByModel:            bucketsByKey(byModel),
		ByDate:             bucketsByKey(byDate),
		QuotaDailyTokens:   user.QuotaDailyTokens,
		QuotaMonthlyTokens: user.QuotaMonthlyTokens,
		QuotaDailyRequests: user.QuotaDailyRequests,
		RequestCount:       user.RequestCount,
	}
	for _, row := range byModel {
		report.TotalPromptTokens += row.PromptTokens
		report.TotalCompletionTokens += row.CompletionTokens
	}
	report.TotalTokens = report.TotalPromptTokens + report.TotalCompletionTokens
	return report, nil
}

// GlobalReport builds the gateway-wide rollup: totals, per-model and per-date
// buckets, and every user ranked by consumed tokens.
func (l *Ledger) GlobalReport(ctx context.Context) (*GlobalUsage, error) {
	var byModel []bucketRow
	if errGroup := l.db.WithContext(ctx).Model(&models.UsageRecord{}).
		Select("model AS key, " + bucketSums).
		Group("model").
		Scan(&byModel).Error; errGroup != nil {
		return nil, fmt.Errorf("quota: group by model: %w", errGroup)
	}

	dateExpr := db.DateExpr(l.db, "recorded_at")
	var byDate []bucketRow
	if errGroup := l.db.WithContext(ctx).Model(&models.UsageRecord{}).
		Select(dateExpr + " AS key, " + bucketSums).
		Group(dateExpr).
		Order("key DESC").
		Scan(&byDate).Error; errGroup != nil {
		return nil, fmt.Errorf("quota: group by date: %w", errGroup)
	}

	var totalRequests int64
	if errSum := l.db.WithContext(ctx).Model(&models.User{}).
		Select("COALESCE(SUM(request_count),0)").
		Scan(&totalRequests).Error; errSum != nil {
		return nil, fmt.Errorf("quota: sum request counts: %w", errSum)
	}

	var users []UserSummary
	if errJoin := l.db.WithContext(ctx).Model(&models.User{}).
		Select(`users.id AS user_id, users.name, users.status, users.token_balance,
			users.token_granted, users.request_count,
			COALESCE(SUM(usage_records.prompt_tokens + usage_records.completion_tokens),0) AS total_tokens`).
		Joins("LEFT JOIN usage_records ON usage_records.user_id = users.id").
		Group("users.id").
		Order("total_tokens DESC").
		Scan(&users).Error; errJoin != nil {
		return nil, fmt.Errorf("quota: rank users: %w", errJoin)
	}

	report := &GlobalUsage{
		TotalRequests: totalRequests,
		ByModel:       bucketsByKey(byModel),
		ByDate:        bucketsByKey(byDate),
		Users:         users,
	}
	for _, row := range byModel {
		report.TotalPromptTokens += row.PromptTokens
		report.TotalCompletionTokens += row.CompletionTokens
	}
	report.TotalTokens = report.TotalPromptTokens + report.TotalCompletionTokens
	return report, nil
}

// CredentialReport aggregates usage served through one credential, including
// a per-model breakdown.
func (l *Ledger) CredentialReport(ctx context.Context, credentialID string) (*CredentialUsage, error) {
	var byModel []bucketRow
	if errGroup := l.db.WithContext(ctx).Model(&models.UsageRecord{}).
		Select("model AS key, "+bucketSums).
		Where("credential_id = ?", credentialID).
		Group("model").
		Scan(&byModel).Error; errGroup != nil {
		return nil, fmt.Errorf("quota: group by model: %w", errGroup)
	}

	report := &CredentialUsage{
		CredentialID: credentialID,
		ByModel:      bucketsByKey(byModel),
	}
	for _, row := range byModel {
		report.TotalPromptTokens += row.PromptTokens
		report.TotalCompletionTokens += row.CompletionTokens
		report.TotalRequests += row.Requests
	}
	report.TotalTokens = report.TotalPromptTokens + report.TotalCompletionTokens
	return report, nil
}

// AllCredentialReports aggregates usage for every credential that served at
// least one request.
func (l *Ledger) AllCredentialReports(ctx context.Context) (map[string]CredentialUsage, error) {
	var rows []struct {
		CredentialID     string
		PromptTokens     int64
		CompletionTokens int64
		Requests         int64
	}
	if errGroup := l.db.WithContext(ctx).Model(&models.UsageRecord{}).
		Select("credential_id, "+bucketSums).
		Where("credential_id <> ?", "").
		Group("credential_id").
		Scan(&rows).Error; errGroup != nil {
		return nil, fmt.Errorf("quota: group by credential: %w", errGroup)
	}

	out := make(map[string]CredentialUsage, len(rows))
	for _, row := range rows {
		out[row.CredentialID] = CredentialUsage{
			CredentialID:          row.CredentialID,
			TotalPromptTokens:     row.PromptTokens,
			TotalCompletionTokens: row.CompletionTokens,
			TotalTokens:           row.PromptTokens + row.CompletionTokens,
			TotalRequests:         row.Requests,
		}
	}
	return out, nil
}
