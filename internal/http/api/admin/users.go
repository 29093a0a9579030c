package admin

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/apollohq/apollo-gateway/internal/models"
	"github.com/apollohq/apollo-gateway/internal/orchestrator"
	"github.com/apollohq/apollo-gateway/internal/quota"
	"github.com/apollohq/apollo-gateway/internal/security"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// UsersHandler handles tenant administration.
type UsersHandler struct {
	db           *gorm.DB
	ledger       *quota.Ledger
	orchestrator *orchestrator.Orchestrator
}

// NewUsersHandler constructs a UsersHandler.
func NewUsersHandler(db *gorm.DB, ledger *quota.Ledger, o *orchestrator.Orchestrator) *UsersHandler {
	return &UsersHandler{db: db, ledger: ledger, orchestrator: o}
}

// createUserRequest defines the request body for user creation.
type createUserRequest struct {
	Name               string `json:"name"`
	TokenGrant         int64  `json:"tokenGrant"`
	QuotaDailyTokens   int64  `json:"quotaDailyTokens"`
	QuotaMonthlyTokens int64  `json:"quotaMonthlyTokens"`
	QuotaDailyRequests int64  `json:"quotaDailyRequests"`
}

// Create provisions a user with a fresh login token and optional initial
// grant.
func (h *UsersHandler) Create(c *gin.Context) {
	var body createUserRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	name := strings.TrimSpace(body.Name)
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	id, errID := security.GenerateID()
	if errID != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "id generation failed"})
		return
	}
	loginToken, errToken := security.GenerateLoginToken()
	if errToken != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token generation failed"})
		return
	}

	grant := body.TokenGrant
	if grant < 0 {
		grant = 0
	}
	user := models.User{
		ID:                 id,
		Name:               name,
		LoginToken:         loginToken,
		Status:             models.UserStatusActive,
		TokenBalance:       grant,
		TokenGranted:       grant,
		QuotaDailyTokens:   body.QuotaDailyTokens,
		QuotaMonthlyTokens: body.QuotaMonthlyTokens,
		QuotaDailyRequests: body.QuotaDailyRequests,
	}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&user).Error; errCreate != nil {
		log.WithError(errCreate).Error("create user failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create user failed"})
		return
	}

	log.Infof("user created: id=%s name=%s", id, name)
	c.JSON(http.StatusCreated, gin.H{
		"user_id":     user.ID,
		"name":        user.Name,
		"login_token": user.LoginToken,
	})
}

// userListEntry is a user row with the login token truncated for the listing
// endpoint. The full token is only returned at creation time.
type userListEntry struct {
	ID                   string     `json:"id"`
	Name                 string     `json:"name"`
	LoginToken           string     `json:"login_token"`
	Status               string     `json:"status"`
	AssignedCredentialID string     `json:"assigned_credential_id"`
	TokenBalance         int64      `json:"token_balance"`
	TokenGranted         int64      `json:"token_granted"`
	QuotaDailyTokens     int64      `json:"quota_daily_tokens"`
	QuotaMonthlyTokens   int64      `json:"quota_monthly_tokens"`
	QuotaDailyRequests   int64      `json:"quota_daily_requests"`
	RequestCount         int64      `json:"request_count"`
	LastUsedAt           *time.Time `json:"last_used_at"`
	CreatedAt            time.Time  `json:"created_at"`
}

// loginTokenPrefixLen is how much of the login token the listing exposes.
const loginTokenPrefixLen = 12

func redactLoginToken(token string) string {
	if len(token) > loginTokenPrefixLen {
		token = token[:loginTokenPrefixLen]
	}
	return token + "..."
}

// List returns all users with their balances and quotas. Login tokens are
// truncated to a recognizable prefix.
func (h *UsersHandler) List(c *gin.Context) {
	var users []models.User
	if errFind := h.db.WithContext(c.Request.Context()).Order("created_at ASC").Find(&users).Error; errFind != nil {
		log.WithError(errFind).Error("list users failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list users failed"})
		return
	}

	entries := make([]userListEntry, 0, len(users))
	for _, user := range users {
		entries = append(entries, userListEntry{
			ID:                   user.ID,
			Name:                 user.Name,
			LoginToken:           redactLoginToken(user.LoginToken),
			Status:               user.Status,
			AssignedCredentialID: user.AssignedCredentialID,
			TokenBalance:         user.TokenBalance,
			TokenGranted:         user.TokenGranted,
			QuotaDailyTokens:     user.QuotaDailyTokens,
			QuotaMonthlyTokens:   user.QuotaMonthlyTokens,
			QuotaDailyRequests:   user.QuotaDailyRequests,
			RequestCount:         user.RequestCount,
			LastUsedAt:           user.LastUsedAt,
			CreatedAt:            user.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"users": entries, "count": len(entries)})
}

// Remove deletes a user and their API keys.
func (h *UsersHandler) Remove(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	errTx := h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if errKeys := tx.Delete(&models.APIKey{}, "user_id = ?", id).Error; errKeys != nil {
			return errKeys
		}
		res := tx.Delete(&models.User{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if errTx != nil {
		if errors.Is(errTx, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		log.WithError(errTx).Error("remove user failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "remove user failed"})
		return
	}
	h.orchestrator.InvalidateAuth()
	c.JSON(http.StatusOK, gin.H{"removed": id})
}

// SetStatus activates or suspends a user.
func (h *UsersHandler) SetStatus(c *gin.Context) {
	var body struct {
		Status string `json:"status"`
	}
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.Status != models.UserStatusActive && body.Status != models.UserStatusSuspended {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be active or suspended"})
		return
	}

	if !h.updateUser(c, map[string]any{"status": body.Status}) {
		return
	}
	h.orchestrator.InvalidateAuth()
	c.JSON(http.StatusOK, gin.H{"user_id": c.Param("id"), "status": body.Status})
}

// AssignCredential pins (or unpins, with an empty id) a user to one pool
// credential.
func (h *UsersHandler) AssignCredential(c *gin.Context) {
	var body struct {
		CredentialID string `json:"credentialId"`
	}
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	if !h.updateUser(c, map[string]any{"assigned_credential_id": strings.TrimSpace(body.CredentialID)}) {
		return
	}
	h.orchestrator.InvalidateAuth()
	c.JSON(http.StatusOK, gin.H{"user_id": c.Param("id"), "credential_id": body.CredentialID})
}

// SetQuota updates any subset of the user's caps. Zero means unlimited.
func (h *UsersHandler) SetQuota(c *gin.Context) {
	var body struct {
		DailyTokens   *int64 `json:"dailyTokens"`
		MonthlyTokens *int64 `json:"monthlyTokens"`
		DailyRequests *int64 `json:"dailyRequests"`
	}
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	updates := make(map[string]any, 3)
	if body.DailyTokens != nil {
		updates["quota_daily_tokens"] = *body.DailyTokens
	}
	if body.MonthlyTokens != nil {
		updates["quota_monthly_tokens"] = *body.MonthlyTokens
	}
	if body.DailyRequests != nil {
		updates["quota_daily_requests"] = *body.DailyRequests
	}
	if len(updates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no quota fields provided"})
		return
	}

	if !h.updateUser(c, updates) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": c.Param("id"), "updated": len(updates)})
}

// Grant adjusts the user's token balance.
func (h *UsersHandler) Grant(c *gin.Context) {
	var body struct {
		Amount int64 `json:"amount"`
	}
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	id := strings.TrimSpace(c.Param("id"))
	balance, granted, errGrant := h.ledger.GrantTokens(c.Request.Context(), id, body.Amount)
	if errGrant != nil {
		if errors.Is(errGrant, quota.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		log.WithError(errGrant).Error("grant tokens failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "grant tokens failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id":       id,
		"token_balance": balance,
		"token_granted": granted,
	})
}

// Reset clears the user's usage history and request counter.
func (h *UsersHandler) Reset(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	ok, errReset := h.ledger.ResetUsage(c.Request.Context(), id)
	if errReset != nil {
		log.WithError(errReset).Error("reset usage failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reset usage failed"})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": id, "reset": true})
}

// Usage returns the full usage report for one user.
func (h *UsersHandler) Usage(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	report, errReport := h.ledger.UserReport(c.Request.Context(), id)
	if errReport != nil {
		log.WithError(errReport).Error("user usage failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "user usage failed"})
		return
	}
	if report == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	c.JSON(http.StatusOK, report)
}

// updateUser applies column updates to the path's user, writing the error
// response itself on failure.
func (h *UsersHandler) updateUser(c *gin.Context, updates map[string]any) bool {
	id := strings.TrimSpace(c.Param("id"))
	res := h.db.WithContext(c.Request.Context()).Model(&models.User{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		log.WithError(res.Error).Error("update user failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update user failed"})
		return false
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return false
	}
	return true
}
