// Package user implements tenant self-service endpoints, authenticated by
// login token.
package user

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/apollohq/apollo-gateway/internal/alias"
	"github.com/apollohq/apollo-gateway/internal/models"
	"github.com/apollohq/apollo-gateway/internal/orchestrator"
	"github.com/apollohq/apollo-gateway/internal/quota"
	"github.com/apollohq/apollo-gateway/internal/security"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Handler serves the self-service endpoints.
type Handler struct {
	db           *gorm.DB
	ledger       *quota.Ledger
	resolver     *alias.Resolver
	orchestrator *orchestrator.Orchestrator
}

// NewHandler constructs a self-service Handler.
func NewHandler(db *gorm.DB, ledger *quota.Ledger, resolver *alias.Resolver, o *orchestrator.Orchestrator) *Handler {
	return &Handler{db: db, ledger: ledger, resolver: resolver, orchestrator: o}
}

// RegisterUserRoutes mounts the self-service API under /user behind
// authMiddleware.
func RegisterUserRoutes(engine *gin.Engine, handler *Handler, authMiddleware gin.HandlerFunc) {
	group := engine.Group("/user", authMiddleware)
	{
		group.GET("/me", handler.Me)
		group.GET("/apikeys", handler.ListKeys)
		group.POST("/apikeys", handler.CreateKey)
		group.DELETE("/apikeys/:id", handler.RevokeKey)
		group.GET("/usage", handler.Usage)
		group.GET("/combos", handler.Combos)
	}
}

// currentUser reads the user injected by the login-token middleware.
func currentUser(c *gin.Context) (*models.User, bool) {
	value, ok := c.Get("user")
	if !ok {
		return nil, false
	}
	user, ok := value.(*models.User)
	return user, ok
}

// Me returns the caller's account summary.
func (h *Handler) Me(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing login token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id":       user.ID,
		"name":          user.Name,
		"status":        user.Status,
		"token_balance": user.TokenBalance,
		"token_granted": user.TokenGranted,
		"quota": gin.H{
			"daily_tokens":   user.QuotaDailyTokens,
			"monthly_tokens": user.QuotaMonthlyTokens,
			"daily_requests": user.QuotaDailyRequests,
		},
		"request_count": user.RequestCount,
	})
}

// ListKeys returns the caller's API keys.
func (h *Handler) ListKeys(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing login token"})
		return
	}

	var keys []models.APIKey
	if errFind := h.db.WithContext(c.Request.Context()).
		Where("user_id = ?", user.ID).
		Order("created_at ASC").
		Find(&keys).Error; errFind != nil {
		log.WithError(errFind).Error("list api keys failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list api keys failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"apikeys": keys, "count": len(keys)})
}

// CreateKey mints a new API key for the caller.
func (h *Handler) CreateKey(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing login token"})
		return
	}

	key, errKey := security.GenerateAPIKey()
	if errKey != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "key generation failed"})
		return
	}
	row := models.APIKey{UserID: user.ID, APIKey: key}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&row).Error; errCreate != nil {
		log.WithError(errCreate).Error("create api key failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create api key failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": row.ID, "api_key": row.APIKey})
}

// RevokeKey deletes one of the caller's API keys.
func (h *Handler) RevokeKey(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing login token"})
		return
	}

	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid key id"})
		return
	}

	res := h.db.WithContext(c.Request.Context()).
		Where("id = ? AND user_id = ?", id, user.ID).
		Delete(&models.APIKey{})
	if res.Error != nil {
		log.WithError(res.Error).Error("revoke api key failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "revoke api key failed"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "key not found"})
		return
	}
	h.orchestrator.InvalidateAuth()
	c.JSON(http.StatusOK, gin.H{"revoked": id})
}

// Usage returns the caller's own usage report.
func (h *Handler) Usage(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing login token"})
		return
	}

	report, errReport := h.ledger.UserReport(c.Request.Context(), user.ID)
	if errReport != nil {
		log.WithError(errReport).Error("user usage failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "usage query failed"})
		return
	}
	if report == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	c.JSON(http.StatusOK, report)
}

// Combos returns the alias mappings available to clients.
func (h *Handler) Combos(c *gin.Context) {
	mappings, errList := h.resolver.List(c.Request.Context())
	if errList != nil {
		log.WithError(errList).Error("list combos failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list combos failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"combos": mappings})
}
