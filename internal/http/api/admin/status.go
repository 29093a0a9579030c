package admin

import (
	"net/http"

	"github.com/apollohq/apollo-gateway/internal/models"
	"github.com/apollohq/apollo-gateway/internal/quota"
	"github.com/apollohq/apollo-gateway/internal/truncation"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// StatusHandler serves the admin status summary and global usage rollups.
type StatusHandler struct {
	db      *gorm.DB
	ledger  *quota.Ledger
	tracker *truncation.Tracker
}

// NewStatusHandler constructs a StatusHandler.
func NewStatusHandler(db *gorm.DB, ledger *quota.Ledger, tracker *truncation.Tracker) *StatusHandler {
	return &StatusHandler{db: db, ledger: ledger, tracker: tracker}
}

// Status returns entity counts and truncation cache statistics.
func (h *StatusHandler) Status(c *gin.Context) {
	ctx := c.Request.Context()

	var credentialCount, activeCredentials, userCount, keyCount int64
	if errCount := h.db.WithContext(ctx).Model(&models.Credential{}).Count(&credentialCount).Error; errCount != nil {
		log.WithError(errCount).Error("status query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "status query failed"})
		return
	}
	h.db.WithContext(ctx).Model(&models.Credential{}).
		Where("status = ?", models.CredentialStatusActive).Count(&activeCredentials)
	h.db.WithContext(ctx).Model(&models.User{}).Count(&userCount)
	h.db.WithContext(ctx).Model(&models.APIKey{}).Count(&keyCount)

	c.JSON(http.StatusOK, gin.H{
		"credentials": gin.H{"total": credentialCount, "active": activeCredentials},
		"users":       userCount,
		"api_keys":    keyCount,
		"truncation":  h.tracker.Stats(),
	})
}

// Usage returns the gateway-wide usage rollup.
func (h *StatusHandler) Usage(c *gin.Context) {
	report, errReport := h.ledger.GlobalReport(c.Request.Context())
	if errReport != nil {
		log.WithError(errReport).Error("global usage failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "global usage failed"})
		return
	}
	c.JSON(http.StatusOK, report)
}
