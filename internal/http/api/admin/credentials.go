package admin

import (
	"net/http"
	"strings"

	"github.com/apollohq/apollo-gateway/internal/credential"
	"github.com/apollohq/apollo-gateway/internal/quota"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// CredentialsHandler handles pool credential administration.
type CredentialsHandler struct {
	store  *credential.Store
	bridge *credential.Bridge
	ledger *quota.Ledger
}

// NewCredentialsHandler constructs a CredentialsHandler.
func NewCredentialsHandler(store *credential.Store, bridge *credential.Bridge, ledger *quota.Ledger) *CredentialsHandler {
	return &CredentialsHandler{store: store, bridge: bridge, ledger: ledger}
}

// addCredentialRequest defines the request body for adding a credential.
type addCredentialRequest struct {
	RefreshToken string `json:"refreshToken"`
	AccessToken  string `json:"accessToken"`
	ExpiresAt    string `json:"expiresAt"`
	Region       string `json:"region"`
	ClientIDHash string `json:"clientIdHash"`
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
	AuthMethod   string `json:"authMethod"`
	Provider     string `json:"provider"`
	ProfileARN   string `json:"profileArn"`
}

// Add inserts a credential or rotates the one sharing its fingerprint.
func (h *CredentialsHandler) Add(c *gin.Context) {
	var body addCredentialRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(body.RefreshToken) == "" && strings.TrimSpace(body.AccessToken) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "refreshToken or accessToken is required"})
		return
	}

	row, outcome, errAdd := h.store.Add(c.Request.Context(), credential.AddInput{
		RefreshToken: body.RefreshToken,
		AccessToken:  body.AccessToken,
		ExpiresAt:    body.ExpiresAt,
		Region:       body.Region,
		ClientIDHash: body.ClientIDHash,
		ClientID:     body.ClientID,
		ClientSecret: body.ClientSecret,
		AuthMethod:   body.AuthMethod,
		Provider:     body.Provider,
		ProfileARN:   body.ProfileARN,
	})
	if errAdd != nil {
		log.WithError(errAdd).Error("add credential failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "add credential failed"})
		return
	}

	// Rotation invalidates any cached auth session for the record.
	if outcome == credential.OutcomeUpdated {
		h.bridge.Evict(row.ID)
	}

	status := http.StatusCreated
	if outcome == credential.OutcomeUpdated {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{
		"id":      row.ID,
		"status":  row.Status,
		"updated": outcome == credential.OutcomeUpdated,
	})
}

// List returns all credentials with secrets redacted.
func (h *CredentialsHandler) List(c *gin.Context) {
	rows, errList := h.store.List(c.Request.Context())
	if errList != nil {
		log.WithError(errList).Error("list credentials failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list credentials failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"credentials": rows, "count": len(rows)})
}

// Remove deletes a credential and evicts its cached auth session.
func (h *CredentialsHandler) Remove(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	removed, errRemove := h.store.Remove(c.Request.Context(), id)
	if errRemove != nil {
		log.WithError(errRemove).Error("remove credential failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "remove credential failed"})
		return
	}
	if !removed {
		c.JSON(http.StatusNotFound, gin.H{"error": "credential not found"})
		return
	}
	h.bridge.Evict(id)
	c.JSON(http.StatusOK, gin.H{"removed": id})
}

// Usage returns the usage rollup for one credential.
func (h *CredentialsHandler) Usage(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	report, errReport := h.ledger.CredentialReport(c.Request.Context(), id)
	if errReport != nil {
		log.WithError(errReport).Error("credential usage failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "credential usage failed"})
		return
	}
	c.JSON(http.StatusOK, report)
}

// AllUsage returns the usage rollup for every serving credential.
func (h *CredentialsHandler) AllUsage(c *gin.Context) {
	reports, errReport := h.ledger.AllCredentialReports(c.Request.Context())
	if errReport != nil {
		log.WithError(errReport).Error("credential usage rollup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "credential usage rollup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"credentials": reports})
}
