package admin

import (
	"net/http"
	"strings"

	"github.com/apollohq/apollo-gateway/internal/alias"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// AliasesHandler handles model alias administration.
type AliasesHandler struct {
	resolver *alias.Resolver
}

// NewAliasesHandler constructs an AliasesHandler.
func NewAliasesHandler(resolver *alias.Resolver) *AliasesHandler {
	return &AliasesHandler{resolver: resolver}
}

// List returns every alias mapping.
func (h *AliasesHandler) List(c *gin.Context) {
	mappings, errList := h.resolver.List(c.Request.Context())
	if errList != nil {
		log.WithError(errList).Error("list aliases failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list aliases failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"aliases": mappings, "count": len(mappings)})
}

// Set upserts a custom alias mapping.
func (h *AliasesHandler) Set(c *gin.Context) {
	var body struct {
		Name    string   `json:"name"`
		Targets []string `json:"targets"`
	}
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	if errSet := h.resolver.Set(c.Request.Context(), strings.TrimSpace(body.Name), body.Targets); errSet != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errSet.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": body.Name, "targets": body.Targets})
}

// Remove deletes a custom alias. Built-ins cannot be removed.
func (h *AliasesHandler) Remove(c *gin.Context) {
	name := strings.TrimSpace(c.Param("name"))
	removed, errRemove := h.resolver.Remove(c.Request.Context(), name)
	if errRemove != nil {
		log.WithError(errRemove).Error("remove alias failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "remove alias failed"})
		return
	}
	if !removed {
		c.JSON(http.StatusNotFound, gin.H{"error": "alias not found or builtin"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": name})
}
