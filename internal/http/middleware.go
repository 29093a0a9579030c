// Package http provides the gin middleware and router assembly for the
// gateway's three surfaces: the OpenAI-compatible proxy, the admin API, and
// tenant self-service.
package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/apollohq/apollo-gateway/internal/models"
	"github.com/apollohq/apollo-gateway/internal/orchestrator"
	"github.com/apollohq/apollo-gateway/internal/security"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Context keys set by the auth middlewares.
const (
	// ContextUserKey holds the authenticated *models.User.
	ContextUserKey = "user"
	// ContextAdminKey holds the authenticated admin username.
	ContextAdminKey = "adminUsername"
)

// bearerToken extracts a Bearer credential, falling back to the x-api-key
// header some OpenAI clients send.
func bearerToken(c *gin.Context) string {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return strings.TrimSpace(c.GetHeader("x-api-key"))
}

// APIKeyAuthMiddleware authenticates proxy requests by tenant API key.
func APIKeyAuthMiddleware(o *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := bearerToken(c)
		if key == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing API key"})
			return
		}

		user, errAuth := o.Authenticate(c.Request.Context(), key)
		switch {
		case errAuth == nil:
			c.Set(ContextUserKey, user)
			c.Next()
		case errors.Is(errAuth, orchestrator.ErrInvalidAPIKey):
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
		case errors.Is(errAuth, orchestrator.ErrUserSuspended):
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Account suspended"})
		default:
			log.WithError(errAuth).Error("api key auth middleware error")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Authentication service error"})
		}
	}
}

// UserAuthMiddleware authenticates self-service requests by login token.
func UserAuthMiddleware(conn *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing login token"})
			return
		}

		var user models.User
		errFind := conn.WithContext(c.Request.Context()).First(&user, "login_token = ?", token).Error
		if errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid login token"})
				return
			}
			log.WithError(errFind).Error("user auth middleware error")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Authentication service error"})
			return
		}
		if !user.IsActive() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Account suspended"})
			return
		}

		c.Set(ContextUserKey, &user)
		c.Next()
	}
}

// AdminAuthMiddleware authenticates admin requests by session JWT.
func AdminAuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing token"})
			return
		}

		claims, errParse := security.ParseAdminToken(jwtSecret, token)
		if errParse != nil {
			status := http.StatusUnauthorized
			message := "Invalid token"
			if errors.Is(errParse, security.ErrExpiredToken) {
				message = "Token expired"
			}
			c.AbortWithStatusJSON(status, gin.H{"error": message})
			return
		}

		c.Set(ContextAdminKey, claims.Username)
		c.Next()
	}
}

// CurrentUser returns the authenticated user set by the auth middlewares.
func CurrentUser(c *gin.Context) (*models.User, bool) {
	value, ok := c.Get(ContextUserKey)
	if !ok {
		return nil, false
	}
	user, ok := value.(*models.User)
	return user, ok
}
