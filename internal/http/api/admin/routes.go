package admin

import (
	"github.com/apollohq/apollo-gateway/internal/alias"
	"github.com/apollohq/apollo-gateway/internal/config"
	"github.com/apollohq/apollo-gateway/internal/credential"
	"github.com/apollohq/apollo-gateway/internal/orchestrator"
	"github.com/apollohq/apollo-gateway/internal/quota"
	"github.com/apollohq/apollo-gateway/internal/truncation"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Deps carries the components the admin API operates on.
type Deps struct {
	DB           *gorm.DB
	AdminCfg     config.AdminConfig
	Store        *credential.Store
	Bridge       *credential.Bridge
	Resolver     *alias.Resolver
	Ledger       *quota.Ledger
	Tracker      *truncation.Tracker
	Orchestrator *orchestrator.Orchestrator
}

// RegisterAdminRoutes mounts the admin API under /admin. Login is open; every
// other route passes through authMiddleware.
func RegisterAdminRoutes(engine *gin.Engine, deps Deps, authMiddleware gin.HandlerFunc) {
	authHandler := NewAuthHandler(deps.DB, deps.AdminCfg)
	credentialsHandler := NewCredentialsHandler(deps.Store, deps.Bridge, deps.Ledger)
	usersHandler := NewUsersHandler(deps.DB, deps.Ledger, deps.Orchestrator)
	aliasesHandler := NewAliasesHandler(deps.Resolver)
	statusHandler := NewStatusHandler(deps.DB, deps.Ledger, deps.Tracker)

	engine.POST("/admin/login", authHandler.Login)

	group := engine.Group("/admin", authMiddleware)
	{
		group.GET("/status", statusHandler.Status)
		group.GET("/usage", statusHandler.Usage)

		group.POST("/credentials", credentialsHandler.Add)
		group.GET("/credentials", credentialsHandler.List)
		group.DELETE("/credentials/:id", credentialsHandler.Remove)
		group.GET("/credentials/:id/usage", credentialsHandler.Usage)
		group.GET("/credentials-usage", credentialsHandler.AllUsage)

		group.POST("/users", usersHandler.Create)
		group.GET("/users", usersHandler.List)
		group.DELETE("/users/:id", usersHandler.Remove)
		group.PUT("/users/:id/status", usersHandler.SetStatus)
		group.PUT("/users/:id/credential", usersHandler.AssignCredential)
		group.PUT("/users/:id/quota", usersHandler.SetQuota)
		group.POST("/users/:id/grant", usersHandler.Grant)
		group.POST("/users/:id/reset", usersHandler.Reset)
		group.GET("/users/:id/usage", usersHandler.Usage)

		group.GET("/aliases", aliasesHandler.List)
		group.POST("/aliases", aliasesHandler.Set)
		group.DELETE("/aliases/:name", aliasesHandler.Remove)
	}
}
