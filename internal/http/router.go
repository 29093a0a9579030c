package http

import (
	"net/http"

	"github.com/apollohq/apollo-gateway/internal/alias"
	"github.com/apollohq/apollo-gateway/internal/config"
	"github.com/apollohq/apollo-gateway/internal/credential"
	adminapi "github.com/apollohq/apollo-gateway/internal/http/api/admin"
	"github.com/apollohq/apollo-gateway/internal/http/api/proxy"
	userapi "github.com/apollohq/apollo-gateway/internal/http/api/user"
	"github.com/apollohq/apollo-gateway/internal/orchestrator"
	"github.com/apollohq/apollo-gateway/internal/quota"
	"github.com/apollohq/apollo-gateway/internal/truncation"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// RouterDeps carries every component the HTTP surface depends on.
type RouterDeps struct {
	DB           *gorm.DB
	Config       *config.Config
	Store        *credential.Store
	Bridge       *credential.Bridge
	Resolver     *alias.Resolver
	Ledger       *quota.Ledger
	Tracker      *truncation.Tracker
	Orchestrator *orchestrator.Orchestrator
}

// NewRouter assembles the gin engine: health, the OpenAI-compatible proxy,
// the admin API, and tenant self-service.
func NewRouter(deps RouterDeps) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	proxyHandler := proxy.NewHandler(deps.Orchestrator, deps.Resolver)
	v1 := engine.Group("/v1", APIKeyAuthMiddleware(deps.Orchestrator))
	{
		v1.POST("/chat/completions", proxyHandler.ChatCompletions)
		v1.GET("/models", proxyHandler.Models)
	}

	adminapi.RegisterAdminRoutes(engine, adminapi.Deps{
		DB:           deps.DB,
		AdminCfg:     deps.Config.Admin,
		Store:        deps.Store,
		Bridge:       deps.Bridge,
		Resolver:     deps.Resolver,
		Ledger:       deps.Ledger,
		Tracker:      deps.Tracker,
		Orchestrator: deps.Orchestrator,
	}, AdminAuthMiddleware(deps.Config.Admin.JWTSecret))

	userHandler := userapi.NewHandler(deps.DB, deps.Ledger, deps.Resolver, deps.Orchestrator)
	userapi.RegisterUserRoutes(engine, userHandler, UserAuthMiddleware(deps.DB))

	return engine
}
