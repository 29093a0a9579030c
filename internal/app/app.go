// Package app wires the gateway's components together and runs the server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/apollohq/apollo-gateway/internal/alias"
	"github.com/apollohq/apollo-gateway/internal/config"
	"github.com/apollohq/apollo-gateway/internal/credential"
	"github.com/apollohq/apollo-gateway/internal/db"
	relayhttp "github.com/apollohq/apollo-gateway/internal/http"
	"github.com/apollohq/apollo-gateway/internal/logging"
	"github.com/apollohq/apollo-gateway/internal/models"
	"github.com/apollohq/apollo-gateway/internal/orchestrator"
	"github.com/apollohq/apollo-gateway/internal/quota"
	"github.com/apollohq/apollo-gateway/internal/security"
	"github.com/apollohq/apollo-gateway/internal/truncation"
	"github.com/apollohq/apollo-gateway/internal/upstream"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// shutdownTimeout bounds graceful drain on exit.
const shutdownTimeout = 15 * time.Second

// Options carries command-line overrides layered on top of the config file.
type Options struct {
	ConfigPath string
	Host       string
	Port       int
}

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, opts Options) error {
	cfg, errLoad := config.Load(opts.ConfigPath)
	if errLoad != nil {
		return errLoad
	}
	conn, errOpen := db.Open(cfg.Database.DSN)
	if errOpen != nil {
		return errOpen
	}
	return db.Migrate(conn)
}

// RunServer boots the gateway: config, logging, storage, component wiring,
// seed data, and the HTTP listener. It blocks until ctx is canceled or the
// listener fails.
func RunServer(ctx context.Context, opts Options) error {
	cfg, errLoad := config.Load(opts.ConfigPath)
	if errLoad != nil {
		return errLoad
	}
	if strings.TrimSpace(opts.Host) != "" {
		cfg.Server.Host = opts.Host
	}
	if opts.Port > 0 {
		cfg.Server.Port = opts.Port
	}

	logging.Setup(cfg.Log.Level, cfg.Log.File)

	conn, errOpen := db.Open(cfg.Database.DSN)
	if errOpen != nil {
		return errOpen
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}

	resolver := alias.NewResolver(conn)
	if errSeed := resolver.SeedBuiltins(ctx); errSeed != nil {
		return errSeed
	}
	if errAdmin := seedAdmin(ctx, conn, cfg.Admin); errAdmin != nil {
		return errAdmin
	}

	store := credential.NewStore(conn)
	bridge := credential.NewBridge(upstream.NewBearerSessionFactory())
	ledger := quota.NewLedger(conn)
	tracker := truncation.NewTracker()
	client := upstream.NewHTTPClient(cfg.Upstream.BaseURL,
		time.Duration(cfg.Upstream.RequestTimeoutSeconds)*time.Second)
	o := orchestrator.New(conn, store, bridge, resolver, ledger, tracker, client)

	quota.NewRetentionCleaner(conn, cfg.Usage.RetentionDays).Start(ctx)

	gin.SetMode(gin.ReleaseMode)
	engine := relayhttp.NewRouter(relayhttp.RouterDeps{
		DB:           conn,
		Config:       cfg,
		Store:        store,
		Bridge:       bridge,
		Resolver:     resolver,
		Ledger:       ledger,
		Tracker:      tracker,
		Orchestrator: o,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{Addr: addr, Handler: engine}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("gateway listening on %s", addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case errServe := <-errCh:
		if errors.Is(errServe, http.ErrServerClosed) {
			return nil
		}
		return errServe
	}
}

// seedAdmin creates the bootstrap admin account when a password is configured
// and the username does not exist yet. An existing account is left untouched.
func seedAdmin(ctx context.Context, conn *gorm.DB, cfg config.AdminConfig) error {
	password := strings.TrimSpace(cfg.Password)
	if password == "" {
		log.Warn("no admin password configured; admin API disabled until one is set")
		return nil
	}

	var existing models.Admin
	errFind := conn.WithContext(ctx).Where("username = ?", cfg.Username).First(&existing).Error
	switch {
	case errFind == nil:
		return nil
	case errors.Is(errFind, gorm.ErrRecordNotFound):
		// fall through to create
	default:
		return fmt.Errorf("app: lookup admin: %w", errFind)
	}

	hash, errHash := security.HashPassword(password)
	if errHash != nil {
		return fmt.Errorf("app: hash admin password: %w", errHash)
	}
	admin := models.Admin{Username: cfg.Username, Password: hash, Active: true}
	if errCreate := conn.WithContext(ctx).Create(&admin).Error; errCreate != nil {
		return fmt.Errorf("app: seed admin: %w", errCreate)
	}
	log.Infof("admin account %s created", cfg.Username)
	return nil
}
