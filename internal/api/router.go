// Package api wires together all HTTP routes for the app platform backend.
//
// Route grouping philosophy:
//   - Developer console routes (/api/v1/apps, /api/v1/auth) authenticate with
//     the platform JWT issued at login.
//   - App integration routes (/api/v1/subchats, /api/v1/tokens, /api/v1/track)
//     authenticate with the app secret; sub-chat lookup also accepts the
//     end-user's scoped token, and revocation accepts either credential class.
//   - Credential-minting routes carry a stricter rate limit bucket than the
//     rest of the API.
package api

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/appchat-platform/appchat-platform/internal/analytics"
	"github.com/appchat-platform/appchat-platform/internal/apps"
	"github.com/appchat-platform/appchat-platform/internal/audit"
	"github.com/appchat-platform/appchat-platform/internal/authz"
	"github.com/appchat-platform/appchat-platform/internal/config"
	"github.com/appchat-platform/appchat-platform/internal/crypto"
	"github.com/appchat-platform/appchat-platform/internal/db/repositories"
	"github.com/appchat-platform/appchat-platform/internal/middleware"
	"github.com/appchat-platform/appchat-platform/internal/provisioner"
	"github.com/appchat-platform/appchat-platform/internal/safego"
)

// BackgroundServices holds references to background goroutines and resources
// that must be stopped during graceful shutdown. The caller (cmd/server) is
// responsible for calling Shutdown() when the process receives a termination
// signal.
type BackgroundServices struct {
	rateLimiters  []*middleware.RateLimiter
	recorder      *audit.Recorder
	archiveCancel context.CancelFunc
}

// Shutdown stops all background goroutines. It should be called after the
// HTTP server has been shut down so that in-flight requests are drained first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.archiveCancel != nil {
		bg.archiveCancel()
	}
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	if err := bg.recorder.Close(); err != nil {
		slog.Error("failed to close audit recorder", "error", err)
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, db *sql.DB) (*gin.Engine, *BackgroundServices) {
	router := gin.New()

	// Initialize repositories
	developerRepo := repositories.NewDeveloperRepository(db)
	appRepo := repositories.NewAppRepository(db)
	chatRepo := repositories.NewChatRepository(db)
	uacRepo := repositories.NewUserAppChatRepository(db)
	auditRepo := repositories.NewAuditRepository(db)
	legacyRepo := repositories.NewLegacyLinkRepository(db)

	// Wrap *sql.DB with sqlx for the stats handler
	sqlxDB := sqlx.NewDb(db, "postgres")

	// Master key for sealing app signing secrets
	encryptionKey := config.GetEncryptionKey()
	if encryptionKey == "" {
		log.Fatal("ENCRYPTION_KEY environment variable must be set for signing secret storage")
	}
	cipher, err := crypto.NewSecretCipher([]byte(encryptionKey))
	if err != nil {
		log.Fatalf("Failed to initialize secret cipher: %v", err)
	}

	// Audit pipeline: store write plus optional shipping and archiving
	shipper, err := audit.NewMultiShipper(cfg.Audit.Shippers)
	if err != nil {
		log.Fatalf("Failed to initialize audit shippers: %v", err)
	}
	recorder := audit.NewRecorder(auditRepo, shipper, cfg.Audit.Enabled)

	archiveCtx, archiveCancel := context.WithCancel(context.Background())
	if cfg.Audit.Archive.Enabled {
		store, err := audit.NewS3Store(archiveCtx, cfg.Audit.Archive)
		if err != nil {
			log.Fatalf("Failed to initialize audit archive store: %v", err)
		}
		archiver := audit.NewArchiver(auditRepo, store, cfg.Audit.Archive)
		safego.Go(func() { archiver.Run(archiveCtx) })
		log.Println("Audit archiver started")
	}

	// Domain services
	validator := authz.NewValidator(appRepo, uacRepo, cipher)
	appService := apps.NewService(appRepo, chatRepo, cipher, recorder)
	analyticsService := analytics.NewService(chatRepo, appRepo, uacRepo, legacyRepo, recorder)
	prov := provisioner.New(chatRepo, uacRepo, analyticsService, recorder)

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware(cfg))
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))

	// Health check endpoint
	router.GET("/health", healthCheckHandler(db))

	// Readiness check endpoint
	router.GET("/ready", readinessHandler(db))

	// API version
	router.GET("/version", versionHandler())

	// Initialize handlers
	authHandlers, err := NewAuthHandlers(cfg, developerRepo)
	if err != nil {
		log.Fatalf("Failed to initialize auth handlers: %v", err)
	}
	appHandlers := NewAppHandlers(appService)
	subchatHandlers := NewSubchatHandlers(prov, appRepo)
	tokenHandlers := NewTokenHandlers(validator, appService, recorder, cfg.Auth.Tokens.TTL)
	analyticsHandlers := NewAnalyticsHandlers(analyticsService, chatRepo)
	auditHandlers := NewAuditHandlers(auditRepo, appService)
	statsHandler := NewStatsHandler(sqlxDB, appService)

	// Initialize rate limiters
	generalRateLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimitConfig())
	credentialRateLimiter := middleware.NewRateLimiter(middleware.CredentialRateLimitConfig())

	apiV1 := router.Group("/api/v1")
	{
		// Public authentication endpoints (no auth required, but rate limited)
		authGroup := apiV1.Group("/auth")
		authGroup.Use(middleware.RateLimitMiddleware(credentialRateLimiter))
		{
			authGroup.GET("/login", authHandlers.LoginHandler())
			authGroup.GET("/callback", authHandlers.CallbackHandler())
			authGroup.GET("/logout", authHandlers.LogoutHandler())
		}

		// Developer console endpoints (platform JWT)
		developerGroup := apiV1.Group("")
		developerGroup.Use(middleware.RequireDeveloper(developerRepo))
		developerGroup.Use(middleware.RateLimitMiddleware(generalRateLimiter))
		developerGroup.Use(middleware.AccessAuditMiddleware(recorder, &cfg.Audit))
		{
			developerGroup.POST("/auth/refresh", authHandlers.RefreshHandler())
			developerGroup.GET("/auth/me", authHandlers.MeHandler())

			developerGroup.POST("/apps", appHandlers.CreateHandler())
			developerGroup.GET("/apps", appHandlers.ListHandler())
			developerGroup.GET("/apps/:id", appHandlers.GetHandler())
			developerGroup.DELETE("/apps/:id", appHandlers.DeactivateHandler())
			developerGroup.POST("/apps/:id/rotate-secret", appHandlers.RotateSecretHandler())
			developerGroup.POST("/apps/:id/rotate-jwt-secret", appHandlers.RotateJWTSecretHandler())
			developerGroup.PUT("/apps/:id/capabilities", appHandlers.UpdateCapabilitiesHandler())

			developerGroup.GET("/apps/:id/audit", auditHandlers.ListHandler())
			developerGroup.GET("/apps/:id/stats", statsHandler.GetHandler())

			developerGroup.POST("/chats/:id/recalculate", analyticsHandlers.RecalculateHandler())
			developerGroup.POST("/chats/:id/migrate-metadata", analyticsHandlers.MigrateMetadataHandler())
		}

		// App integration endpoints (app secret)
		appGroup := apiV1.Group("")
		appGroup.Use(middleware.RequireAppSecret(validator))
		appGroup.Use(middleware.RateLimitMiddleware(generalRateLimiter))
		appGroup.Use(middleware.AccessAuditMiddleware(recorder, &cfg.Audit))
		{
			appGroup.POST("/subchats",
				middleware.RateLimitMiddleware(credentialRateLimiter),
				subchatHandlers.ProvisionHandler())
			appGroup.POST("/tokens",
				middleware.RateLimitMiddleware(credentialRateLimiter),
				tokenHandlers.IssueHandler())
			appGroup.POST("/access-log", tokenHandlers.CheckHandler())
			appGroup.POST("/track/upload", analyticsHandlers.TrackUploadHandler())
			appGroup.POST("/track/query", analyticsHandlers.TrackQueryHandler())
		}

		// Sub-chat lookup accepts the app secret or the end-user's own token
		lookupGroup := apiV1.Group("")
		lookupGroup.Use(middleware.RequireAppOrScopedToken(validator))
		lookupGroup.Use(middleware.RateLimitMiddleware(generalRateLimiter))
		lookupGroup.Use(middleware.AccessAuditMiddleware(recorder, &cfg.Audit))
		{
			lookupGroup.GET("/subchats/:endUserId", subchatHandlers.GetHandler())
		}

		// Revocation accepts the developer JWT or the end-user's own token
		revokeGroup := apiV1.Group("")
		revokeGroup.Use(middleware.RequireDeveloperOrScopedToken(developerRepo, validator))
		revokeGroup.Use(middleware.RateLimitMiddleware(generalRateLimiter))
		revokeGroup.Use(middleware.AccessAuditMiddleware(recorder, &cfg.Audit))
		{
			revokeGroup.DELETE("/subchats/:endUserId", subchatHandlers.RevokeHandler())
		}
	}

	bg := &BackgroundServices{
		rateLimiters:  []*middleware.RateLimiter{generalRateLimiter, credentialRateLimiter},
		recorder:      recorder,
		archiveCancel: archiveCancel,
	}

	return router, bg
}

// healthCheckHandler returns the health status of the service
func healthCheckHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// readinessHandler returns the readiness status of the service. The database
// is the only hard dependency; audit shipping and archiving degrade to logs.
func readinessHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		if err := db.PingContext(c.Request.Context()); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// versionHandler returns the API version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     "0.1.0",
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware provides structured request logging
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)

		requestID, _ := c.Get(middleware.RequestIDKey)
		slog.LogAttrs(
			c.Request.Context(),
			slog.LevelInfo,
			"http request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", latency),
			slog.String("ip", c.ClientIP()),
			slog.String("request_id", fmt.Sprintf("%v", requestID)),
			slog.String("user_agent", c.Request.UserAgent()),
		)
	}
}

// CORSMiddleware handles CORS for the developer console
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		allowed := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
			}
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
