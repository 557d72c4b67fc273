// Package api wires together all HTTP routes for the DecisionRecords auth core.
//
// Route grouping philosophy:
//   - Sign-in and ceremony routes (/v1/auth/...) are public but sit behind a
//     strict rate limiter: every request may cost a bcrypt comparison or an
//     upstream identity-provider round trip.
//   - Everything else under /v1/ requires authentication. Authorization gates
//     (role, action, feature) are applied per route group; ownership checks
//     that need the target row live in the handlers.
//
// The audit middleware runs inside the authenticated group so entries carry
// the resolved user and tenant ids.
package api

import (
	"context"
	"database/sql"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/DecisionRecordsORG/decision-records/internal/api/adminapi"
	"github.com/DecisionRecordsORG/decision-records/internal/api/authapi"
	"github.com/DecisionRecordsORG/decision-records/internal/auth"
	"github.com/DecisionRecordsORG/decision-records/internal/auth/bearer"
	"github.com/DecisionRecordsORG/decision-records/internal/auth/passkey"
	"github.com/DecisionRecordsORG/decision-records/internal/auth/sso"
	"github.com/DecisionRecordsORG/decision-records/internal/config"
	"github.com/DecisionRecordsORG/decision-records/internal/db/models"
	"github.com/DecisionRecordsORG/decision-records/internal/db/repositories"
	"github.com/DecisionRecordsORG/decision-records/internal/jobs"
	"github.com/DecisionRecordsORG/decision-records/internal/middleware"
	"github.com/DecisionRecordsORG/decision-records/internal/policy"
	"github.com/DecisionRecordsORG/decision-records/internal/safego"
	"github.com/DecisionRecordsORG/decision-records/internal/session"
)

// BackgroundServices holds references to background goroutines and resources
// that must be stopped during graceful shutdown. The caller (cmd/server) is
// responsible for calling Shutdown() when the process receives a termination
// signal.
type BackgroundServices struct {
	cleanupJob   *jobs.APIKeyCleanupJob
	rateLimiters []*middleware.RateLimiter
}

// Shutdown stops all background goroutines. It should be called after the
// HTTP server has been shut down so that in-flight requests are drained first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.cleanupJob != nil {
		bg.cleanupJob.Stop()
	}
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router. redisClient may be nil, in
// which case sessions fall back to the in-memory store and do not survive a
// restart.
func NewRouter(cfg *config.Config, db *sql.DB, redisClient *redis.Client) (*gin.Engine, *BackgroundServices) {
	router := gin.New()

	// Repositories. The tenant repository uses sqlx for its named-parameter
	// settings update; the rest run on database/sql directly.
	userRepo := repositories.NewUserRepository(db)
	apiKeyRepo := repositories.NewAPIKeyRepository(db)
	masterRepo := repositories.NewMasterAccountRepository(db)
	membershipRepo := repositories.NewMembershipRepository(db)
	credentialRepo := repositories.NewCredentialRepository(db)
	auditRepo := repositories.NewAuditRepository(db)
	sqlxDB := sqlx.NewDb(db, "postgres")
	tenantRepo := repositories.NewTenantRepository(sqlxDB)

	// Session store and cookie manager.
	var store session.Store
	if redisClient != nil {
		store = session.NewRedisStore(redisClient)
	} else {
		store = session.NewMemoryStore()
		slog.Warn("redis not configured; sessions are in-memory and lost on restart")
	}
	sessions := session.NewManager(store, cfg.Auth.MasterSecret, cfg.Auth.SessionTTL,
		cfg.Security.TLS.Enabled)

	// Credential services.
	apiKeys := auth.NewAPIKeyService(apiKeyRepo)
	passkeys := passkey.NewEngine(userRepo, credentialRepo, "DecisionRecords")

	bridge, err := sso.NewBridge(userRepo, tenantRepo, membershipRepo,
		cfg.Auth, cfg.Tenancy, cfg.Auth.MasterSecret)
	if err != nil {
		log.Fatalf("Failed to initialize identity bridge: %v", err)
	}

	var installer *sso.Installer
	var linker *sso.Linker
	if cfg.Auth.Slack.Enabled {
		installer, err = sso.NewInstaller(tenantRepo, cfg.Auth.Slack, cfg.Auth.MasterSecret)
		if err != nil {
			log.Fatalf("Failed to initialize Slack installer: %v", err)
		}
		linker, err = sso.NewLinker(userRepo, cfg.Auth.MasterSecret)
		if err != nil {
			log.Fatalf("Failed to initialize Slack account linker: %v", err)
		}
	}

	// Principal resolution and policy.
	var resolver *policy.Resolver
	if cfg.Auth.BotFramework.Enabled {
		resolver = policy.NewResolver(masterRepo, userRepo, tenantRepo, membershipRepo,
			apiKeys, bearer.NewBotFrameworkValidator(cfg.Auth.BotFramework, nil))
	} else {
		resolver = policy.NewResolver(masterRepo, userRepo, tenantRepo, membershipRepo,
			apiKeys, nil)
	}
	engine := policy.NewEngine(cfg.Features)
	maturity := policy.NewMaturityService(tenantRepo, membershipRepo, auditRepo, cfg.Tenancy)

	authHandlers := authapi.NewHandlers(cfg, sessions, bridge, installer, linker,
		passkeys, userRepo, tenantRepo, masterRepo, auditRepo)
	adminHandlers := adminapi.NewHandlers(apiKeys, apiKeyRepo, tenantRepo,
		membershipRepo, userRepo, auditRepo, maturity)

	// Background cleanup of long-expired API keys.
	cleanupJob := jobs.NewAPIKeyCleanupJob(apiKeys, 0, 0)
	safego.Go(func() { cleanupJob.Start(context.Background()) })
	slog.Info("API key cleanup job started")

	// Global middleware.
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Metrics())
	router.Use(LoggerMiddleware(cfg))
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SecurityHeaders(middleware.APISecurityHeadersConfig()))
	if cfg.Auth.Access.EnforceOriginProxy || cfg.Auth.Access.EnforceAccessJWT {
		router.Use(middleware.AccessEnforcement(bearer.NewAccessValidator(cfg.Auth.Access, nil)))
	}

	// Probes and version.
	router.GET("/health", healthHandler(db))
	router.GET("/ready", readinessHandler(db, redisClient))
	router.GET("/version", versionHandler())

	authLimiter := middleware.NewRateLimiter(middleware.AuthRateLimitConfig())
	limiters := []*middleware.RateLimiter{authLimiter}

	// Sign-in surface: OAuth redirects, passkey ceremonies, master password
	// login. Public by nature but aggressively rate limited. Logout lives here
	// too; it reads the session cookie itself and must work for half-expired
	// sessions the authenticator would reject.
	signIn := router.Group("/v1/auth")
	signIn.Use(middleware.RateLimit(authLimiter))
	{
		signIn.GET("/google/login", authHandlers.GoogleLogin)
		signIn.GET("/google/callback", authHandlers.GoogleCallback)
		signIn.GET("/slack/login", authHandlers.SlackLogin)
		signIn.GET("/slack/callback", authHandlers.SlackCallback)
		signIn.GET("/sso/login", authHandlers.SSOLogin)
		signIn.GET("/sso/callback", authHandlers.SSOCallback)
		signIn.GET("/slack/install/callback", authHandlers.SlackInstallCallback)

		signIn.POST("/passkey/register/begin", authHandlers.PasskeyRegisterBegin)
		signIn.POST("/passkey/register/finish", authHandlers.PasskeyRegisterFinish)
		signIn.POST("/passkey/login/begin", authHandlers.PasskeyLoginBegin)
		signIn.POST("/passkey/login/finish", authHandlers.PasskeyLoginFinish)

		signIn.POST("/master/login", authHandlers.MasterLogin)
		signIn.POST("/logout", authHandlers.Logout)
	}

	// Everything below requires a resolved principal.
	authed := router.Group("/v1")
	authed.Use(middleware.Authenticate(sessions, resolver))
	if cfg.Security.RateLimiting.Enabled {
		generalLimiter := middleware.NewRateLimiter(
			middleware.RateLimitFromConfig(cfg.Security.RateLimiting))
		limiters = append(limiters, generalLimiter)
		authed.Use(middleware.RateLimit(generalLimiter))
	}
	authed.Use(middleware.Audit(auditRepo, cfg.Audit))
	{
		authed.GET("/auth/me", authHandlers.Me)
		authed.GET("/auth/passkey/credentials", authHandlers.PasskeyCredentialList)
		authed.DELETE("/auth/passkey/credentials/:id", authHandlers.PasskeyCredentialDelete)
		authed.POST("/auth/slack/link", authHandlers.SlackLink)
		authed.POST("/auth/slack/link/token",
			middleware.RequireScope(engine, models.ScopeWrite),
			authHandlers.SlackLinkToken)
		authed.GET("/auth/slack/install",
			middleware.RequireAction(engine, policy.ActionChangeTenantSetting),
			authHandlers.SlackInstall)
		authed.GET("/auth/slack/install/status",
			middleware.RequireAction(engine, policy.ActionChangeTenantSetting),
			authHandlers.SlackInstallStatus)

		authed.GET("/me/features", adminHandlers.GetMyFeatures)
		authed.PUT("/me/features", adminHandlers.UpdateMyFeatures)

		admin := authed.Group("/admin")
		{
			// Any member may hold keys; handlers enforce ownership on revoke.
			keys := admin.Group("/keys",
				middleware.RequireAction(engine, policy.ActionManageAPIKeys))
			keys.POST("", adminHandlers.CreateAPIKey)
			keys.GET("", adminHandlers.ListAPIKeys)
			keys.DELETE("/:id", adminHandlers.RevokeAPIKey)

			admin.GET("/tenant", requireStewardOrMaster(), adminHandlers.GetTenantSettings)
			admin.PUT("/tenant",
				middleware.RequireAction(engine, policy.ActionChangeTenantSetting),
				adminHandlers.UpdateTenantSettings)

			members := admin.Group("/members",
				middleware.RequireAction(engine, policy.ActionManageMembers))
			members.GET("", adminHandlers.ListMembers)
			members.PUT("/:id/role", adminHandlers.UpdateMemberRole)
			members.DELETE("/:id", adminHandlers.RemoveMember)

			admin.GET("/audit", requireStewardOrMaster(), adminHandlers.ListAuditLog)
		}
	}

	return router, &BackgroundServices{
		cleanupJob:   cleanupJob,
		rateLimiters: limiters,
	}
}

// requireStewardOrMaster admits tenant stewards and admins plus the master
// account. middleware.RequireRole alone would lock masters out of read-only
// oversight endpoints.
func requireStewardOrMaster() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := middleware.CurrentPrincipal(c)
		if p == nil || (!p.IsMaster() && !p.Role().AtLeast(models.RoleSteward)) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Insufficient permissions",
			})
			return
		}
		c.Next()
	}
}

// healthHandler is the liveness probe: process up, database reachable.
func healthHandler(db *sql.DB) gin.HandlerFunc {
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

// readinessHandler returns whether the service is ready to accept traffic.
// Unlike the liveness probe it also checks the session store, so a readiness
// gate fails when sign-ins would error.
func readinessHandler(db *sql.DB, redisClient *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		if err := db.Ping(); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		if redisClient != nil {
			if err := redisClient.Ping(c.Request.Context()).Err(); err != nil {
				checks["sessions"] = "unhealthy"
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"ready":  false,
					"checks": checks,
					"error":  "session store not ready",
				})
				return
			}
			checks["sessions"] = "healthy"
		}

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// versionHandler returns the API version.
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     "0.1.0",
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware provides structured request logging.
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
			slog.Any("request_id", requestID),
			slog.String("user_agent", c.Request.UserAgent()),
		)
	}
}

// CORSMiddleware handles CORS for the configured allowed origins.
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
