// Package main runs the console HTTP server with WebSocket notifications and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"

	"github.com/aura-saas/console/config"
	"github.com/aura-saas/console/internal/apiclient"
	"github.com/aura-saas/console/internal/audit"
	"github.com/aura-saas/console/internal/auth"
	"github.com/aura-saas/console/internal/bootstrap"
	"github.com/aura-saas/console/internal/console"
	"github.com/aura-saas/console/internal/cookies"
	"github.com/aura-saas/console/internal/gate"
	"github.com/aura-saas/console/internal/invitations"
	"github.com/aura-saas/console/internal/members"
	"github.com/aura-saas/console/internal/metrics"
	"github.com/aura-saas/console/internal/middleware"
	"github.com/aura-saas/console/internal/notify"
	"github.com/aura-saas/console/internal/organizations"
	"github.com/aura-saas/console/internal/persist"
	"github.com/aura-saas/console/internal/profile"
	"github.com/aura-saas/console/internal/web"
	"github.com/aura-saas/console/pkg/database"
	"github.com/aura-saas/console/pkg/queue"
	"github.com/aura-saas/console/pkg/redis"
	"github.com/aura-saas/console/pkg/response"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), database.PoolOptions{
		MaxConns:       int32(cfg.Database.MaxConns),
		ConnectTimeout: 5 * time.Second,
	}, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	}, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	m := metrics.New()

	// Audit: handlers enqueue, cmd/worker stores.
	jobQueue := queue.NewQueue(rdb.Client, logger)
	recorder := audit.NewRecorder(jobQueue, logger)
	activityHandler := audit.NewHandler(audit.NewRepository(pool), console.UserID, logger)

	// Notifications fan out across instances through Redis pub/sub.
	pubsub := notify.NewRedisPubSub(rdb.Client, logger)
	hub := notify.NewHub(notify.NewCenter(0), pubsub, pubsub, logger)
	notifyHandler := notify.NewHandler(hub, console.UserID, logger)

	// Per-browser sessions persisted in Redis.
	boot := bootstrap.New(bootstrap.Options{
		CacheSize: cfg.Cache.OrganizationsSize,
		CacheTTL:  cfg.Cache.OrganizationsTTL,
	}, logger)
	factory := console.NewFactory(console.Config{
		API: apiclient.Config{BaseURL: cfg.API.BaseURL, Timeout: cfg.API.Timeout},
		Cookies: cookies.Options{
			Domain:   cfg.Cookie.Domain,
			Secure:   cfg.Cookie.Secure,
			HTTPOnly: cfg.Cookie.HTTPOnly,
		},
		BootstrapTimeout: cfg.Session.BootstrapTimeout,
	},
		persist.NewRedisStore(rdb.Client, cfg.Session.SessionPrefix),
		persist.NewRedisStore(rdb.Client, cfg.Session.TenantPrefix),
		boot,
		console.Observe(m, recorder, logger),
		logger,
	)

	pages, err := web.NewPages(logger)
	if err != nil {
		logger.Fatal("templates", zap.Error(err))
	}

	authHandler := auth.NewHandler(boot, recorder, logger)
	orgHandler := organizations.NewHandler(organizations.NewRepository(boot), recorder, logger)
	memberHandler := members.NewHandler(hub, recorder, logger)
	invitationHandler := invitations.NewHandler(boot, hub, recorder, logger)
	profileHandler := profile.NewHandler(recorder, logger)

	loginLimiter := middleware.NewRateLimiter(rate.Limit(float64(cfg.RateLimit.LoginPerMinute)/60), cfg.RateLimit.LoginBurst, cfg.RateLimit.IdleTTL)

	gateOpts := pages.GateOptions()
	gateOpts.Wait = cfg.Session.GateWait
	requireAuth := gate.Require(console.Lookup, gateOpts)
	requireManage := gate.RequireManage(console.Lookup, gateOpts)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Metrics(m))
	router.Use(middleware.Logger(logger, "/health", "/metrics"))

	// Health and metrics sit outside the session middleware.
	router.GET("/health", func(c *gin.Context) {
		ctx := c.Request.Context()
		checks := gin.H{"redis": "ok", "postgres": "ok"}
		healthy := true
		if err := rdb.Healthy(ctx, 2*time.Second); err != nil {
			checks["redis"], healthy = err.Error(), false
		}
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := pool.Ping(pingCtx); err != nil {
			checks["postgres"], healthy = err.Error(), false
		}
		if !healthy {
			c.JSON(http.StatusServiceUnavailable, response.Body{Success: false, Data: checks, Error: "degraded"})
			return
		}
		response.OK(c, gin.H{"status": "ok", "checks": checks})
	})
	router.GET("/metrics", gin.WrapH(m.Handler()))

	app := router.Group("", factory.Middleware())
	app.GET("/", func(c *gin.Context) { c.Redirect(http.StatusFound, auth.DefaultNext) })

	// Pages
	app.GET("/login", pages.Login)
	app.GET("/signup", pages.Signup)
	app.GET("/invites/accept", pages.AcceptInvite)
	app.GET("/dashboard", requireAuth, pages.Dashboard)
	app.GET("/profile", requireAuth, pages.Profile)
	app.GET("/members", requireAuth, requireManage, pages.Members)

	// Public JSON
	app.POST("/api/auth/login", loginLimiter.Middleware(), authHandler.Login)
	app.POST("/api/auth/register", loginLimiter.Middleware(), authHandler.Register)
	app.POST("/api/auth/logout", authHandler.Logout)
	app.GET("/api/invitations/:token", invitationHandler.Details)

	// Gated JSON
	api := app.Group("/api", requireAuth)
	{
		api.GET("/session", authHandler.Session)
		api.GET("/profile", profileHandler.Get)
		api.PATCH("/profile", profileHandler.Update)

		api.GET("/organizations", orgHandler.ListMyOrganizations)
		api.POST("/organizations", orgHandler.CreateOrganization)
		api.POST("/organizations/switch", orgHandler.SwitchOrganization)

		api.GET("/members", memberHandler.List)
		api.GET("/invitations", invitationHandler.List)
		api.POST("/invitations/:token/accept", invitationHandler.Accept)

		api.GET("/notifications", notifyHandler.List)
		api.POST("/notifications/read", notifyHandler.MarkAllRead)
		api.POST("/notifications/:id/read", notifyHandler.MarkRead)
		api.GET("/activity", activityHandler.Activity)

		manage := api.Group("", requireManage)
		manage.PATCH("/members/:userId/role", memberHandler.UpdateRole)
		manage.PATCH("/members/:userId/status", memberHandler.UpdateStatus)
		manage.DELETE("/members/:userId", memberHandler.Remove)
		manage.POST("/invitations", invitationHandler.Send)
		manage.DELETE("/invitations/:id", invitationHandler.Revoke)
	}

	// WebSocket notifications
	app.GET("/ws", requireAuth, notify.ServeWs(hub, console.UserID, cfg.Server.Origins(), logger))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()
	if err := hub.Start(bgCtx); err != nil {
		logger.Fatal("notification hub", zap.Error(err))
	}
	go loginLimiter.Cleanup(bgCtx, time.Minute)

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port), zap.String("api", cfg.API.BaseURL))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	bgCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
