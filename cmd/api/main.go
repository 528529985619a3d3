// AngelaMos | 2026
// main.go

package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/carterperez-dev/rentals/backend/internal/admin"
	"github.com/carterperez-dev/rentals/backend/internal/auth"
	"github.com/carterperez-dev/rentals/backend/internal/config"
	"github.com/carterperez-dev/rentals/backend/internal/core"
	"github.com/carterperez-dev/rentals/backend/internal/health"
	"github.com/carterperez-dev/rentals/backend/internal/middleware"
	"github.com/carterperez-dev/rentals/backend/internal/server"
	"github.com/carterperez-dev/rentals/backend/internal/user"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"),
		"path to a YAML config file; defaults and env vars apply without one")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

//nolint:funlen // bootstrap code is inherently verbose
func run(configPath string) error {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Log)
	slog.SetDefault(logger)

	logger.Info("starting application",
		"name", cfg.App.Name,
		"version", cfg.App.Version,
		"environment", cfg.App.Environment,
	)

	shutdownTracing, err := core.SetupTracing(ctx, cfg.Otel, cfg.App)
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
		shutdownTracing = func(context.Context) error { return nil }
	} else if cfg.Otel.Enabled {
		logger.Info("tracing enabled", "endpoint", cfg.Otel.Endpoint)
	}

	db, err := core.NewDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	logger.Info("database connected",
		"max_open_conns", cfg.Database.MaxOpenConns,
		"max_idle_conns", cfg.Database.MaxIdleConns,
	)

	if cfg.Database.AutoMigrate {
		if err := db.Migrate(ctx); err != nil {
			return err
		}
		logger.Info("database migrations applied")
	}

	cache, err := core.NewRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	logger.Info("redis connected",
		"pool_size", cfg.Redis.PoolSize,
	)

	jwtManager, err := auth.NewJWTManager(cfg.JWT)
	if err != nil {
		return err
	}
	logger.Info("JWT manager initialized",
		"algorithm", "ES256",
		"key_id", jwtManager.GetKeyID(),
	)

	authStore := auth.NewStore(db.DB)

	userRepo := user.NewRepository(db.DB)
	userSvc := user.NewService(userRepo, authStore)
	userHandler := user.NewHandler(userSvc)

	authSvc := auth.NewService(
		authStore,
		jwtManager,
		userSvc,
		core.NewTokenBlacklist(cache.Client),
		auth.ServiceConfig{
			ReuseGracePeriod: cfg.JWT.ReuseGracePeriod,
			Logger:           logger,
		},
	)

	refreshCookie := core.NewRefreshCookie(
		cfg.Cookie,
		cfg.JWT.RefreshTokenExpire,
		cfg.IsProduction(),
	)
	authHandler := auth.NewHandler(authSvc, refreshCookie)

	deps := []health.Dependency{
		{Name: "database", Checker: db},
		{Name: "redis", Checker: cache},
	}
	healthHandler := health.NewHandler(deps...)

	adminHandler := admin.NewHandler(admin.HandlerConfig{
		Dependencies: deps,
		DBStats:      db.Stats,
		RedisStats:   cache.PoolStats,
		UserCounts:   userSvc.CountByRole,
		Sessions:     authSvc,
	})

	srv := server.New(server.Config{
		ServerConfig:  cfg.Server,
		HealthHandler: healthHandler,
		Logger:        logger,
	})

	router := srv.Router()

	router.Use(middleware.RequestID)
	router.Use(middleware.Logger(logger))
	router.Use(
		middleware.NewRateLimiter(cache.Client, middleware.RateLimitConfig{
			Limit: middleware.Per(
				cfg.RateLimit.Requests,
				cfg.RateLimit.Burst,
				cfg.RateLimit.Window,
			),
			BypassFunc: isProbe,
		}).Handler,
	)
	router.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	router.Use(middleware.CORS(cfg.CORS))

	healthHandler.RegisterRoutes(router)

	router.Get("/.well-known/jwks.json", jwtManager.GetJWKSHandler())

	authCfg := middleware.AuthConfig{
		Verifier:       jwtManager,
		Refresher:      authSvc,
		Principals:     userSvc,
		Revocations:    authSvc,
		Cookie:         refreshCookie,
		RenewThreshold: cfg.JWT.RenewThreshold,
		Logger:         logger,
	}

	authenticator := withRoleLimits(
		middleware.Authenticator(authCfg),
		cache.Client,
		cfg.RateLimit,
	)
	optionalAuth := middleware.OptionalAuth(authCfg)
	adminOnly := middleware.RequireAdmin

	authLimiter := middleware.NewRateLimiter(cache.Client, middleware.RateLimitConfig{
		Limit: middleware.Per(
			cfg.RateLimit.AuthRequests,
			cfg.RateLimit.AuthBurst,
			cfg.RateLimit.AuthWindow,
		),
		KeyFunc: middleware.KeyByIPAndEndpoint,
	})

	router.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(authLimiter.Handler)
			authHandler.RegisterRoutes(r, authenticator, optionalAuth)
		})

		userHandler.RegisterRoutes(r, authenticator)
		userHandler.RegisterAdminRoutes(r, authenticator, adminOnly)
		adminHandler.RegisterRoutes(r, authenticator, adminOnly)
	})

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		cfg.Server.ShutdownTimeout+cfg.Server.DrainDelay+5*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx, cfg.Server.DrainDelay); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	closers := []struct {
		name  string
		close func() error
	}{
		{"tracing", func() error { return shutdownTracing(shutdownCtx) }},
		{"redis", cache.Close},
		{"database", db.Close},
	}
	for _, c := range closers {
		if err := c.close(); err != nil {
			logger.Error("shutdown error", "component", c.name, "error", err)
		}
	}

	logger.Info("application stopped")
	return nil
}

// withRoleLimits runs the per-role limiter right after authentication, once
// the caller's role is known.
func withRoleLimits(
	authenticator func(http.Handler) http.Handler,
	rdb *redis.Client,
	cfg config.RateLimitConfig,
) func(http.Handler) http.Handler {
	base := middleware.Per(cfg.Requests, cfg.Burst, cfg.Window)
	limiter := middleware.RoleRateLimiter(
		rdb,
		middleware.DefaultRoleLimits(base),
		base,
	)

	return func(next http.Handler) http.Handler {
		return authenticator(limiter(next))
	}
}

// isProbe keeps orchestrator health checks out of the global rate limit.
func isProbe(r *http.Request) bool {
	switch r.URL.Path {
	case "/healthz", "/livez", "/readyz":
		return true
	}
	return false
}

// setupLogger accepts the slog level names; anything unparseable logs at
// info.
func setupLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
