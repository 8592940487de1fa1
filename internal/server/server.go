// Package server contains the HTTP surface of the request registry.
package server

import (
	"context"
	"fmt"
	"time"

	_ "registry/docs" // swagger docs
	"registry/internal/cache"
	"registry/internal/config"
	"registry/internal/database"
	"registry/internal/dispatch"
	"registry/internal/guard"
	"registry/internal/identity"
	"registry/internal/middleware"
	"registry/internal/notifications"
	"registry/internal/repository"
	"registry/internal/service"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/swagger"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	promMiddleware *fiberprometheus.FiberPrometheus
	shutdownCtx    context.Context
	shutdownFn     context.CancelFunc
	userRepo       repository.UserRepository
	notifier       *notifications.Notifier
	guard          guard.Guard
	requestService *service.RequestService
	resolver       *identity.Resolver
	dispatcher     *dispatch.Dispatcher
}

// NewServer creates a new server instance with all dependencies
func NewServer(cfg *config.Config) (*Server, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	// A nil client is fine unless the guard needs Redis.
	cache.InitRedis(cfg.RedisURL)

	return NewServerWithDeps(cfg, db, cache.GetClient())
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// Use this in tests or when a bootstrap layer establishes DB/Redis.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client) (*Server, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	g, err := guard.New(cfg, sqlDB, redisClient)
	if err != nil {
		return nil, fmt.Errorf("guard setup failed: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	server := &Server{
		config:         cfg,
		db:             db,
		redis:          redisClient,
		promMiddleware: middleware.InitMetrics("registry"),
		shutdownCtx:    ctx,
		shutdownFn:     cancel,
		userRepo:       repository.NewUserRepository(db),
		notifier:       notifications.NewNotifier(redisClient),
		guard:          g,
	}

	server.requestService = service.NewRequestService(
		repository.NewCopyRequestRepository(db),
		repository.NewDeletionRequestRepository(db),
		server.guard,
		server.notifier,
		cfg.DefaultCopyGroup,
	)
	server.resolver = identity.NewResolver(server.userRepo, redisClient, cfg.RegistryService, cfg.IdentityCacheTTL)
	server.dispatcher = dispatch.New(server.requestService)

	return server, nil
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.TracingMiddleware())
	app.Use(middleware.ContextMiddleware())

	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	app.Use(helmet.New())
	app.Use(middleware.StructuredLogger())

	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "*"
	}
	// Callers authenticate with certificates, so no credentials are shared cross-origin.
	app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowHeaders: "Origin, Content-Type, Accept",
		AllowMethods: "GET,POST,OPTIONS",
		MaxAge:       86400,
	}))

	app.Use(limiter.New(limiter.Config{
		Max:        600,
		Expiration: 1 * time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(envelope{
				Result:  dispatch.ResultBadRequest,
				Message: "Too many requests, please try again later.",
			})
		},
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)

	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	app.Get("/swagger/*", swagger.HandlerDefault)

	// Identity is resolved per route so the command is known when the session opens.
	registry := app.Group("/registry")
	registry.Get("/request/:command", s.IdentityRequired(), s.limitMutations(), s.HandleCommand)
	registry.Post("/request/:command", s.IdentityRequired(), s.limitMutations(), s.HandleCommand)
	registry.Get("/requests/:family", s.IdentityRequired(), s.ListRequests)
}

// limitMutations rate-limits submissions and cancellations per caller. Polls pass through.
func (s *Server) limitMutations() fiber.Handler {
	limit := middleware.RateLimit(s.redis, 60, time.Minute, middleware.FailOpen)
	return func(c *fiber.Ctx) error {
		if dispatch.IsPoll(c.Params("command")) {
			return c.Next()
		}
		return limit(c)
	}
}

// LivenessCheck handles liveness checks
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck handles readiness checks. Redis is only required
// when the guard depends on it.
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	sqlDB, err := s.db.DB()
	if err != nil {
		dbStatus = "unhealthy"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "unhealthy"
	}

	redisStatus := "healthy"
	if s.redis != nil {
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	} else {
		redisStatus = "unavailable"
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	redisRequired := s.config.GuardBackend == config.GuardBackendRedis
	if dbStatus == "unhealthy" || redisStatus == "unhealthy" || (redisRequired && redisStatus != "healthy") {
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overallStatus,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
			"guard":    s.guard.Backend(),
		},
		"time": time.Now(),
	})
}

// WatchEvents logs lifecycle events published by any replica until Shutdown.
// Without Redis it does nothing.
func (s *Server) WatchEvents() error {
	return s.notifier.StartRequestSubscriber(s.shutdownCtx, func(channel string, ev notifications.RequestEvent) {
		middleware.Logger.Debug("request event",
			"channel", channel,
			"family", string(ev.Family),
			"request_id", ev.RequestID,
			"event", ev.Event,
			"status", string(ev.Status),
		)
	})
}

// Shutdown releases the server's resources. The caller shuts the Fiber app down first.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.shutdownFn != nil {
		s.shutdownFn()
	}

	if sqlDB, err := s.db.DB(); err == nil {
		if cerr := sqlDB.Close(); cerr != nil {
			middleware.Logger.ErrorContext(ctx, "error closing sql DB", "error", cerr)
		}
	}

	if s.redis != nil {
		if rerr := s.redis.Close(); rerr != nil {
			middleware.Logger.ErrorContext(ctx, "error closing redis", "error", rerr)
		}
	}

	middleware.Logger.InfoContext(ctx, "Server shutdown complete")
	return nil
}
