// Package server contains the HTTP handlers for the claim lifecycle API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"waster/internal/cache"
	"waster/internal/config"
	"waster/internal/database"
	"waster/internal/middleware"
	"waster/internal/models"
	"waster/internal/notifications"
	"waster/internal/repository"
	"waster/internal/service"
	"waster/internal/weight"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	dispatcher     *notifications.Dispatcher
	kafka          *notifications.KafkaSink

	claimService *service.ClaimService
	postService  *service.PostService
	statsService *service.StatsService
	queryService *service.QueryService
	userService  *service.UserService
}

// NewServer creates a new server instance with all dependencies
func NewServer(cfg *config.Config) (*Server, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	redisClient := cache.InitRedis(cfg.RedisURL)

	var sinks []notifications.Sink
	if redisClient != nil {
		sinks = append(sinks, notifications.NewNotifier(redisClient))
	}
	var kafkaSink *notifications.KafkaSink
	if brokers := cfg.KafkaBrokerList(); len(brokers) > 0 {
		kafkaSink, err = notifications.DialKafkaSink(brokers, cfg.KafkaClaimTopic)
		if err != nil {
			middleware.Logger.Warn("Kafka unavailable, claim events go to Redis only",
				slog.String("error", err.Error()))
		} else {
			sinks = append(sinks, kafkaSink)
		}
	}
	dispatcher := notifications.NewDispatcher(cfg.EventQueueSize, sinks...)
	dispatcher.Start()

	server, err := NewServerWithDeps(cfg, db, redisClient, dispatcher)
	if err != nil {
		return nil, err
	}
	server.dispatcher = dispatcher
	server.kafka = kafkaSink
	return server, nil
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// A nil publisher discards claim events.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client, publisher notifications.Publisher) (*Server, error) {
	weights, err := weight.LoadFile(cfg.WeightPolicyFile)
	if err != nil {
		return nil, err
	}

	store := repository.NewStore(db)
	c := cache.New(redisClient)

	server := &Server{
		config:         cfg,
		db:             db,
		redis:          redisClient,
		promMiddleware: middleware.InitMetrics("waster-api"),
	}
	server.claimService = service.NewClaimService(store, weights, publisher, c,
		service.WithProfileRequirement(cfg.ClaimRequireProfile))
	server.postService = service.NewPostService(store, weights, publisher, c)
	server.statsService = service.NewStatsService(store, weights, c)
	server.queryService = service.NewQueryService(store)
	server.userService = service.NewUserService(store)

	middleware.InitMiddleware(cfg)
	return server, nil
}

// StatsService exposes the dashboard service to background jobs.
func (s *Server) StatsService() *service.StatsService {
	return s.statsService
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

	// CORS runs before the limiter so rejected requests still carry CORS headers.
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	app.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests, please try again later.",
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

	api := app.Group("/api")

	// Public browse
	api.Get("/posts", s.ListAvailablePosts)

	protected := api.Group("", middleware.AuthRequired)

	// Define specific /:id/:resource routes BEFORE generic /:id route
	posts := protected.Group("/posts")
	posts.Post("/", middleware.RateLimit(s.redis, 10, 5*time.Minute, "create_post"), s.CreatePost)
	posts.Get("/mine", s.GetMyPosts)
	posts.Post("/:id/claims", middleware.RateLimit(s.redis, 20, time.Minute, "create_claim"), s.CreateClaim)
	posts.Get("/:id/claims", s.GetPostClaims)
	posts.Put("/:id/validity", s.SetPostValidity)
	posts.Get("/:id", s.GetPost)
	posts.Put("/:id", s.UpdatePost)
	posts.Delete("/:id", s.DeletePost)

	claims := protected.Group("/claims")
	claims.Get("/", s.GetMyClaims)
	claims.Put("/:id/approve", s.ApproveClaim)
	claims.Put("/:id/reject", s.RejectClaim)
	claims.Put("/:id/complete", s.CompleteClaim)
	claims.Get("/:id", s.GetClaim)
	claims.Delete("/:id", s.CancelClaim)

	dashboard := protected.Group("/dashboard")
	dashboard.Get("/", s.GetDashboard)
	dashboard.Put("/goal", s.SetMonthlyGoal)
	dashboard.Post("/recompute", middleware.RateLimit(s.redis, 5, time.Minute, "recompute"), s.RecomputeDashboard)

	users := protected.Group("/users")
	users.Get("/me", s.GetMyProfile)
	users.Put("/me", s.UpdateMyProfile)
}

// App builds the Fiber application with middleware and routes.
func (s *Server) App() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName: "Waster API",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if fe, ok := err.(*fiber.Error); ok {
				return c.Status(fe.Code).JSON(models.ErrorResponse{Error: fe.Message})
			}
			middleware.Logger.ErrorContext(c.UserContext(), "unhandled error", slog.String("error", err.Error()))
			return models.RespondWithError(c, fiber.StatusInternalServerError,
				models.NewInternalError(err))
		},
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	return app
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck handles readiness probe requests
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	sqlDB, err := s.db.DB()
	if err != nil {
		dbStatus = "unhealthy"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "unhealthy"
	}

	// Redis only carries cache and events; the API works without it.
	redisStatus := "unavailable"
	if s.redis != nil {
		redisStatus = "healthy"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	if dbStatus == "unhealthy" {
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overallStatus,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"time": time.Now(),
	})
}

// Start starts the server
func (s *Server) Start() error {
	s.app = s.App()
	middleware.Logger.Info("Server starting", slog.String("port", s.config.Port))
	return s.app.Listen(":" + s.config.Port)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			middleware.Logger.Error("error shutting down HTTP server", slog.String("error", err.Error()))
		}
	}

	// drain queued claim events before their sinks go away
	if s.dispatcher != nil {
		if err := s.dispatcher.Close(ctx); err != nil {
			middleware.Logger.Warn("claim events left undelivered", slog.String("error", err.Error()))
		}
	}
	if s.kafka != nil {
		if err := s.kafka.Close(); err != nil {
			middleware.Logger.Error("error closing kafka producer", slog.String("error", err.Error()))
		}
	}

	if err := database.Close(); err != nil {
		middleware.Logger.Error("error closing database", slog.String("error", err.Error()))
	}

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			middleware.Logger.Error("error closing redis", slog.String("error", err.Error()))
		}
	}

	middleware.Logger.Info("Server shutdown complete")
	return nil
}
