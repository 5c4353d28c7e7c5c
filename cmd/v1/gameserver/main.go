package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jumpjumpjump/backend/go/internal/v1/bus"
	"github.com/jumpjumpjump/backend/go/internal/v1/config"
	"github.com/jumpjumpjump/backend/go/internal/v1/game"
	"github.com/jumpjumpjump/backend/go/internal/v1/health"
	"github.com/jumpjumpjump/backend/go/internal/v1/logging"
	"github.com/jumpjumpjump/backend/go/internal/v1/middleware"
	"github.com/jumpjumpjump/backend/go/internal/v1/ratelimit"
	"github.com/jumpjumpjump/backend/go/internal/v1/tracing"
)

func main() {
	// Load .env file for local development.
	// Try multiple paths to handle different ways of running the app
	envPaths := []string{".env", "../../../.env", "../../.env"}
	var envLoaded bool

	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			slog.Info("Loaded environment from", "path", path)
			envLoaded = true
			break
		}
	}

	if !envLoaded {
		slog.Warn("No .env file found in any expected location, relying on environment variables")
	}

	// Validate environment variables before starting the server
	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("Environment validation failed", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.DevelopmentMode {
		logging.Info(ctx, "Running in DEVELOPMENT MODE")
	}

	// --- Tracing (Optional) ---
	if cfg.OTLPEndpoint != "" {
		tp, err := tracing.InitTracer(ctx, "gameserver", cfg.OTLPEndpoint)
		if err != nil {
			logging.Warn(ctx, "Failed to initialize tracing, continuing without it", zap.Error(err))
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tp.Shutdown(shutdownCtx)
			}()
		}
	}

	// --- Redis Bus Initialization (Optional) ---
	// Initialize Redis for cross-instance broadcast relay if enabled
	var busService *bus.Service
	if cfg.RedisEnabled {
		originID := uuid.NewString()
		busService, err = bus.NewService(cfg.RedisAddr, cfg.RedisPassword, originID)
		if err != nil {
			logging.Warn(ctx, "Failed to connect to Redis, running in single-instance mode", zap.Error(err))
			busService = nil // Fallback to single-instance mode
		} else {
			logging.Info(ctx, "Redis pub/sub initialized for cross-instance relay",
				zap.String("addr", cfg.RedisAddr), zap.String("originId", originID))
		}
	} else {
		logging.Info(ctx, "Running in single-instance mode (Redis disabled)")
	}

	// --- Rate Limiting ---
	rateLimiter, err := ratelimit.NewRateLimiter(cfg, busService.Client())
	if err != nil {
		logging.Fatal(ctx, "Failed to initialize rate limiter", zap.Error(err))
	}

	// --- Hub ---
	allowedOrigins := game.AllowedOrigins(cfg.AllowedOrigins, []string{"http://localhost:3000"})
	tokens := game.NewTokenIssuer(cfg.ReconnectSecret)
	hub := game.NewHub(tokens, relayOrNil(busService), rateLimiter, allowedOrigins)

	// --- Set up Server ---
	if !cfg.DevelopmentMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	if cfg.OTLPEndpoint != "" {
		router.Use(otelgin.Middleware("gameserver"))
	}

	// Cors
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = allowedOrigins
	router.Use(cors.New(corsConfig))

	// Routing
	wsGroup := router.Group("/ws")
	{
		wsGroup.GET("/room/:roomId", hub.ServeWs)
	}

	apiGroup := router.Group("/api")
	apiGroup.Use(rateLimiter.GlobalMiddleware())
	{
		roomsGroup := apiGroup.Group("/rooms")
		roomsGroup.Use(rateLimiter.RoomsMiddleware())
		roomsGroup.GET("", hub.GetAvailableRooms)
		roomsGroup.GET("/all", hub.GetAllRooms)
	}

	// Prometheus metrics endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check endpoints
	healthHandler := health.NewHandler(busService)
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// --- Graceful Shutdown ---
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logging.Info(gctx, "Game server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logging.Info(context.Background(), "Shutting down server...")

		// In-flight requests get 30 seconds to finish
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		// Close all active rooms and WebSocket connections gracefully
		if err := hub.Shutdown(shutdownCtx); err != nil {
			logging.Error(context.Background(), "Error during Hub shutdown", zap.Error(err))
		}

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}

		// Close Redis connection if it was initialized
		if err := busService.Close(); err != nil {
			logging.Error(context.Background(), "Failed to close Redis connection", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logging.Error(context.Background(), "Server exited with error", zap.Error(err))
		os.Exit(1)
	}
	logging.Info(context.Background(), "Server exiting")
}

// relayOrNil keeps a typed-nil *bus.Service from sneaking into the hub's
// interface field.
func relayOrNil(s *bus.Service) game.RelayService {
	if s == nil {
		return nil
	}
	return s
}
