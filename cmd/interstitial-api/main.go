package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/personal/interstitial-ad-coordinator/internal/application/service"
	"github.com/personal/interstitial-ad-coordinator/internal/domain/interstitial"
	"github.com/personal/interstitial-ad-coordinator/internal/domain/operation"
	"github.com/personal/interstitial-ad-coordinator/internal/infrastructure/persistence"
	"github.com/personal/interstitial-ad-coordinator/internal/infrastructure/provider"
	"github.com/personal/interstitial-ad-coordinator/internal/interfaces/http/handlers"
	"github.com/personal/interstitial-ad-coordinator/migrations"
	"github.com/personal/interstitial-ad-coordinator/pkg/config"
	"github.com/personal/interstitial-ad-coordinator/pkg/logger"
	"github.com/personal/interstitial-ad-coordinator/pkg/monitoring"
)

func main() {
	// Handle health check command
	if len(os.Args) > 1 && os.Args[1] == "-health-check" {
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logger.New(cfg.LogLevel, cfg.Environment)
	health := handlers.NewHealthHandler()

	// Ad provider
	var (
		adProvider  interstitial.Provider
		redisClient *redis.Client
		redisAds    *provider.RedisProvider
	)
	switch cfg.Provider.Mode {
	case config.ProviderModeRedis:
		redisClient, err = initRedis(cfg)
		if err != nil {
			logger.Fatalf("Failed to initialize Redis: %v", err)
		}
		defer redisClient.Close()

		redisAds = provider.NewRedisProvider(redisClient, provider.RedisConfig{
			CommandChannel: cfg.Provider.CommandChannel,
			EventChannel:   cfg.Provider.EventChannel,
			CommandTimeout: cfg.Provider.CommandTimeout(),
		}, logger)
		if err := redisAds.Start(context.Background()); err != nil {
			logger.Fatalf("Failed to start Redis provider: %v", err)
		}
		adProvider = redisAds

		health.AddCheck("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
		logger.Infof("Using Redis ad provider on %s", cfg.Redis.Addr())
	default:
		adProvider = provider.NewSimulatedProvider(simulatedConfig(cfg), logger)
		logger.Warn("Using simulated ad provider - set PROVIDER_MODE=redis to drive a real ad network")
	}

	// Coordinator
	coordinator := interstitial.NewCoordinator(adProvider,
		interstitial.WithLogger(logger.Component("coordinator")),
		interstitial.WithObserver(monitoring.NewCoordinatorObserver()),
	)
	coordinator.Start(context.Background())

	health.AddCheck("coordinator", func(ctx context.Context) error {
		snap, err := coordinator.Snapshot(ctx)
		if err != nil {
			return err
		}
		if snap.Stopped {
			return errors.New("coordinator stopped")
		}
		return nil
	})

	// Operation history
	var (
		history operation.Repository
		db      *sql.DB
	)
	switch cfg.History.Backend {
	case config.HistoryBackendPostgres:
		db, err = initDatabase(cfg)
		if err != nil {
			logger.Fatalf("Failed to initialize database: %v", err)
		}
		defer db.Close()

		if cfg.Database.AutoMigrate {
			if err := migrations.Up(db); err != nil {
				logger.Fatalf("Failed to migrate database: %v", err)
			}
		}
		history = persistence.NewPostgresOperationRepository(db)
		health.AddCheck("database", db.PingContext)
	default:
		history = persistence.NewMemoryOperationRepository(persistence.DefaultMemoryCapacity)
	}

	interstitialService := service.NewInterstitialService(
		coordinator,
		history,
		logger,
		cfg.Coordinator.RequestTimeout(),
		cfg.History.RecentLimit,
	)

	// HTTP server
	router := setupRouter(cfg, logger)
	health.RegisterRoutes(router)
	handlers.NewInterstitialHandler(interstitialService).RegisterRoutes(router.Group("/api/v1"))

	if cfg.Monitoring.Metrics.Enabled {
		router.GET(cfg.Monitoring.Metrics.Path, gin.WrapH(monitoring.PrometheusHandler()))
	}

	server := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout:   time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:    time.Duration(cfg.Server.IdleTimeoutSeconds) * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		logger.Infof("Starting Interstitial API server on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	shutdown(ctx, server, coordinator, interstitialService, logger)

	if redisAds != nil {
		if err := redisAds.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close Redis provider")
		}
	}

	logger.Info("Server exited")
}

// shutdown stops the coordinator before draining HTTP. Stopping rejects every
// pending request with ErrHostDestroyed, so in-flight handlers answer at once
// instead of holding the server open until their request timeout.
func shutdown(ctx context.Context, server *http.Server, coordinator *interstitial.Coordinator, svc *service.InterstitialService, logger *logger.Logger) {
	coordinator.Stop()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	// Waits for operations that outlived their request to be recorded
	svc.Close()
}

func simulatedConfig(cfg *config.Config) provider.SimulatedConfig {
	sim := cfg.Provider.Simulated
	return provider.SimulatedConfig{
		LoadDelay:       time.Duration(sim.LoadDelayMs) * time.Millisecond,
		DisplayDuration: time.Duration(sim.DisplayDurationMs) * time.Millisecond,
		FillRate:        sim.FillRate,
		ClickRate:       sim.ClickRate,
		Seed:            sim.Seed,
	}
}

func initDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetimeMinutes) * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

func initRedis(cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr(),
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		ReadTimeout:  time.Duration(cfg.Redis.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.Redis.WriteTimeoutSeconds) * time.Second,
		DialTimeout:  5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return client, nil
}

func setupRouter(cfg *config.Config, logger *logger.Logger) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(loggingMiddleware(logger))
	router.Use(monitoring.MetricsMiddleware())

	return router
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Header("Access-Control-Allow-Methods", "POST, GET, OPTIONS")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func loggingMiddleware(logger *logger.Logger) gin.HandlerFunc {
	return gin.LoggerWithConfig(gin.LoggerConfig{
		Output: logger.Writer(),
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("[%s] %s %s %d %s %s\n",
				param.TimeStamp.Format("2006-01-02 15:04:05"),
				param.Method,
				param.Path,
				param.StatusCode,
				param.Latency,
				param.ClientIP,
			)
		},
	})
}
