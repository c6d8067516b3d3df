package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"migration-discovery/backend/internal/api"
	"migration-discovery/backend/internal/config"
	"migration-discovery/backend/internal/flow"
	"migration-discovery/backend/internal/logging"
	"migration-discovery/backend/internal/repository"
)

func main() {
	ctx := context.Background()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Configuration loading failed: %v", err)
	}

	// Initialize logging
	logger := logging.NewLoggerWithFormat(cfg.Log.Format, cfg.Log.Level)
	logger.Info("Starting Migration Discovery Flow Service")

	// Initialize database connection
	dbPool, err := initDatabase(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize database", "error", err)
		log.Fatalf("Database initialization failed: %v", err)
	}
	defer dbPool.Close()

	logger.Info("Database connected")

	// Initialize repository layer
	store := repository.NewPostgresStore(dbPool)
	if err := store.InitSchema(ctx); err != nil {
		logger.Error("Failed to initialize schema", "error", err)
		log.Fatalf("Schema initialization failed: %v", err)
	}

	// Load flow-type phase sequences
	phases := flow.DefaultPhaseConfig()
	if cfg.Flows.PhaseConfigFile != "" {
		phases, err = flow.LoadPhaseConfig(cfg.Flows.PhaseConfigFile)
		if err != nil {
			logger.Error("Failed to load phase config", "error", err)
			log.Fatalf("Phase config loading failed: %v", err)
		}
		logger.Info("Phase config loaded", "file", cfg.Flows.PhaseConfigFile)
	}

	// Initialize service layer
	flowService, err := flow.NewService(store, phases, logger, flow.Options{
		FlowTTL:       cfg.Flows.TTL,
		ResumeTimeout: cfg.Flows.ResumeTimeout,
	})
	if err != nil {
		logger.Error("Failed to initialize flow service", "error", err)
		log.Fatalf("Service initialization failed: %v", err)
	}

	logger.Info("Service layer initialized")

	// Create Echo server
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	handler := api.NewHandler(flowService, logger)
	e.GET("/healthz", handler.HandleHealth)

	apiGroup := e.Group("/api/v1")
	apiGroup.Use(otelecho.Middleware("migration-discovery"))
	handler.RegisterRoutes(apiGroup)

	logger.Info("REST API handlers mounted")

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      e,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown handling
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "address", cfg.Server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	// Wait for shutdown signal
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			logger.Error("Server error", "error", err)
			log.Fatalf("Server error: %v", err)
		}
	case sig := <-shutdown:
		logger.Info("Shutdown signal received", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", "error", err)
			if err := server.Close(); err != nil {
				logger.Error("Server close error", "error", err)
			}
		}

		logger.Info("Server stopped gracefully")
	}
}

func initDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*pgxpool.Pool, error) {
	logger.Debug("Initializing database connection")

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}
