package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/textjob/internal/api/handler"
	"github.com/cuongbtq/textjob/internal/api/router"
	"github.com/cuongbtq/textjob/internal/api/service"
	"github.com/cuongbtq/textjob/internal/config"
	"github.com/cuongbtq/textjob/internal/idgen"
	"github.com/cuongbtq/textjob/internal/objectstore"
	"github.com/cuongbtq/textjob/internal/recordstore"
	"github.com/cuongbtq/textjob/internal/upload"
	"github.com/cuongbtq/textjob/shared/database"
	"github.com/cuongbtq/textjob/shared/logger"
	"github.com/gin-gonic/gin"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	dbClient, err := database.NewClient(cfg.DatabaseClientConfig(), appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	records, err := recordstore.New(dbClient.GetDB(), cfg.Database.Table, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize record store: %w", err)
	}

	migrateCtx, migrateCancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = records.Migrate(migrateCtx)
	migrateCancel()
	if err != nil {
		return fmt.Errorf("failed to migrate record store: %w", err)
	}

	appLogger.Info("Record store ready",
		slog.String("driver", dbClient.Driver()),
		slog.String("table", records.Table()),
	)

	objects, err := objectstore.NewLocalStore(objectstore.LocalConfig{
		Root:       cfg.Storage.Root,
		Bucket:     cfg.Storage.Bucket,
		BaseURL:    cfg.Storage.BaseURL,
		SigningKey: cfg.Storage.SigningKey,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize object store: %w", err)
	}

	newID, err := idgen.New(cfg.IDs.Format, cfg.IDs.Length)
	if err != nil {
		return fmt.Errorf("failed to initialize id generator: %w", err)
	}

	// Initialize router
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := router.SetupRouter(&handler.Dependencies{
		Logger:         appLogger.Logger,
		ServiceName:    cfg.App.Name,
		Jobs:           service.NewJobService(records, objects.Bucket(), newID, appLogger.Logger),
		Uploads:        upload.NewAuthorizer(objects, cfg.Storage.UploadTTL, appLogger.Logger),
		Objects:        objects,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	})

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	errChan := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down server",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		return fmt.Errorf("server failed: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}
