package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/textjob/internal/config"
	"github.com/cuongbtq/textjob/internal/domain"
	"github.com/cuongbtq/textjob/internal/objectstore"
	"github.com/cuongbtq/textjob/internal/recordstore"
	"github.com/cuongbtq/textjob/internal/worker"
	"github.com/cuongbtq/textjob/shared/database"
	"github.com/cuongbtq/textjob/shared/logger"
	"github.com/cuongbtq/textjob/shared/rabbitmq"
	"github.com/google/uuid"
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
	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	once := flag.Bool("once", false, "Run the single job described by the environment, then terminate")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// a provisioned worker is told its store and table through the environment
	var (
		params    domain.JobParams
		workerEnv domain.WorkerEnv
	)
	if *once {
		params, workerEnv, err = config.LoadWorkerParams()
		if err != nil {
			return err
		}
		cfg.Storage.Bucket = workerEnv.Store
		cfg.Database.Table = workerEnv.Table
		if workerEnv.Credential != "" {
			cfg.Database.Password = workerEnv.Credential
		}
	}

	if err := cfg.ValidateWorkerConfig(!*once); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.Bool("once", *once),
		slog.String("network", workerEnv.Network),
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

	objects, err := objectstore.NewLocalStore(objectstore.LocalConfig{
		Root:       cfg.Storage.Root,
		Bucket:     cfg.Storage.Bucket,
		BaseURL:    cfg.Storage.BaseURL,
		SigningKey: cfg.Storage.SigningKey,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize object store: %w", err)
	}

	runnerConfig := worker.RunnerConfig{
		JobTimeout:        cfg.Worker.JobTimeout,
		CompletionRetries: cfg.Worker.CompletionRetries,
		CompletionBackoff: cfg.Worker.CompletionBackoff,
	}

	if *once {
		runner := worker.NewRunner(objects, records, worker.NewTerminator(cfg.Worker.TerminateCommand), runnerConfig, appLogger.Logger)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := runner.Run(ctx, params); err != nil {
			return fmt.Errorf("job %s failed: %w", params.JobID, err)
		}
		return nil
	}

	// pool workers share this process, so a finished job must not terminate it
	runner := worker.NewRunner(objects, records, worker.NoopTerminator{}, runnerConfig, appLogger.Logger)
	return runPool(cfg, runner, appLogger.Logger)
}

// runPool consumes the launch queue until a signal arrives
func runPool(cfg *config.Config, runner *worker.Runner, appLogger *slog.Logger) error {
	launch := cfg.RabbitMQ.Queues.Launch

	rabbitClient, err := rabbitmq.NewClient(cfg.RabbitMQClientConfig(launch), appLogger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	appLogger.Info("RabbitMQ connection established")

	workerInstance := worker.NewWorker(&worker.Config{
		Logger:        appLogger,
		Source:        rabbitClient,
		Runner:        runner,
		Queue:         launch.Name,
		WorkerID:      "worker-" + uuid.NewString(),
		Concurrency:   cfg.Worker.Concurrency,
		PrefetchCount: cfg.Worker.PrefetchCount,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- workerInstance.Start(ctx)
	}()

	appLogger.Info("Worker service started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-done:
		if err != nil {
			return fmt.Errorf("worker error: %w", err)
		}
		return fmt.Errorf("worker stopped: launch queue closed")
	}

	cancel()

	select {
	case err := <-done:
		if err != nil {
			return err
		}
		appLogger.Info("Worker stopped gracefully")
	case <-time.After(cfg.Worker.ShutdownTimeout):
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	appLogger.Info("Worker service shutdown complete")
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
