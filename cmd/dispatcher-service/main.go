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
	"github.com/cuongbtq/textjob/internal/dispatcher"
	"github.com/cuongbtq/textjob/internal/domain"
	"github.com/cuongbtq/textjob/internal/feed"
	"github.com/cuongbtq/textjob/internal/provisioner"
	"github.com/cuongbtq/textjob/internal/recordstore"
	"github.com/cuongbtq/textjob/shared/database"
	"github.com/cuongbtq/textjob/shared/logger"
	"github.com/cuongbtq/textjob/shared/rabbitmq"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
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

	defaultConfigPath := os.Getenv("DISPATCHER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/dispatcher-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateDispatcherConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting dispatcher service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbClient, err := database.NewClient(cfg.DatabaseClientConfig(), appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	records, err := recordstore.New(dbClient.GetDB(), cfg.Database.Table, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize record store: %w", err)
	}
	if err := records.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate record store: %w", err)
	}

	queues := cfg.RabbitMQ.Queues
	declared := []config.QueueConfig{queues.Changes, queues.DeadLetter}
	if cfg.Worker.Provisioner == config.ProvisionerQueue {
		declared = append(declared, queues.Launch)
	}

	rabbitClient, err := rabbitmq.NewClient(cfg.RabbitMQClientConfig(declared...), appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	appLogger.Info("RabbitMQ connection established")

	dedup, closeDedup, err := initDeduplicator(ctx, cfg, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dedup store: %w", err)
	}
	defer closeDedup()

	builder, err := provisioner.NewBuilder(provisioner.BuilderConfig{
		Env: domain.WorkerEnv{
			Store:      cfg.Storage.Bucket,
			Table:      cfg.Database.Table,
			Credential: cfg.Worker.Credential,
			Network:    cfg.Worker.Network,
		},
		WorkerBinary:     cfg.Worker.Binary,
		WorkerConfigPath: cfg.Worker.ConfigPath,
		TerminateCommand: cfg.Worker.TerminateCommand,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize launch builder: %w", err)
	}

	var (
		prov     provisioner.Provisioner
		execProv *provisioner.ExecProvisioner
	)
	switch cfg.Worker.Provisioner {
	case config.ProvisionerQueue:
		prov = provisioner.NewQueueProvisioner(rabbitClient, queues.Launch.RoutingKey, appLogger.Logger)
	default:
		execProv = provisioner.NewExecProvisioner("", nil, appLogger.Logger)
		prov = execProv
	}

	metrics := dispatcher.NewMetrics()
	d, err := dispatcher.New(dispatcher.Dependencies{
		Builder:     builder,
		Provisioner: prov,
		Dedup:       dedup,
		DeadLetters: dispatcher.NewQueueSink(rabbitClient, queues.DeadLetter.RoutingKey),
		Metrics:     metrics,
		Logger:      appLogger.Logger,
	}, dispatcher.Config{
		MaxRetries:     cfg.Dispatcher.MaxRetries,
		RetryBackoff:   cfg.Dispatcher.RetryBackoff,
		MaxConcurrency: cfg.Dispatcher.MaxConcurrency,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize dispatcher: %w", err)
	}

	relay := feed.NewRelay(records, rabbitClient, feed.RelayConfig{
		RoutingKey:   queues.Changes.RoutingKey,
		BatchSize:    cfg.Relay.BatchSize,
		PollInterval: cfg.Relay.PollInterval,
	}, appLogger.Logger)

	consumer := dispatcher.NewConsumer(d, feed.Decoder{DefaultBucket: cfg.Storage.Bucket}, dispatcher.ConsumerConfig{
		BatchSize:   cfg.Dispatcher.BatchSize,
		BatchWindow: cfg.Dispatcher.BatchWindow,
	})

	// prefetch must cover a full batch or the batcher never fills
	prefetch := cfg.RabbitMQ.Consumer.PrefetchCount
	if prefetch < cfg.Dispatcher.BatchSize {
		prefetch = cfg.Dispatcher.BatchSize
	}
	if err := rabbitClient.Qos(prefetch); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	consumerTag := "dispatcher-" + uuid.NewString()
	deliveries, err := rabbitClient.Consume(queues.Changes.Name, consumerTag)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	appLogger.Info("Dispatcher service started",
		slog.String("consumer_tag", consumerTag),
		slog.String("queue", queues.Changes.Name),
		slog.String("provisioner", cfg.Worker.Provisioner),
		slog.Int("batch_size", cfg.Dispatcher.BatchSize),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return relay.Run(gctx)
	})
	g.Go(func() error {
		return consumer.Run(gctx, deliveries)
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case amqpErr, ok := <-rabbitClient.NotifyClose():
			if !ok || amqpErr == nil {
				return fmt.Errorf("rabbitmq connection closed")
			}
			return fmt.Errorf("rabbitmq connection closed: %w", amqpErr)
		}
	})

	runErr := g.Wait()

	appLogger.Info("Dispatcher metrics",
		slog.Any("metrics", metrics.GetSnapshot()),
	)

	if execProv != nil {
		waitForWorkers(execProv, cfg.Worker.ShutdownTimeout, appLogger.Logger)
	}

	if runErr != nil {
		return runErr
	}

	appLogger.Info("Dispatcher service shutdown complete")
	return nil
}

// initDeduplicator picks the dedup backend; the returned func releases it
func initDeduplicator(ctx context.Context, cfg *config.Config, logger *slog.Logger) (dispatcher.Deduplicator, func(), error) {
	dedupCfg := cfg.Dispatcher.Dedup
	if !dedupCfg.Enabled {
		logger.Warn("Dedup disabled: redelivered creation events provision duplicate workers")
		return dispatcher.NoopDeduplicator{}, func() {}, nil
	}

	if dedupCfg.Backend == config.DedupBackendMemory {
		return dispatcher.NewMemoryDeduplicator(dedupCfg.Window), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	logger.Info("Redis dedup store connected",
		slog.String("addr", cfg.Redis.Addr),
		slog.Duration("window", dedupCfg.Window),
	)

	return dispatcher.NewRedisDeduplicator(client, dedupCfg.Prefix, dedupCfg.Window), func() { client.Close() }, nil
}

// waitForWorkers reaps locally started workers, giving up after timeout
func waitForWorkers(p *provisioner.ExecProvisioner, timeout time.Duration, logger *slog.Logger) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	done := make(chan struct{})
	go func() {
		p.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("All local workers exited")
	case <-time.After(timeout):
		logger.Warn("Local workers still running at shutdown",
			slog.Duration("timeout", timeout),
		)
	}
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	})
}
