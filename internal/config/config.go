package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cuongbtq/textjob/internal/domain"
	"github.com/cuongbtq/textjob/internal/idgen"
	"github.com/cuongbtq/textjob/internal/recordstore"
	"github.com/cuongbtq/textjob/shared/database"
	"github.com/cuongbtq/textjob/shared/rabbitmq"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Dedup backends
const (
	DedupBackendRedis  = "redis"
	DedupBackendMemory = "memory"
)

// Provisioner kinds
const (
	ProvisionerExec  = "exec"
	ProvisionerQueue = "queue"
)

// Config represents the complete application configuration.
// Each service reads the sections it needs from its own file.
type Config struct {
	App        AppConfig        `yaml:"app"`
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Database   DatabaseConfig   `yaml:"database"`
	RabbitMQ   RabbitMQConfig   `yaml:"rabbitmq"`
	Redis      RedisConfig      `yaml:"redis"`
	Storage    StorageConfig    `yaml:"storage"`
	IDs        IDConfig         `yaml:"ids"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Relay      RelayConfig      `yaml:"relay"`
	Worker     WorkerConfig     `yaml:"worker"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
}

// DatabaseConfig holds the job record store connection configuration
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"` // postgres or sqlite
	Path            string        `yaml:"path"`   // sqlite only
	Table           string        `yaml:"table"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queues     QueuesConfig     `yaml:"queues"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueuesConfig names the pipeline's queues
type QueuesConfig struct {
	Changes    QueueConfig `yaml:"changes"`
	DeadLetter QueueConfig `yaml:"dead_letter"`
	Launch     QueueConfig `yaml:"launch"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	RoutingKey string `yaml:"routing_key"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
}

// RedisConfig holds the dedup store connection
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// StorageConfig holds the object store bucket and capability settings
type StorageConfig struct {
	Bucket     string        `yaml:"bucket"`
	Root       string        `yaml:"root"`
	BaseURL    string        `yaml:"base_url"`
	SigningKey string        `yaml:"signing_key"`
	UploadTTL  time.Duration `yaml:"upload_ttl"`
}

// IDConfig selects the job id generator
type IDConfig struct {
	Format string `yaml:"format"` // nanoid or uuid
	Length int    `yaml:"length"`
}

// DispatcherConfig holds batch, retry and dedup settings of the dispatcher
type DispatcherConfig struct {
	BatchSize      int           `yaml:"batch_size"`
	BatchWindow    time.Duration `yaml:"batch_window"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryBackoff   time.Duration `yaml:"retry_backoff"`
	MaxConcurrency int           `yaml:"max_concurrency"`
	Dedup          DedupConfig   `yaml:"dedup"`
}

// DedupConfig holds the idempotency window
type DedupConfig struct {
	Enabled bool          `yaml:"enabled"`
	Backend string        `yaml:"backend"` // redis or memory
	Window  time.Duration `yaml:"window"`
	Prefix  string        `yaml:"prefix"`
}

// RelayConfig holds the change outbox relay settings
type RelayConfig struct {
	BatchSize    int           `yaml:"batch_size"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker execution and provisioning configuration
type WorkerConfig struct {
	Concurrency       int           `yaml:"concurrency"`
	PrefetchCount     int           `yaml:"prefetch_count"`
	JobTimeout        time.Duration `yaml:"job_timeout"`
	CompletionRetries int           `yaml:"completion_retries"`
	CompletionBackoff time.Duration `yaml:"completion_backoff"`
	TerminateCommand  string        `yaml:"terminate_command"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	Provisioner       string        `yaml:"provisioner"` // exec or queue
	Binary            string        `yaml:"binary"`
	ConfigPath        string        `yaml:"config_path"`
	Credential        string        `yaml:"credential"`
	Network           string        `yaml:"network"`
}

// Load reads and parses the configuration file.
// ${VAR} references are expanded from the environment before parsing.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// LoadDotEnv loads a .env file if one exists; a missing file is not an error
func LoadDotEnv(paths ...string) error {
	if err := godotenv.Load(paths...); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return fmt.Errorf("load .env file: %w", err)
		}
	}
	return nil
}

// LoadWorkerParams reads one-shot job parameters and the worker environment
// (STORE_NAME, TABLE_NAME, JOB_ID, ...) from the process environment
func LoadWorkerParams() (domain.JobParams, domain.WorkerEnv, error) {
	var params domain.JobParams
	if err := env.Parse(&params); err != nil {
		return domain.JobParams{}, domain.WorkerEnv{}, fmt.Errorf("parse job params: %w", err)
	}

	var workerEnv domain.WorkerEnv
	if err := env.Parse(&workerEnv); err != nil {
		return domain.JobParams{}, domain.WorkerEnv{}, fmt.Errorf("parse worker env: %w", err)
	}

	return params, workerEnv, nil
}

// ValidateAPIConfig checks the sections used by the API service
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.validateDatabase(); err != nil {
		return err
	}

	if err := c.validateStorage(); err != nil {
		return err
	}

	if _, err := idgen.New(c.IDs.Format, c.IDs.Length); err != nil {
		return fmt.Errorf("invalid ids config: %w", err)
	}

	return nil
}

// ValidateDispatcherConfig checks the sections used by the dispatcher service
func (c *Config) ValidateDispatcherConfig() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}

	if err := c.validateRabbitMQ(c.RabbitMQ.Queues.Changes, c.RabbitMQ.Queues.DeadLetter); err != nil {
		return err
	}

	if c.Dispatcher.BatchSize <= 0 {
		return fmt.Errorf("dispatcher batch_size must be greater than 0")
	}

	if c.Dispatcher.MaxRetries < 0 {
		return fmt.Errorf("dispatcher max_retries must not be negative")
	}

	if c.Dispatcher.Dedup.Enabled {
		switch c.Dispatcher.Dedup.Backend {
		case DedupBackendRedis:
			if c.Redis.Addr == "" {
				return fmt.Errorf("redis addr is required for the redis dedup backend")
			}
		case DedupBackendMemory:
		default:
			return fmt.Errorf("unknown dedup backend %q", c.Dispatcher.Dedup.Backend)
		}
		if c.Dispatcher.Dedup.Window <= 0 {
			return fmt.Errorf("dedup window must be greater than 0")
		}
	}

	if c.Storage.Bucket == "" {
		return fmt.Errorf("storage bucket is required")
	}

	if c.Worker.Binary == "" {
		return fmt.Errorf("worker binary is required")
	}

	switch c.Worker.Provisioner {
	case ProvisionerExec:
	case ProvisionerQueue:
		if c.RabbitMQ.Queues.Launch.Name == "" {
			return fmt.Errorf("rabbitmq launch queue is required for the queue provisioner")
		}
	default:
		return fmt.Errorf("unknown worker provisioner %q", c.Worker.Provisioner)
	}

	return nil
}

// ValidateWorkerConfig checks the sections used by the worker service.
// Pool mode additionally needs RabbitMQ; one-shot mode does not.
func (c *Config) ValidateWorkerConfig(pool bool) error {
	if err := c.validateDatabase(); err != nil {
		return err
	}

	if err := c.validateStorage(); err != nil {
		return err
	}

	if c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("worker job_timeout must be greater than 0")
	}

	if c.Worker.CompletionRetries < 0 {
		return fmt.Errorf("worker completion_retries must not be negative")
	}

	if !pool {
		return nil
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	return c.validateRabbitMQ(c.RabbitMQ.Queues.Launch)
}

func (c *Config) validateDatabase() error {
	switch c.Database.Driver {
	case database.DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database path is required for sqlite")
		}
	case database.DriverPostgres, "":
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.Port < MinPort || c.Database.Port > MaxPort {
			return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}

	if err := recordstore.ValidateTableName(c.Database.Table); err != nil {
		return fmt.Errorf("invalid database table: %w", err)
	}

	return nil
}

func (c *Config) validateStorage() error {
	if c.Storage.Bucket == "" {
		return fmt.Errorf("storage bucket is required")
	}
	if c.Storage.Root == "" {
		return fmt.Errorf("storage root is required")
	}
	if c.Storage.SigningKey == "" {
		return fmt.Errorf("storage signing_key is required")
	}
	return nil
}

func (c *Config) validateRabbitMQ(queues ...QueueConfig) error {
	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	for _, q := range queues {
		if q.Name == "" {
			return fmt.Errorf("rabbitmq queue name is required")
		}
	}

	return nil
}

// DatabaseClientConfig maps the database section onto the shared client config
func (c *Config) DatabaseClientConfig() *database.Config {
	return &database.Config{
		Driver:          c.Database.Driver,
		Host:            c.Database.Host,
		Port:            c.Database.Port,
		User:            c.Database.User,
		Password:        c.Database.Password,
		Database:        c.Database.Database,
		SSLMode:         c.Database.SSLMode,
		Path:            c.Database.Path,
		MaxOpenConns:    c.Database.MaxOpenConns,
		MaxIdleConns:    c.Database.MaxIdleConns,
		ConnMaxLifetime: c.Database.ConnMaxLifetime,
		ConnMaxIdleTime: c.Database.ConnMaxIdleTime,
	}
}

// RabbitMQClientConfig maps the rabbitmq section onto the shared client config,
// declaring only the given queues
func (c *Config) RabbitMQClientConfig(queues ...QueueConfig) *rabbitmq.Config {
	declared := make([]rabbitmq.QueueConfig, 0, len(queues))
	for _, q := range queues {
		declared = append(declared, rabbitmq.QueueConfig{
			Name:       q.Name,
			RoutingKey: q.RoutingKey,
			Durable:    q.Durable,
			AutoDelete: q.AutoDelete,
			Exclusive:  q.Exclusive,
		})
	}

	return &rabbitmq.Config{
		Host:               c.RabbitMQ.Host,
		Port:               c.RabbitMQ.Port,
		User:               c.RabbitMQ.User,
		Password:           c.RabbitMQ.Password,
		VHost:              c.RabbitMQ.VHost,
		ExchangeName:       c.RabbitMQ.Exchange.Name,
		ExchangeType:       c.RabbitMQ.Exchange.Type,
		ExchangeDurable:    c.RabbitMQ.Exchange.Durable,
		ExchangeAutoDelete: c.RabbitMQ.Exchange.AutoDelete,
		Queues:             declared,
		RetryAttempts:      c.RabbitMQ.Connection.RetryAttempts,
		RetryInterval:      c.RabbitMQ.Connection.RetryInterval,
		Heartbeat:          c.RabbitMQ.Connection.Heartbeat,
		ConnectionTimeout:  c.RabbitMQ.Connection.ConnectionTimeout,
		PublishRetries:     c.RabbitMQ.Publish.RetryAttempts,
		PublishRetryDelay:  c.RabbitMQ.Publish.RetryInterval,
		PublishBackoffMult: c.RabbitMQ.Publish.BackoffMultiplier,
	}
}
