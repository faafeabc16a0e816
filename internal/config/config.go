package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Security  SecurityConfig  `yaml:"security" envconfig:"SECURITY"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Paths     PathsConfig     `yaml:"paths" envconfig:"PATHS"`
	WebSocket WebSocketConfig `yaml:"websocket" envconfig:"WEBSOCKET"`
	Executor  ExecutorConfig  `yaml:"executor" envconfig:"EXECUTOR"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
	Storage   StorageConfig   `yaml:"storage" envconfig:"STORAGE"`
	Archive   ArchiveConfig   `yaml:"archive" envconfig:"ARCHIVE"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host" envconfig:"HOST"`
	Port            int           `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" envconfig:"MAX_HEADER_BYTES"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	// RequestTimeout bounds synchronous dispatch requests
	RequestTimeout time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
}

// SecurityConfig contains security-related configuration
type SecurityConfig struct {
	AllowedOrigins []string        `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	EnableCORS     bool            `yaml:"enable_cors" envconfig:"ENABLE_CORS"`
	MaxBodyBytes   int64           `yaml:"max_body_bytes" envconfig:"MAX_BODY_BYTES"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`

	// APIKeys maps accepted X-API-Key values to client names. Empty disables key auth.
	APIKeys map[string]string `yaml:"api_keys" envconfig:"API_KEYS"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS"`
	Burst   int     `yaml:"burst" envconfig:"BURST"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LEVEL"`
	Format      string `yaml:"format" envconfig:"FORMAT"`
	Output      string `yaml:"output" envconfig:"OUTPUT"`
	FilePath    string `yaml:"file_path" envconfig:"FILE_PATH"`
	Development bool   `yaml:"development" envconfig:"DEVELOPMENT"`
}

// PathsConfig contains file system locations. Relative paths are resolved
// against BaseDir, which defaults to the working directory.
type PathsConfig struct {
	BaseDir    string `yaml:"base_dir" envconfig:"BASE_DIR"`
	DataDir    string `yaml:"data_dir" envconfig:"DATA_DIR"`
	ExportsDir string `yaml:"exports_dir" envconfig:"EXPORTS_DIR"`
	LogsDir    string `yaml:"logs_dir" envconfig:"LOGS_DIR"`
}

// WebSocketConfig contains WebSocket configuration
type WebSocketConfig struct {
	ReadBufferSize  int           `yaml:"read_buffer_size" envconfig:"READ_BUFFER_SIZE"`
	WriteBufferSize int           `yaml:"write_buffer_size" envconfig:"WRITE_BUFFER_SIZE"`
	PingPeriod      time.Duration `yaml:"ping_period" envconfig:"PING_PERIOD"`
	PongWait        time.Duration `yaml:"pong_wait" envconfig:"PONG_WAIT"`
}

// ExecutorConfig controls pipeline execution and the background run queue
type ExecutorConfig struct {
	DefaultStageTimeout time.Duration            `yaml:"default_stage_timeout" envconfig:"DEFAULT_STAGE_TIMEOUT"`
	OperationTimeouts   map[string]time.Duration `yaml:"operation_timeouts" envconfig:"OPERATION_TIMEOUTS"`
	RetryAttempts       int                      `yaml:"retry_attempts" envconfig:"RETRY_ATTEMPTS"`
	RetryInitialDelay   time.Duration            `yaml:"retry_initial_delay" envconfig:"RETRY_INITIAL_DELAY"`
	RetryMaxDelay       time.Duration            `yaml:"retry_max_delay" envconfig:"RETRY_MAX_DELAY"`
	Workers             int                      `yaml:"workers" envconfig:"WORKERS"`
	QueueSize           int                      `yaml:"queue_size" envconfig:"QUEUE_SIZE"`
	// CatalogFile is an optional YAML file with extra operations and pipelines
	CatalogFile string `yaml:"catalog_file" envconfig:"CATALOG_FILE"`
	// SnapshotRetention is how long finished run snapshots stay in memory
	SnapshotRetention time.Duration `yaml:"snapshot_retention" envconfig:"SNAPSHOT_RETENTION"`
}

// TelemetryConfig controls OpenTelemetry tracing and metrics
type TelemetryConfig struct {
	Environment    string  `yaml:"environment" envconfig:"ENVIRONMENT"`
	EnableTracing  bool    `yaml:"enable_tracing" envconfig:"ENABLE_TRACING"`
	EnableMetrics  bool    `yaml:"enable_metrics" envconfig:"ENABLE_METRICS"`
	TraceExporter  string  `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER"`
	MetricExporter string  `yaml:"metric_exporter" envconfig:"METRIC_EXPORTER"`
	SampleRatio    float64 `yaml:"sample_ratio" envconfig:"SAMPLE_RATIO"`
}

// StorageConfig selects where run reports are kept
type StorageConfig struct {
	Driver          string        `yaml:"driver" envconfig:"DRIVER"`
	DatabaseURL     string        `yaml:"database_url" envconfig:"DATABASE_URL"`
	MaxOpenConns    int           `yaml:"max_open_conns" envconfig:"MAX_OPEN_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" envconfig:"CONN_MAX_LIFETIME"`
	// RunRetention is how long finished runs are kept. Zero keeps them forever.
	RunRetention time.Duration `yaml:"run_retention" envconfig:"RUN_RETENTION"`
}

// ArchiveConfig configures the S3-compatible report archive
type ArchiveConfig struct {
	Enabled   bool   `yaml:"enabled" envconfig:"ENABLED"`
	Endpoint  string `yaml:"endpoint" envconfig:"ENDPOINT"`
	AccessKey string `yaml:"access_key" envconfig:"ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" envconfig:"SECRET_KEY"`
	Bucket    string `yaml:"bucket" envconfig:"BUCKET"`
	Region    string `yaml:"region" envconfig:"REGION"`
	UseSSL    bool   `yaml:"use_ssl" envconfig:"USE_SSL"`
	Prefix    string `yaml:"prefix" envconfig:"PREFIX"`
}

// Load loads configuration from defaults, an optional YAML file and
// environment variables, in increasing order of precedence.
func Load() (*Config, error) {
	return LoadFile(getConfigFilePath())
}

// LoadFile is Load with an explicit config file. An empty path skips the file.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Fields without a matching variable are left untouched
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromFile overlays the YAML file onto cfg
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// validate validates the configuration
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}

	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive")
	}

	if c.Security.EnableCORS && len(c.Security.AllowedOrigins) == 0 {
		return fmt.Errorf("at least one allowed origin must be specified")
	}

	if c.Executor.DefaultStageTimeout <= 0 {
		return fmt.Errorf("default stage timeout must be positive")
	}
	for op, timeout := range c.Executor.OperationTimeouts {
		if timeout <= 0 {
			return fmt.Errorf("timeout for operation %s must be positive", op)
		}
	}
	if c.Executor.RetryAttempts < 1 {
		return fmt.Errorf("retry attempts must be at least 1")
	}
	if c.Executor.Workers < 1 {
		return fmt.Errorf("executor workers must be at least 1")
	}
	if c.Executor.QueueSize < 1 {
		return fmt.Errorf("executor queue size must be at least 1")
	}

	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry sample ratio must be within [0, 1]")
	}

	c.Storage.Driver = strings.ToLower(c.Storage.Driver)
	switch c.Storage.Driver {
	case StorageMemory:
	case StoragePostgres:
		if c.Storage.DatabaseURL == "" {
			return fmt.Errorf("storage driver %s requires a database url", c.Storage.Driver)
		}
	default:
		return fmt.Errorf("unknown storage driver: %s", c.Storage.Driver)
	}

	if c.Archive.Enabled && (c.Archive.Endpoint == "" || c.Archive.Bucket == "") {
		return fmt.Errorf("archive requires an endpoint and a bucket")
	}

	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		c.Logging.Format = "json"
	}

	switch c.Logging.Output {
	case "console", "file", "both":
	default:
		c.Logging.Output = "console"
	}

	if c.Logging.FilePath == "" {
		c.Logging.FilePath = "logs/emprofiler.log"
	}

	return nil
}

// getConfigFilePath returns the path to the config file
func getConfigFilePath() string {
	if path := os.Getenv(ConfigFileEnv); path != "" {
		return path
	}

	// Check for config file in common locations
	locations := []string{
		"config.yaml",
		"configs/config.yaml",
		"../configs/config.yaml",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return "" // No config file found, use env vars only
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Minute,
			IdleTimeout:     60 * time.Second,
			MaxHeaderBytes:  1 << 20, // 1MB
			ShutdownTimeout: 30 * time.Second,
			RequestTimeout:  DefaultRequestTimeout,
		},
		Security: SecurityConfig{
			AllowedOrigins: []string{"http://localhost:8080"},
			EnableCORS:     true,
			MaxBodyBytes:   DefaultMaxBodyBytes,
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     DefaultRateLimit,
				Burst:   DefaultBurstSize,
			},
		},
		Logging: LoggingConfig{
			Level:    DefaultLogLevel,
			Format:   DefaultLogFormat,
			Output:   "console",
			FilePath: "logs/emprofiler.log",
		},
		Paths: PathsConfig{
			DataDir:    DefaultDataDir,
			ExportsDir: DefaultExportsDir,
			LogsDir:    DefaultLogsDir,
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  WebSocketReadBufferSize,
			WriteBufferSize: WebSocketWriteBufferSize,
			PingPeriod:      WebSocketPingPeriod,
			PongWait:        WebSocketPongWait,
		},
		Executor: ExecutorConfig{
			DefaultStageTimeout: DefaultStageTimeout,
			OperationTimeouts:   map[string]time.Duration{},
			RetryAttempts:       1,
			RetryInitialDelay:   500 * time.Millisecond,
			RetryMaxDelay:       10 * time.Second,
			Workers:             DefaultWorkers,
			QueueSize:           DefaultQueueSize,
			SnapshotRetention:   time.Hour,
		},
		Telemetry: TelemetryConfig{
			Environment:    "development",
			EnableTracing:  false,
			EnableMetrics:  true,
			TraceExporter:  "stdout",
			MetricExporter: "prometheus",
			SampleRatio:    1.0,
		},
		Storage: StorageConfig{
			Driver:          StorageMemory,
			MaxOpenConns:    10,
			ConnMaxLifetime: 30 * time.Minute,
			RunRetention:    7 * 24 * time.Hour,
		},
		Archive: ArchiveConfig{
			Bucket: "emprofiler-reports",
			Region: "us-east-1",
			Prefix: "runs",
		},
	}
}
