package config

import "time"

// Application constants
const (
	// Application Info
	AppName    = "EM Profiler"
	AppVersion = "1.0.0"

	// EnvPrefix namespaces every environment variable, e.g. EMP_SERVER_PORT
	EnvPrefix = "EMP"
	// ConfigFileEnv names an explicit YAML config file
	ConfigFileEnv = "EMP_CONFIG_FILE"

	// Storage drivers
	StorageMemory   = "memory"
	StoragePostgres = "postgres"

	// Execution
	DefaultStageTimeout   = 5 * time.Minute
	DefaultRequestTimeout = 10 * time.Minute
	DefaultWorkers        = 4
	DefaultQueueSize      = 100

	// Rate Limiting
	DefaultRateLimit    = 100 // requests per second
	DefaultBurstSize    = 50
	DefaultMaxBodyBytes = 1 << 20

	// WebSocket
	WebSocketReadBufferSize  = 1024
	WebSocketWriteBufferSize = 1024
	WebSocketPingPeriod      = 30 * time.Second
	WebSocketPongWait        = 60 * time.Second

	// File Paths (relative to the base directory)
	DefaultDataDir    = "data"
	DefaultExportsDir = "data/exports"
	DefaultLogsDir    = "logs"

	// Log Settings
	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// API endpoints
const (
	APIBasePath       = "/api"
	HealthEndpoint    = "/healthz"
	MetricsEndpoint   = "/metrics"
	WebSocketEndpoint = "/ws"
)
