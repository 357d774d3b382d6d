// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Postgres PostgresConfig `yaml:"postgres"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	LevelDB  LevelDBConfig  `yaml:"leveldb"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Engine   EngineConfig   `yaml:"engine"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string `yaml:"port"`
	ReadTimeout  int    `yaml:"readTimeout"`
	WriteTimeout int    `yaml:"writeTimeout"`
}

// PostgresConfig holds PostgreSQL configuration
type PostgresConfig struct {
	URL string `yaml:"-"`
}

// RabbitMQConfig holds RabbitMQ configuration for the audit sink
type RabbitMQConfig struct {
	URL          string `yaml:"url"`
	Exchange     string `yaml:"exchange"`
	StatusQueue  string `yaml:"statusQueue"`
	LogsQueue    string `yaml:"logsQueue"`
	ExchangeType string `yaml:"exchangeType"`
}

// LevelDBConfig holds LevelDB configuration for the preview cache
type LevelDBConfig struct {
	Path string `yaml:"path"`
}

// GatewayConfig holds the platform gateway the action executor calls
type GatewayConfig struct {
	URL            string `yaml:"url"`
	Token          string `yaml:"-"`
	RequestTimeout int    `yaml:"requestTimeout"` // seconds; bounds one invite call
}

// EngineConfig holds execution engine configuration
type EngineConfig struct {
	MaxConcurrentTasks int `yaml:"maxConcurrentTasks"`
	ShutdownTimeout    int `yaml:"shutdownTimeout"`
	PreviewCacheTTL    int `yaml:"previewCacheTTL"` // seconds
}

// Default configuration values
const (
	DefaultServerPort         = "8080"
	DefaultServerReadTimeout  = 30
	DefaultServerWriteTimeout = 30
	DefaultMaxConcurrentTasks = 16
	DefaultShutdownTimeout    = 30
	DefaultRequestTimeout     = 30
	DefaultPreviewCacheTTL    = 120
	DefaultLevelDBPath        = "./data/leveldb"
	DefaultRabbitMQExchange   = "outreachd"
	DefaultStatusQueue        = "outreachd.status"
	DefaultLogsQueue          = "outreachd.logs"
	DefaultExchangeType       = "direct"
)

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an environment variable as integer or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// Load creates a new configuration from the YAML file, overridden by
// environment variables. Postgres, RabbitMQ and gateway URLs are mandatory
// environment variables so credentials never land in the file.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Check mandatory environment variables
	postgresURL := os.Getenv("OUTREACHD_POSTGRES_URL")
	if postgresURL == "" {
		return nil, fmt.Errorf("OUTREACHD_POSTGRES_URL environment variable is required")
	}

	rabbitmqURL := os.Getenv("OUTREACHD_RABBITMQ_URL")
	if rabbitmqURL == "" {
		return nil, fmt.Errorf("OUTREACHD_RABBITMQ_URL environment variable is required")
	}

	gatewayURL := os.Getenv("OUTREACHD_GATEWAY_URL")
	if gatewayURL == "" {
		gatewayURL = config.Gateway.URL
	}
	if gatewayURL == "" {
		return nil, fmt.Errorf("OUTREACHD_GATEWAY_URL environment variable is required")
	}

	// Override/set configuration with environment variables and defaults
	config.Server = ServerConfig{
		Port:         getEnv("OUTREACHD_SERVER_PORT", DefaultServerPort),
		ReadTimeout:  getEnvInt("OUTREACHD_SERVER_READ_TIMEOUT", DefaultServerReadTimeout),
		WriteTimeout: getEnvInt("OUTREACHD_SERVER_WRITE_TIMEOUT", DefaultServerWriteTimeout),
	}

	config.Postgres = PostgresConfig{
		URL: postgresURL,
	}

	config.RabbitMQ = RabbitMQConfig{
		URL:          rabbitmqURL,
		Exchange:     getEnv("OUTREACHD_RABBITMQ_EXCHANGE", DefaultRabbitMQExchange),
		StatusQueue:  getEnv("OUTREACHD_RABBITMQ_STATUS_QUEUE", DefaultStatusQueue),
		LogsQueue:    getEnv("OUTREACHD_RABBITMQ_LOGS_QUEUE", DefaultLogsQueue),
		ExchangeType: getEnv("OUTREACHD_RABBITMQ_EXCHANGE_TYPE", DefaultExchangeType),
	}

	config.LevelDB = LevelDBConfig{
		Path: getEnv("OUTREACHD_LEVELDB_PATH", DefaultLevelDBPath),
	}

	config.Gateway = GatewayConfig{
		URL:            gatewayURL,
		Token:          os.Getenv("OUTREACHD_GATEWAY_TOKEN"),
		RequestTimeout: getEnvInt("OUTREACHD_GATEWAY_REQUEST_TIMEOUT", DefaultRequestTimeout),
	}

	config.Engine = EngineConfig{
		MaxConcurrentTasks: getEnvInt("OUTREACHD_ENGINE_MAX_CONCURRENT_TASKS", DefaultMaxConcurrentTasks),
		ShutdownTimeout:    getEnvInt("OUTREACHD_ENGINE_SHUTDOWN_TIMEOUT", DefaultShutdownTimeout),
		PreviewCacheTTL:    getEnvInt("OUTREACHD_ENGINE_PREVIEW_CACHE_TTL", DefaultPreviewCacheTTL),
	}

	return &config, nil
}
