package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Queue     QueueConfig
	Storage   StorageConfig
	Platform  PlatformConfig
	Scheduler SchedulerConfig
	Broadcast BroadcastConfig
	Logging   LoggingConfig
	Metrics   MetricsConfig
	Tracing   TracingConfig
}

// ServerConfig holds the operator API server configuration
type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	JWTSecret       string
	APIKey          string
	RateLimitRPS    int
	RateLimitBurst  int
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	TTL      time.Duration
}

// QueueConfig holds message queue configuration
type QueueConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Vhost    string
}

// StorageConfig holds object storage configuration for log archives
type StorageConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	Region          string
	UseSSL          bool
}

// PlatformConfig holds the external live-broadcast API configuration
type PlatformConfig struct {
	BaseURL          string
	APIKey           string
	Timeout          time.Duration
	DefaultChannelID string
}

// SchedulerConfig holds scheduler loop configuration
type SchedulerConfig struct {
	TickInterval time.Duration
}

// BroadcastConfig holds broadcast process configuration
type BroadcastConfig struct {
	FFmpegPath      string
	MediaDir        string
	IngestBaseURL   string
	StopGracePeriod time.Duration
	CreateRetries   int
	RetryBackoff    time.Duration
	RetryBackoffCap time.Duration
	LogTailBytes    int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// MetricsConfig holds metrics server configuration
type MetricsConfig struct {
	Port int
}

// TracingConfig holds tracing configuration
type TracingConfig struct {
	Enabled        bool
	ServiceName    string
	JaegerEndpoint string
}

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	// Set defaults
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.readTimeout", "30s")
	viper.SetDefault("server.writeTimeout", "30s")
	viper.SetDefault("server.shutdownTimeout", "10s")
	viper.SetDefault("server.rateLimitRPS", 20)
	viper.SetDefault("server.rateLimitBurst", 40)

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.dbname", "streambro")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.maxConns", 25)
	viper.SetDefault("database.minConns", 5)
	viper.SetDefault("database.maxConnLifetime", "1h")
	viper.SetDefault("database.maxConnIdleTime", "30m")
	viper.SetDefault("database.connectTimeout", "10s")

	// Redis defaults
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.ttl", "24h")

	// Queue defaults
	viper.SetDefault("queue.host", "localhost")
	viper.SetDefault("queue.port", 5672)
	viper.SetDefault("queue.user", "guest")
	viper.SetDefault("queue.password", "guest")
	viper.SetDefault("queue.vhost", "/")

	// Storage defaults
	viper.SetDefault("storage.endpoint", "localhost:9000")
	viper.SetDefault("storage.accessKeyID", "minioadmin")
	viper.SetDefault("storage.secretAccessKey", "minioadmin")
	viper.SetDefault("storage.bucketName", "broadcast-logs")
	viper.SetDefault("storage.region", "us-east-1")
	viper.SetDefault("storage.useSSL", false)

	// Platform defaults
	viper.SetDefault("platform.baseURL", "http://localhost:9090")
	viper.SetDefault("platform.apiKey", "")
	viper.SetDefault("platform.timeout", "30s")
	viper.SetDefault("platform.defaultChannelID", "")

	// Scheduler defaults. One-minute ticks match the "starts within a
	// minute" expectation users have of a scheduled broadcast.
	viper.SetDefault("scheduler.tickInterval", "60s")

	// Broadcast defaults
	viper.SetDefault("broadcast.ffmpegPath", "ffmpeg")
	viper.SetDefault("broadcast.mediaDir", "./media")
	viper.SetDefault("broadcast.ingestBaseURL", "rtmp://a.rtmp.youtube.com/live2")
	viper.SetDefault("broadcast.stopGracePeriod", "10s")
	viper.SetDefault("broadcast.createRetries", 3)
	viper.SetDefault("broadcast.retryBackoff", "2s")
	viper.SetDefault("broadcast.retryBackoffCap", "30s")
	viper.SetDefault("broadcast.logTailBytes", 65536)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output", "stdout")

	// Metrics defaults
	viper.SetDefault("metrics.port", 9100)

	// Tracing defaults
	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.serviceName", "broadcast-scheduler")
	viper.SetDefault("tracing.jaegerEndpoint", "http://localhost:14268/api/traces")
}
