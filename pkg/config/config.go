package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"convometrics-server/pkg/errors"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config represents the complete application configuration
type Config struct {
	HTTP      HTTPConfig      `json:"http"`
	Logging   LoggingConfig   `json:"logging"`
	Analytics AnalyticsConfig `json:"analytics"`
	Lexicon   LexiconConfig   `json:"lexicon"`
	Messaging MessagingConfig `json:"messaging"`
	Redis     RedisConfig     `json:"redis"`
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	Port          int           `json:"port" env:"HTTP_PORT" default:"8080"`
	Enabled       bool          `json:"enabled" env:"HTTP_ENABLED" default:"true"`
	EnableMetrics bool          `json:"enable_metrics" env:"HTTP_ENABLE_METRICS" default:"true"`
	EnableAPI     bool          `json:"enable_api" env:"HTTP_ENABLE_API" default:"true"`
	ReadTimeout   time.Duration `json:"read_timeout" env:"HTTP_READ_TIMEOUT" default:"10s"`
	WriteTimeout  time.Duration `json:"write_timeout" env:"HTTP_WRITE_TIMEOUT" default:"30s"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `json:"level" env:"LOG_LEVEL" default:"info"`
	Format     string `json:"format" env:"LOG_FORMAT" default:"json"`
	OutputFile string `json:"output_file" env:"LOG_OUTPUT_FILE"`
}

// AnalyticsConfig holds the metrics engine configuration
type AnalyticsConfig struct {
	// Sentiment label thresholds. Scores above PositiveThreshold are
	// labeled positive, below NegativeThreshold negative, else neutral.
	PositiveThreshold float64 `json:"positive_threshold" env:"SENTIMENT_POSITIVE_THRESHOLD" default:"0.05"`
	NegativeThreshold float64 `json:"negative_threshold" env:"SENTIMENT_NEGATIVE_THRESHOLD" default:"-0.05"`

	// Engagement contribution cap used when two messages share a timestamp
	// and no prior finite contribution exists.
	EngagementCeiling float64 `json:"engagement_ceiling" env:"ENGAGEMENT_CEILING" default:"1000"`

	// Sliding window retention. Zero keeps the whole conversation.
	WindowSize int `json:"window_size" env:"CONVERSATION_WINDOW_SIZE" default:"0"`

	// Idle eviction for conversations with no ingest activity.
	MaxIdleTime     time.Duration `json:"max_idle_time" env:"CONVERSATION_MAX_IDLE_TIME" default:"24h"`
	CleanupInterval time.Duration `json:"cleanup_interval" env:"CONVERSATION_CLEANUP_INTERVAL" default:"5m"`

	// Snapshot cadence: publish a snapshot every N ingested messages.
	// Zero disables automatic snapshot publication.
	SnapshotEvery int `json:"snapshot_every" env:"SNAPSHOT_EVERY" default:"1"`
}

// LexiconConfig holds lexicon provider configuration
type LexiconConfig struct {
	// Path to a JSON word->score table. Empty means the built-in
	// lexicon is used.
	Path string `json:"path" env:"LEXICON_PATH"`
}

// MessagingConfig holds AMQP configuration
type MessagingConfig struct {
	AMQPUrl        string `json:"amqp_url" env:"AMQP_URL"`
	AMQPQueueName  string `json:"amqp_queue_name" env:"AMQP_QUEUE_NAME"`
	AMQPExchange   string `json:"amqp_exchange" env:"AMQP_EXCHANGE"`
	AMQPRoutingKey string `json:"amqp_routing_key" env:"AMQP_ROUTING_KEY"`
}

// RedisConfig holds optional Redis snapshot store configuration
type RedisConfig struct {
	Enabled      bool          `json:"enabled" env:"REDIS_ENABLED" default:"false"`
	Address      string        `json:"address" env:"REDIS_ADDRESS" default:"localhost:6379"`
	Password     string        `json:"password" env:"REDIS_PASSWORD"`
	Database     int           `json:"database" env:"REDIS_DATABASE" default:"0"`
	PoolSize     int           `json:"pool_size" env:"REDIS_POOL_SIZE" default:"10"`
	DialTimeout  time.Duration `json:"dial_timeout" env:"REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `json:"read_timeout" env:"REDIS_READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `json:"write_timeout" env:"REDIS_WRITE_TIMEOUT" default:"3s"`
	SnapshotTTL  time.Duration `json:"snapshot_ttl" env:"REDIS_SNAPSHOT_TTL" default:"24h"`
	KeyPrefix    string        `json:"key_prefix" env:"REDIS_KEY_PREFIX" default:"convometrics:snapshot:"`
}

// Load loads the configuration from a .env file and environment variables
func Load(logger *logrus.Logger) (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		logger.WithError(err).Warn("Failed to get current working directory")
		wd = "unknown"
	}

	possibleEnvFiles := []string{
		".env",
		"../.env",
		filepath.Join(wd, ".env"),
	}

	var loadedFrom string
	for _, envFile := range possibleEnvFiles {
		if _, statErr := os.Stat(envFile); statErr == nil {
			absPath, _ := filepath.Abs(envFile)
			logger.WithField("path", absPath).Debug("Attempting to load .env file")

			if loadErr := godotenv.Load(envFile); loadErr == nil {
				loadedFrom = absPath
				break
			}
		}
	}

	if loadedFrom != "" {
		logger.WithFields(logrus.Fields{
			"working_dir": wd,
			"path":        loadedFrom,
		}).Info("Successfully loaded .env file")
	} else {
		logger.WithField("working_dir", wd).Debug("No .env file found, using environment variables only")
	}

	config := &Config{}

	if err := loadHTTPConfig(logger, &config.HTTP); err != nil {
		return nil, errors.Wrap(err, "failed to load HTTP configuration")
	}

	if err := loadLoggingConfig(logger, &config.Logging); err != nil {
		return nil, errors.Wrap(err, "failed to load logging configuration")
	}

	if err := loadAnalyticsConfig(logger, &config.Analytics); err != nil {
		return nil, errors.Wrap(err, "failed to load analytics configuration")
	}

	if err := loadLexiconConfig(logger, &config.Lexicon); err != nil {
		return nil, errors.Wrap(err, "failed to load lexicon configuration")
	}

	if err := loadMessagingConfig(logger, &config.Messaging); err != nil {
		return nil, errors.Wrap(err, "failed to load messaging configuration")
	}

	if err := loadRedisConfig(logger, &config.Redis); err != nil {
		return nil, errors.Wrap(err, "failed to load redis configuration")
	}

	if err := config.Validate(logger); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks the configuration for consistency
func (c *Config) Validate(logger *logrus.Logger) error {
	if c.Analytics.PositiveThreshold < c.Analytics.NegativeThreshold {
		return errors.NewInvalidInput("sentiment thresholds inverted", map[string]interface{}{
			"positive_threshold": c.Analytics.PositiveThreshold,
			"negative_threshold": c.Analytics.NegativeThreshold,
		})
	}

	if c.Analytics.EngagementCeiling <= 0 {
		return errors.NewInvalidInput("engagement ceiling must be positive", map[string]interface{}{
			"engagement_ceiling": c.Analytics.EngagementCeiling,
		})
	}

	if c.Analytics.WindowSize < 0 {
		return errors.NewInvalidInput("window size must be non-negative", map[string]interface{}{
			"window_size": c.Analytics.WindowSize,
		})
	}

	if c.Analytics.SnapshotEvery < 0 {
		return errors.NewInvalidInput("snapshot cadence must be non-negative", map[string]interface{}{
			"snapshot_every": c.Analytics.SnapshotEvery,
		})
	}

	if (c.Messaging.AMQPUrl != "" && c.Messaging.AMQPQueueName == "") ||
		(c.Messaging.AMQPUrl == "" && c.Messaging.AMQPQueueName != "") {
		logger.Warn("Incomplete AMQP configuration: both AMQP_URL and AMQP_QUEUE_NAME must be provided")
	}

	return nil
}

func loadHTTPConfig(logger *logrus.Logger, config *HTTPConfig) error {
	httpPortStr := getEnv("HTTP_PORT", "8080")
	httpPort, err := strconv.Atoi(httpPortStr)
	if err != nil || httpPort < 1 || httpPort > 65535 {
		logger.Warn("Invalid HTTP_PORT value, using default: 8080")
		config.Port = 8080
	} else {
		config.Port = httpPort
	}

	config.Enabled = getEnvBool("HTTP_ENABLED", true)
	config.EnableMetrics = getEnvBool("HTTP_ENABLE_METRICS", true)
	config.EnableAPI = getEnvBool("HTTP_ENABLE_API", true)
	config.ReadTimeout = getEnvDuration("HTTP_READ_TIMEOUT", 10*time.Second)
	config.WriteTimeout = getEnvDuration("HTTP_WRITE_TIMEOUT", 30*time.Second)

	return nil
}

func loadLoggingConfig(logger *logrus.Logger, config *LoggingConfig) error {
	config.Level = getEnv("LOG_LEVEL", "info")

	if _, err := logrus.ParseLevel(config.Level); err != nil {
		logger.Warnf("Invalid LOG_LEVEL '%s', defaulting to 'info'", config.Level)
		config.Level = "info"
	}

	config.Format = getEnv("LOG_FORMAT", "json")
	if config.Format != "json" && config.Format != "text" {
		logger.Warn("Invalid LOG_FORMAT, must be 'json' or 'text', defaulting to 'json'")
		config.Format = "json"
	}

	config.OutputFile = getEnv("LOG_OUTPUT_FILE", "")

	return nil
}

func loadAnalyticsConfig(logger *logrus.Logger, config *AnalyticsConfig) error {
	config.PositiveThreshold = getEnvFloat("SENTIMENT_POSITIVE_THRESHOLD", 0.05)
	config.NegativeThreshold = getEnvFloat("SENTIMENT_NEGATIVE_THRESHOLD", -0.05)
	config.EngagementCeiling = getEnvFloat("ENGAGEMENT_CEILING", 1000)
	config.WindowSize = getEnvInt("CONVERSATION_WINDOW_SIZE", 0)
	config.MaxIdleTime = getEnvDuration("CONVERSATION_MAX_IDLE_TIME", 24*time.Hour)
	config.CleanupInterval = getEnvDuration("CONVERSATION_CLEANUP_INTERVAL", 5*time.Minute)
	config.SnapshotEvery = getEnvInt("SNAPSHOT_EVERY", 1)

	return nil
}

func loadLexiconConfig(logger *logrus.Logger, config *LexiconConfig) error {
	config.Path = getEnv("LEXICON_PATH", "")

	if config.Path != "" {
		if _, err := os.Stat(config.Path); err != nil {
			logger.WithField("path", config.Path).Warn("Lexicon file not accessible at load time")
		}
	}

	return nil
}

func loadMessagingConfig(logger *logrus.Logger, config *MessagingConfig) error {
	config.AMQPUrl = getEnv("AMQP_URL", "")
	config.AMQPQueueName = getEnv("AMQP_QUEUE_NAME", "")
	config.AMQPExchange = getEnv("AMQP_EXCHANGE", "")
	config.AMQPRoutingKey = getEnv("AMQP_ROUTING_KEY", "")

	return nil
}

func loadRedisConfig(logger *logrus.Logger, config *RedisConfig) error {
	config.Enabled = getEnvBool("REDIS_ENABLED", false)
	config.Address = getEnv("REDIS_ADDRESS", "localhost:6379")
	config.Password = getEnv("REDIS_PASSWORD", "")
	config.Database = getEnvInt("REDIS_DATABASE", 0)
	config.PoolSize = getEnvInt("REDIS_POOL_SIZE", 10)
	config.DialTimeout = getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second)
	config.ReadTimeout = getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second)
	config.WriteTimeout = getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second)
	config.SnapshotTTL = getEnvDuration("REDIS_SNAPSHOT_TTL", 24*time.Hour)
	config.KeyPrefix = getEnv("REDIS_KEY_PREFIX", "convometrics:snapshot:")

	return nil
}

// Helper function to get an environment variable with a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// Helper function to get a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	switch strings.ToLower(value) {
	case "true", "yes", "1", "on":
		return true
	case "false", "no", "0", "off":
		return false
	default:
		return defaultValue
	}
}

// Helper function to get an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intValue
}

// Helper function to get a duration environment variable with a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}

	return duration
}

// getEnvFloat retrieves an environment variable and converts it to float64
func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}

	return floatValue
}
