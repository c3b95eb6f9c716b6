package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	SchedulerModeMemory = "memory"
	SchedulerModeAsynq  = "asynq"

	OptionsBackendDatabase = "database"
	OptionsBackendRedis    = "redis"

	ProductSourceDatabase    = "database"
	ProductSourceWooCommerce = "woocommerce"
)

type Config struct {
	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// Kafka
	KafkaBrokers       string
	FeedEventsTopic    string
	CatalogEventsTopic string

	// API Configuration
	APIPort            string
	APIHost            string
	BaseURL            string
	AdminToken         string
	CORSAllowedOrigins []string

	// Feed generation
	FeedDir               string
	FeedStreamingDisabled bool
	FeedsConfigPath       string
	Feeds                 map[string]FeedConfig
	SchedulerMode         string
	OptionsBackend        string
	HeartbeatInterval     time.Duration
	NotifyTimeout         time.Duration
	WorkerConcurrency     int

	// Remote catalog (Graph API)
	GraphAPIURL       string
	GraphAPIVersion   string
	GraphAccessToken  string
	CommercePartnerID string

	// WooCommerce
	ProductSource             string
	WooCommerceURL            string
	WooCommerceConsumerKey    string
	WooCommerceConsumerSecret string

	// S3 mirror of promoted feeds
	S3Bucket     string
	AwsAccessKey string
	AwsSecretKey string
	AwsRegion    string

	// Environment
	Env      string
	LogLevel string
}

// FeedConfig holds per feed type overrides read from the feeds YAML file.
type FeedConfig struct {
	Enabled   *bool         `yaml:"enabled"`
	BatchSize int           `yaml:"batch_size"`
	Interval  time.Duration `yaml:"interval"`
}

type feedsFile struct {
	Feeds map[string]FeedConfig `yaml:"feeds"`
}

func Load() (*Config, error) {
	// Load .env file
	godotenv.Load()

	cfg := &Config{
		DatabaseURL:               getEnv("DATABASE_URL", "sqlite://feedsync.db"),
		RedisURL:                  getEnv("REDIS_URL", "redis://localhost:6379"),
		KafkaBrokers:              getEnv("KAFKA_BROKERS", ""),
		FeedEventsTopic:           getEnv("FEED_EVENTS_TOPIC", "feed-events"),
		CatalogEventsTopic:        getEnv("CATALOG_EVENTS_TOPIC", "catalog-events"),
		APIPort:                   getEnv("API_PORT", "8080"),
		APIHost:                   getEnv("API_HOST", "0.0.0.0"),
		BaseURL:                   getEnv("BASE_URL", "http://localhost:8080"),
		AdminToken:                getEnv("ADMIN_TOKEN", ""),
		CORSAllowedOrigins:        getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		FeedDir:                   getEnv("FEED_DIR", "./uploads/feedsync"),
		FeedStreamingDisabled:     getEnvAsBool("FEED_STREAMING_DISABLED", false),
		FeedsConfigPath:           getEnv("FEEDS_CONFIG", ""),
		SchedulerMode:             getEnv("SCHEDULER_MODE", SchedulerModeMemory),
		OptionsBackend:            getEnv("OPTIONS_BACKEND", OptionsBackendDatabase),
		HeartbeatInterval:         getEnvAsDuration("HEARTBEAT_INTERVAL", time.Hour),
		NotifyTimeout:             getEnvAsDuration("NOTIFY_TIMEOUT", 30*time.Second),
		WorkerConcurrency:         getEnvAsInt("WORKER_CONCURRENCY", 4),
		GraphAPIURL:               getEnv("GRAPH_API_URL", "https://graph.facebook.com"),
		GraphAPIVersion:           getEnv("GRAPH_API_VERSION", "v21.0"),
		GraphAccessToken:          getEnv("GRAPH_ACCESS_TOKEN", ""),
		CommercePartnerID:         getEnv("COMMERCE_PARTNER_INTEGRATION_ID", ""),
		ProductSource:             getEnv("PRODUCT_SOURCE", ProductSourceDatabase),
		WooCommerceURL:            getEnv("WOOCOMMERCE_URL", ""),
		WooCommerceConsumerKey:    getEnv("WOOCOMMERCE_CONSUMER_KEY", ""),
		WooCommerceConsumerSecret: getEnv("WOOCOMMERCE_CONSUMER_SECRET", ""),
		S3Bucket:                  getEnv("S3_BUCKET", ""),
		AwsAccessKey:              getEnv("AWS_ACCESS_KEY_ID", ""),
		AwsSecretKey:              getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AwsRegion:                 getEnv("AWS_REGION", "us-east-1"),
		Env:                       getEnv("ENV", "development"),
		LogLevel:                  getEnv("LOG_LEVEL", "info"),
		Feeds:                     map[string]FeedConfig{},
	}

	if cfg.FeedsConfigPath != "" {
		feeds, err := loadFeedsFile(cfg.FeedsConfigPath)
		if err != nil {
			return nil, err
		}
		cfg.Feeds = feeds
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Feed returns the overrides for the named feed type; the zero value when none.
func (c *Config) Feed(name string) FeedConfig {
	if c.Feeds == nil {
		return FeedConfig{}
	}
	return c.Feeds[name]
}

// IsEnabled reports whether a feed is enabled, defaulting to true.
func (f FeedConfig) IsEnabled() bool {
	return f.Enabled == nil || *f.Enabled
}

func (c *Config) validate() error {
	switch c.SchedulerMode {
	case SchedulerModeMemory, SchedulerModeAsynq:
	default:
		return fmt.Errorf("invalid SCHEDULER_MODE %q", c.SchedulerMode)
	}

	switch c.OptionsBackend {
	case OptionsBackendDatabase, OptionsBackendRedis:
	default:
		return fmt.Errorf("invalid OPTIONS_BACKEND %q", c.OptionsBackend)
	}

	switch c.ProductSource {
	case ProductSourceDatabase:
	case ProductSourceWooCommerce:
		if c.WooCommerceURL == "" {
			return fmt.Errorf("WOOCOMMERCE_URL is required when PRODUCT_SOURCE=woocommerce")
		}
	default:
		return fmt.Errorf("invalid PRODUCT_SOURCE %q", c.ProductSource)
	}

	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be positive, got %d", c.WorkerConcurrency)
	}

	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	return nil
}

func loadFeedsFile(path string) (map[string]FeedConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read feeds config %s: %w", path, err)
	}

	var file feedsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse feeds config %s: %w", path, err)
	}

	if file.Feeds == nil {
		file.Feeds = map[string]FeedConfig{}
	}
	return file.Feeds, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		// bare integers are seconds
		if secs := getEnvAsInt(key, -1); secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}
