package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Snapshot backends
const (
	BackendMemory   = "memory"
	BackendBadger   = "badger"
	BackendDynamoDB = "dynamodb"
)

// ContentAPIConfig configures the pass-through client to the content proxy
type ContentAPIConfig struct {
	BaseURL          string        `yaml:"baseUrl" validate:"required,url"`
	Token            string        `yaml:"token"`
	Timeout          time.Duration `yaml:"timeout" validate:"gt=0"`
	RetryMaxAttempts int           `yaml:"retryMaxAttempts" validate:"min=1,max=10"`
	RetryBaseDelay   time.Duration `yaml:"retryBaseDelay" validate:"gte=0"`
	// BreakerFailureRatio trips the circuit breaker once this share of recent
	// requests failed
	BreakerFailureRatio float64       `yaml:"breakerFailureRatio" validate:"gt=0,lte=1"`
	BreakerOpenDuration time.Duration `yaml:"breakerOpenDuration" validate:"gt=0"`
}

// GraphConfig holds graph construction settings
type GraphConfig struct {
	// FetchConcurrency of zero picks a limit for the runtime environment
	FetchConcurrency int  `yaml:"fetchConcurrency" validate:"min=0,max=64"`
	IncludeTags      bool `yaml:"includeTags"`
	IncludeFolders   bool `yaml:"includeFolders"`
	// RefreshInterval paces the standalone refresh worker
	RefreshInterval time.Duration `yaml:"refreshInterval" validate:"gte=0"`
}

// SnapshotConfig selects and tunes the snapshot store
type SnapshotConfig struct {
	Backend    string        `yaml:"backend" validate:"oneof=memory badger dynamodb"`
	MaxAge     time.Duration `yaml:"maxAge" validate:"gte=0"`
	TTL        time.Duration `yaml:"ttl" validate:"gte=0"`
	BadgerPath string        `yaml:"badgerPath" validate:"required_if=Backend badger"`
	TableName  string        `yaml:"tableName" validate:"required_if=Backend dynamodb"`
}

// AWSConfig holds AWS resource names
type AWSConfig struct {
	Region            string `yaml:"region"`
	EventBusName      string `yaml:"eventBusName"`
	WebSocketEndpoint string `yaml:"webSocketEndpoint" validate:"omitempty,url"`
}

// Features holds feature flags
type Features struct {
	EnableMetrics bool `yaml:"enableMetrics"`
	EnableTracing bool `yaml:"enableTracing"`
	EnableCORS    bool `yaml:"enableCors"`
}

// TracingConfig configures OTLP export
type TracingConfig struct {
	Endpoint   string  `yaml:"endpoint"`
	SampleRate float64 `yaml:"sampleRate" validate:"gte=0,lte=1"`
}

// Config holds all application configuration
type Config struct {
	ServerAddress string `yaml:"serverAddress" validate:"required"`
	Environment   string `yaml:"environment" validate:"oneof=development staging production test"`
	LogLevel      string `yaml:"logLevel" validate:"oneof=debug info warn error"`

	ContentAPI ContentAPIConfig `yaml:"contentApi"`
	Graph      GraphConfig      `yaml:"graph"`
	Snapshot   SnapshotConfig   `yaml:"snapshot"`
	AWS        AWSConfig        `yaml:"aws"`
	Features   Features         `yaml:"features"`
	Tracing    TracingConfig    `yaml:"tracing"`

	// ConfigFile is the YAML overlay the configuration was read from
	ConfigFile string `yaml:"-"`
}

var validate = validator.New()

// LoadConfig builds the configuration from defaults, the optional YAML file
// named by CONFIG_FILE and environment variables, in increasing priority
func LoadConfig() (*Config, error) {
	return LoadFrom(os.Getenv("CONFIG_FILE"))
}

// Load is an alias for LoadConfig
func Load() (*Config, error) {
	return LoadConfig()
}

// LoadFrom is LoadConfig with an explicit overlay path. An empty path skips
// the file.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
		cfg.ConfigFile = path
	}

	cfg.overlayEnvironment()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		ServerAddress: ":8080",
		Environment:   "development",
		LogLevel:      "info",
		ContentAPI: ContentAPIConfig{
			BaseURL:             "http://localhost:3001",
			Timeout:             15 * time.Second,
			RetryMaxAttempts:    3,
			RetryBaseDelay:      200 * time.Millisecond,
			BreakerFailureRatio: 0.6,
			BreakerOpenDuration: 30 * time.Second,
		},
		Graph: GraphConfig{
			IncludeTags:     true,
			RefreshInterval: 15 * time.Minute,
		},
		Snapshot: SnapshotConfig{
			Backend:    BackendMemory,
			MaxAge:     24 * time.Hour,
			TTL:        7 * 24 * time.Hour,
			BadgerPath: "./data/snapshots",
			TableName:  "docgraph-snapshots",
		},
		AWS: AWSConfig{
			Region:       "us-west-2",
			EventBusName: "",
		},
		Features: Features{
			EnableMetrics: true,
			EnableCORS:    true,
		},
		Tracing: TracingConfig{
			Endpoint: "localhost:4317",
		},
	}
}

func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) overlayEnvironment() {
	c.ServerAddress = getEnv("SERVER_ADDRESS", c.ServerAddress)
	c.Environment = getEnv("ENVIRONMENT", c.Environment)
	c.LogLevel = strings.ToLower(getEnv("LOG_LEVEL", c.LogLevel))

	c.ContentAPI.BaseURL = strings.TrimRight(getEnv("CONTENT_API_URL", c.ContentAPI.BaseURL), "/")
	c.ContentAPI.Token = getEnv("CONTENT_API_TOKEN", c.ContentAPI.Token)
	c.ContentAPI.Timeout = getEnvDuration("HTTP_TIMEOUT", c.ContentAPI.Timeout)
	c.ContentAPI.RetryMaxAttempts = getEnvInt("RETRY_MAX_ATTEMPTS", c.ContentAPI.RetryMaxAttempts)

	c.Graph.FetchConcurrency = getEnvInt("FETCH_CONCURRENCY", c.Graph.FetchConcurrency)
	c.Graph.IncludeTags = getEnvBool("ENABLE_TAG_NODES", c.Graph.IncludeTags)
	c.Graph.IncludeFolders = getEnvBool("ENABLE_FOLDER_NODES", c.Graph.IncludeFolders)
	c.Graph.RefreshInterval = getEnvDuration("REFRESH_INTERVAL", c.Graph.RefreshInterval)

	c.Snapshot.Backend = strings.ToLower(getEnv("SNAPSHOT_BACKEND", c.Snapshot.Backend))
	c.Snapshot.MaxAge = getEnvDuration("SNAPSHOT_MAX_AGE", c.Snapshot.MaxAge)
	c.Snapshot.TTL = getEnvDuration("SNAPSHOT_TTL", c.Snapshot.TTL)
	c.Snapshot.BadgerPath = getEnv("BADGER_PATH", c.Snapshot.BadgerPath)
	c.Snapshot.TableName = getEnv("TABLE_NAME", c.Snapshot.TableName)

	c.AWS.Region = getEnv("AWS_REGION", c.AWS.Region)
	c.AWS.EventBusName = getEnv("EVENT_BUS_NAME", c.AWS.EventBusName)
	c.AWS.WebSocketEndpoint = getEnv("WEBSOCKET_ENDPOINT", c.AWS.WebSocketEndpoint)

	c.Features.EnableMetrics = getEnvBool("ENABLE_METRICS", c.Features.EnableMetrics)
	c.Features.EnableTracing = getEnvBool("ENABLE_TRACING", c.Features.EnableTracing)
	c.Features.EnableCORS = getEnvBool("ENABLE_CORS", c.Features.EnableCORS)

	c.Tracing.Endpoint = getEnv("OTLP_ENDPOINT", c.Tracing.Endpoint)
	c.Tracing.SampleRate = getEnvFloat("TRACE_SAMPLE_RATE", c.Tracing.SampleRate)
}

// Validate checks the configuration against its struct constraints
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.IsProduction() && c.Snapshot.Backend == BackendMemory {
		return fmt.Errorf("invalid configuration: memory snapshot backend is not durable in production")
	}
	return nil
}

// IsDevelopment checks if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction checks if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// IsLambda reports whether the process runs inside AWS Lambda
func (c *Config) IsLambda() bool {
	return os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != ""
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat gets a float environment variable with a default value
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s") or plain seconds ("90")
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
