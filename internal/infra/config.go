package infra

import (
	"errors"
	"fmt"
	"strings"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Service names accepted in SERVICES.
const (
	ServiceHTTP   = "http"
	ServiceWorker = "worker"
	ServiceReaper = "reaper"
)

// Store drivers accepted in STORE_DRIVER.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Archive sinks accepted in ARCHIVE_SINK.
const (
	SinkNone       = "none"
	SinkFilesystem = "filesystem"
	SinkMinIO      = "minio"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv   string `env:"APP_ENV"  envDefault:"development"`
	Port     string `env:"PORT"     envDefault:"8080"`
	Services string `env:"SERVICES" envDefault:"http"`

	HTTPReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT"  envDefault:"15s"`
	HTTPWriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"60s"`
	HTTPIdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT"  envDefault:"60s"`
	RateLimitPerMin  int           `env:"RATE_LIMIT_PER_MINUTE" envDefault:"30"`
	MaxUploadBytes   int64         `env:"MAX_UPLOAD_BYTES"      envDefault:"5242880"`
	CORSOrigins      []string      `env:"CORS_ALLOWED_ORIGINS"  envSeparator:","`
	DefaultLocale    string        `env:"DEFAULT_LOCALE"        envDefault:"ko"`

	StoreDriver string      `env:"STORE_DRIVER" envDefault:"memory"`
	DatabaseURL string      `env:"DATABASE_URL"`
	Redis       RedisConfig `envPrefix:"REDIS_"`

	ArchiveSink string      `env:"ARCHIVE_SINK" envDefault:"none"`
	StoragePath string      `env:"STORAGE_PATH" envDefault:"./storage"`
	MinIO       MinIOConfig `envPrefix:"MINIO_"`

	Generation GenerationConfig
	Bulk       BulkConfig
}

// RedisConfig holds the go-redis connection settings.
type RedisConfig struct {
	Addr      string `env:"ADDR"       envDefault:"localhost:6379"`
	Password  string `env:"PASSWORD"`
	DB        int    `env:"DB"         envDefault:"0"`
	KeyPrefix string `env:"KEY_PREFIX" envDefault:"talkstudio:"`
}

// MinIOConfig holds the S3-compatible archive bucket settings.
type MinIOConfig struct {
	Endpoint  string `env:"ENDPOINT"`
	AccessKey string `env:"ACCESS_KEY"`
	SecretKey string `env:"SECRET_KEY"`
	Bucket    string `env:"BUCKET"  envDefault:"talkstudio-archives"`
	Region    string `env:"REGION"  envDefault:"us-east-1"`
	UseSSL    bool   `env:"USE_SSL" envDefault:"false"`
}

// GenerationConfig configures the provider chain.
type GenerationConfig struct {
	ProviderOrder  []string      `env:"PROVIDER_ORDER"              envDefault:"upstage,openai" envSeparator:","`
	Timeout        time.Duration `env:"GENERATION_TIMEOUT"          envDefault:"30s"`
	Temperature    float64       `env:"GENERATION_TEMPERATURE"      envDefault:"0.7"`
	MaxTokens      int           `env:"GENERATION_MAX_TOKENS"       envDefault:"2000"`
	RatePerSecond  float64       `env:"GENERATION_RATE_PER_SECOND"  envDefault:"5"`
	AllowSynthetic bool          `env:"GENERATION_ALLOW_SYNTHETIC"  envDefault:"false"`

	UpstageAPIKey  string `env:"UPSTAGE_API_KEY"`
	UpstageModel   string `env:"UPSTAGE_MODEL"    envDefault:"solar-pro"`
	UpstageBaseURL string `env:"UPSTAGE_BASE_URL" envDefault:"https://api.upstage.ai/v1/solar"`

	OpenAIAPIKey  string `env:"OPENAI_API_KEY"`
	OpenAIModel   string `env:"OPENAI_MODEL"    envDefault:"gpt-4o-mini"`
	OpenAIBaseURL string `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com/v1"`
	OpenAIOrg     string `env:"OPENAI_ORG"`

	GeminiAPIKey  string `env:"GEMINI_API_KEY"`
	GeminiModel   string `env:"GEMINI_MODEL"    envDefault:"gemini-1.5-flash"`
	GeminiBaseURL string `env:"GEMINI_BASE_URL" envDefault:"https://generativelanguage.googleapis.com/v1beta"`
}

// BulkConfig configures batching, retention and background loops.
type BulkConfig struct {
	BatchSize      int           `env:"BULK_BATCH_SIZE"      envDefault:"10"`
	BatchDelay     time.Duration `env:"BULK_BATCH_DELAY"     envDefault:"1s"`
	Retention      time.Duration `env:"JOB_RETENTION"        envDefault:"24h"`
	PollInterval   time.Duration `env:"WORKER_POLL_INTERVAL" envDefault:"2s"`
	ClaimLease     time.Duration `env:"WORKER_CLAIM_LEASE"   envDefault:"5m"`
	ReaperInterval time.Duration `env:"REAPER_INTERVAL"      envDefault:"10m"`
}

// LoadConfig reads .env files when present, then parses the environment.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load(".env.local", ".env")
	return ParseConfig()
}

// ParseConfig parses the current environment without touching .env files.
func ParseConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.Sanitize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Sanitize applies guardrails to values loaded from env.
func (c *Config) Sanitize() {
	c.AppEnv = strings.ToLower(strings.TrimSpace(c.AppEnv))
	c.StoreDriver = strings.ToLower(strings.TrimSpace(c.StoreDriver))
	c.ArchiveSink = strings.ToLower(strings.TrimSpace(c.ArchiveSink))
	if c.RateLimitPerMin <= 0 {
		c.RateLimitPerMin = 30
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = 5 << 20
	}
	if c.Bulk.BatchSize <= 0 {
		c.Bulk.BatchSize = 1
	}
	if c.Bulk.BatchDelay < 0 {
		c.Bulk.BatchDelay = 0
	}
	if c.Bulk.Retention <= 0 {
		c.Bulk.Retention = 24 * time.Hour
	}
	if c.Bulk.PollInterval <= 0 {
		c.Bulk.PollInterval = 2 * time.Second
	}
	if c.Bulk.ClaimLease <= 0 {
		c.Bulk.ClaimLease = 5 * time.Minute
	}
	if c.Bulk.ReaperInterval <= 0 {
		c.Bulk.ReaperInterval = 10 * time.Minute
	}
	if c.Generation.Timeout <= 0 {
		c.Generation.Timeout = 30 * time.Second
	}
	order := c.Generation.ProviderOrder[:0]
	for _, name := range c.Generation.ProviderOrder {
		if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
			order = append(order, name)
		}
	}
	c.Generation.ProviderOrder = order
}

// Validate reports configuration that cannot work.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreMemory, StoreRedis:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.StoreDriver)
	}
	switch c.ArchiveSink {
	case SinkNone, SinkFilesystem:
	case SinkMinIO:
		if c.MinIO.Endpoint == "" {
			return errors.New("MINIO_ENDPOINT is required when ARCHIVE_SINK=minio")
		}
	default:
		return fmt.Errorf("unsupported ARCHIVE_SINK %q", c.ArchiveSink)
	}
	if _, err := c.EnabledServices(); err != nil {
		return err
	}
	return nil
}

// EnabledServices parses SERVICES into a set.
func (c *Config) EnabledServices() (map[string]bool, error) {
	out := make(map[string]bool)
	for _, part := range strings.Split(c.Services, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		if name == "" {
			continue
		}
		switch name {
		case ServiceHTTP, ServiceWorker, ServiceReaper:
			out[name] = true
		default:
			return nil, fmt.Errorf("unknown service %q in SERVICES", name)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("SERVICES must name at least one service")
	}
	return out, nil
}

// ServiceEnabled reports whether name is listed in SERVICES.
func (c *Config) ServiceEnabled(name string) bool {
	services, err := c.EnabledServices()
	if err != nil {
		return false
	}
	return services[name]
}

// APIPlan lists the loops cmd/api runs.
type APIPlan struct {
	HTTP   bool
	Worker bool
	Reaper bool
}

// APIPlan follows SERVICES, except that a memory store lives in this
// process only, so its jobs always run next to the API.
func (c *Config) APIPlan() APIPlan {
	inProcess := c.StoreDriver == StoreMemory
	return APIPlan{
		HTTP:   c.ServiceEnabled(ServiceHTTP),
		Worker: c.ServiceEnabled(ServiceWorker) || inProcess,
		Reaper: c.ServiceEnabled(ServiceReaper) || inProcess,
	}
}

// IsDevelopment reports whether APP_ENV selects development defaults.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}
