package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/defnot001/biomebot/core/db"
)

type Config struct {
	OTel     OTelConfig
	GitHub   GitHubConfig
	Identity IdentityConfig
	Routing  RoutingConfig
	Dedup    DedupConfig
	Dispatch DispatchConfig
	Discord  DiscordConfig
	Redis    RedisConfig
	Pipeline PipelineConfig
	Env      string
	Port     string
	NodeID   int64
	DB       db.Config
}

type OTelConfig struct {
	Endpoint       string
	Headers        string
	ServiceName    string
	ServiceVersion string
	SampleRatio    float64
}

type GitHubConfig struct {
	WebhookSecret string
}

// IdentityConfig holds the login overrides used by the classifier. Entries from the
// environment and from the identity file are merged.
type IdentityConfig struct {
	File  string
	Allow []string `yaml:"allow"`
	Deny  []string `yaml:"deny"`
}

type RoutingConfig struct {
	ActivityChannelID       string
	GoodFirstIssueChannelID string
	TargetLabel             string
}

type DedupBackend string

const (
	DedupBackendMemory   DedupBackend = "memory"
	DedupBackendRedis    DedupBackend = "redis"
	DedupBackendPostgres DedupBackend = "postgres"
)

type DedupConfig struct {
	Backend         DedupBackend
	Window          time.Duration
	Capacity        int
	JanitorInterval time.Duration
}

type DispatchConfig struct {
	MaxRetries  int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

type DiscordConfig struct {
	BotToken string
}

type RedisConfig struct {
	URL          string
	DLQStream    string
	DLQMaxLength int64
}

type PipelineConfig struct {
	Workers int
}

// Load loads configuration from environment variables.
// In development, it loads from .env first; variables already set win.
func Load() (Config, error) {
	if getEnv("BIOMEBOT_ENV", "development") == "development" {
		_ = godotenv.Load(".env")
	}

	cfg := Config{
		Env:    getEnv("BIOMEBOT_ENV", "development"),
		Port:   getEnv("PORT", "8080"),
		NodeID: int64(getEnvInt("NODE_ID", 1)),
		DB: db.Config{
			DSN:      getEnv("DATABASE_URL", ""),
			MaxConns: getEnvInt32("DB_MAX_CONNS", 4),
			MinConns: getEnvInt32("DB_MIN_CONNS", 1),

			AutoMigrate: getEnvBool("DB_AUTO_MIGRATE", true),
		},
		OTel: OTelConfig{
			Endpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Headers:        getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "biomebot"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
			SampleRatio:    getEnvFloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
		GitHub: GitHubConfig{
			WebhookSecret: getEnv("GITHUB_WEBHOOK_SECRET", ""),
		},
		Identity: IdentityConfig{
			File:  getEnv("IDENTITY_FILE", ""),
			Allow: getEnvList("HUMAN_ALLOW_LIST"),
			Deny:  getEnvList("AUTOMATION_DENY_LIST"),
		},
		Routing: RoutingConfig{
			ActivityChannelID:       getEnv("ACTIVITY_CHANNEL_ID", ""),
			GoodFirstIssueChannelID: getEnv("GOOD_FIRST_ISSUE_CHANNEL_ID", ""),
			TargetLabel:             getEnv("TARGET_LABEL", "good first issue"),
		},
		Dedup: DedupConfig{
			Backend:         DedupBackend(strings.ToLower(getEnv("DEDUP_BACKEND", string(DedupBackendMemory)))),
			Window:          getEnvDuration("DEDUP_RETENTION_WINDOW", 24*time.Hour),
			Capacity:        getEnvInt("DEDUP_CAPACITY", 10000),
			JanitorInterval: getEnvDuration("DEDUP_JANITOR_INTERVAL", 10*time.Minute),
		},
		Dispatch: DispatchConfig{
			MaxRetries:  getEnvInt("DISPATCH_MAX_RETRIES", 4),
			BackoffBase: getEnvDuration("DISPATCH_BACKOFF_BASE", 500*time.Millisecond),
			BackoffMax:  getEnvDuration("DISPATCH_BACKOFF_MAX", 30*time.Second),
		},
		Discord: DiscordConfig{
			BotToken: getEnv("DISCORD_BOT_TOKEN", ""),
		},
		Redis: RedisConfig{
			URL:          getEnv("REDIS_URL", ""),
			DLQStream:    getEnv("REDIS_DLQ_STREAM", "biomebot_dispatch_dlq"),
			DLQMaxLength: int64(getEnvInt("REDIS_DLQ_MAX_LENGTH", 10000)),
		},
		Pipeline: PipelineConfig{
			Workers: getEnvInt("PIPELINE_WORKERS", 16),
		},
	}

	if cfg.Identity.File != "" {
		if err := cfg.Identity.loadFile(); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate reports configuration that would make the service unusable.
func (c Config) Validate() error {
	if c.GitHub.WebhookSecret == "" {
		return errors.New("GITHUB_WEBHOOK_SECRET is required")
	}

	switch c.Dedup.Backend {
	case DedupBackendMemory:
	case DedupBackendRedis:
		if !c.Redis.Enabled() {
			return errors.New("REDIS_URL is required when DEDUP_BACKEND=redis")
		}
	case DedupBackendPostgres:
		if !c.DB.Enabled() {
			return errors.New("DATABASE_URL is required when DEDUP_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("unknown DEDUP_BACKEND %q", c.Dedup.Backend)
	}

	if c.Dedup.Window <= 0 {
		return errors.New("DEDUP_RETENTION_WINDOW must be positive")
	}
	if c.Dedup.Capacity <= 0 {
		return errors.New("DEDUP_CAPACITY must be positive")
	}
	if c.Dispatch.MaxRetries < 0 {
		return errors.New("DISPATCH_MAX_RETRIES must not be negative")
	}
	if c.Pipeline.Workers <= 0 {
		return errors.New("PIPELINE_WORKERS must be positive")
	}
	return nil
}

func (i *IdentityConfig) loadFile() error {
	data, err := os.ReadFile(i.File)
	if err != nil {
		return fmt.Errorf("reading identity file: %w", err)
	}

	var file struct {
		Allow []string `yaml:"allow"`
		Deny  []string `yaml:"deny"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing identity file %s: %w", i.File, err)
	}

	i.Allow = append(i.Allow, file.Allow...)
	i.Deny = append(i.Deny, file.Deny...)
	return nil
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c OTelConfig) Enabled() bool {
	return c.Endpoint != ""
}

func (c DiscordConfig) Enabled() bool {
	return c.BotToken != ""
}

func (c RedisConfig) Enabled() bool {
	return c.URL != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt32(key string, fallback int32) int32 {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(i)
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

// getEnvList splits a comma separated variable, dropping blanks.
func getEnvList(key string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
