// Package config loads the Core's configuration from environment
// variables with development-friendly defaults, following the teacher's
// core/config/config.go almost verbatim in shape (Load, getEnv,
// getEnvInt, IsProduction/IsDevelopment).
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"devmatrix.dev/core/common/llm"
	"devmatrix.dev/core/common/retry"
	"devmatrix.dev/core/core/db"
	"devmatrix.dev/core/internal/patternstore"
)

// hostnameOr returns the machine hostname, falling back when unavailable —
// used as a sane per-process default Redis consumer name.
func hostnameOr(fallback string) string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return fallback
}

// Config holds all application configuration.
type Config struct {
	// Env is the environment name (development, staging, production).
	Env string

	// Port is the ops API's HTTP port.
	Port string

	DB db.Config

	Redis     RedisConfig
	Queue     QueueConfig
	Arango    ArangoConfig
	Typesense TypesenseConfig

	OpenAI    llm.Config
	Anthropic llm.Config
	Provider  string

	Run       RunTimeouts
	Retry     retry.Policy
	Promotion patternstore.PromotionPolicy
	OTel      OTelConfig
}

// OTelConfig configures the optional OTLP http exporters for traces and
// logs. Disabled by default; sits behind Enabled() so Setup callers can
// early-return without touching the rest of the struct.
type OTelConfig struct {
	enabled        bool
	Headers        string
	ServiceName    string
	ServiceVersion string
	Endpoint       string
}

// Enabled reports whether OTel export is configured on.
func (c OTelConfig) Enabled() bool {
	return c.enabled
}

// RedisConfig configures the embedding cache's remote tier.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// QueueConfig configures the worker's Redis-stream run queue (teacher's
// ConsumerConfig shape, collapsed to devmatrix's single run_request kind).
type QueueConfig struct {
	Stream      string
	Group       string
	Consumer    string
	DLQStream   string
	BatchSize   int64
	Block       time.Duration
	MaxAttempts int
}

// ArangoConfig configures the optional DAG persistence layer.
type ArangoConfig struct {
	enabled  bool
	Endpoint string
	User     string
	Password string
	Database string
}

// Enabled reports whether the worker should connect graphstore to ArangoDB.
// Disabled by default: DAG persistence is a debugging aid, not a dependency
// any pipeline phase reads back from (see internal/graphstore).
func (c ArangoConfig) Enabled() bool {
	return c.enabled
}

// TypesenseConfig configures the Pattern Store's vector index.
type TypesenseConfig struct {
	URL    string
	APIKey string
}

// RunTimeouts matches spec §5's timeout model: per-call, per-phase, and
// per-run ceilings, plus the bounded-concurrency executor width.
type RunTimeouts struct {
	LLMCall        time.Duration
	Phase          time.Duration
	Run            time.Duration
	MaxConcurrency int
}

// Load loads configuration from environment variables, after attempting
// to load a local .env file for development convenience (teacher
// behavior: godotenv.Load is best-effort, a missing file is not fatal).
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Env:  getEnv("DEVMATRIX_ENV", "development"),
		Port: getEnv("PORT", "8080"),
		DB: db.Config{
			DSN:      buildDSN(),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 10)),
			MinConns: int32(getEnvInt("DB_MIN_CONNS", 2)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Queue: QueueConfig{
			Stream:      getEnv("QUEUE_STREAM", "devmatrix:runs"),
			Group:       getEnv("QUEUE_GROUP", "devmatrix-workers"),
			Consumer:    getEnv("QUEUE_CONSUMER", hostnameOr("devmatrix-worker-1")),
			DLQStream:   getEnv("QUEUE_DLQ_STREAM", "devmatrix:runs:dlq"),
			BatchSize:   int64(getEnvInt("QUEUE_BATCH_SIZE", 10)),
			Block:       time.Duration(getEnvInt("QUEUE_BLOCK_MS", 5000)) * time.Millisecond,
			MaxAttempts: getEnvInt("QUEUE_MAX_ATTEMPTS", 3),
		},
		Arango: ArangoConfig{
			enabled:  getEnv("ARANGO_ENABLED", "false") == "true",
			Endpoint: getEnv("ARANGO_ENDPOINT", "http://localhost:8529"),
			User:     getEnv("ARANGO_USER", "root"),
			Password: getEnv("ARANGO_PASSWORD", ""),
			Database: getEnv("ARANGO_DATABASE", "devmatrix"),
		},
		Typesense: TypesenseConfig{
			URL:    getEnv("TYPESENSE_URL", "http://localhost:8108"),
			APIKey: getEnv("TYPESENSE_API_KEY", ""),
		},
		OpenAI: llm.Config{
			APIKey:  getEnv("OPENAI_API_KEY", ""),
			BaseURL: getEnv("OPENAI_BASE_URL", ""),
			Model:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		},
		Anthropic: llm.Config{
			APIKey:  getEnv("ANTHROPIC_API_KEY", ""),
			BaseURL: getEnv("ANTHROPIC_BASE_URL", ""),
			Model:   getEnv("ANTHROPIC_MODEL", "claude-3-5-sonnet-latest"),
		},
		Provider: getEnv("LLM_PROVIDER", "anthropic"),
		Run: RunTimeouts{
			LLMCall:        time.Duration(getEnvInt("LLM_CALL_TIMEOUT_SECONDS", 60)) * time.Second,
			Phase:          time.Duration(getEnvInt("PHASE_TIMEOUT_MINUTES", 10)) * time.Minute,
			Run:            time.Duration(getEnvInt("RUN_TIMEOUT_MINUTES", 30)) * time.Minute,
			MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 4),
		},
		Retry: retry.Policy{
			BaseDelay:   time.Duration(getEnvInt("RETRY_BASE_DELAY_MS", 500)) * time.Millisecond,
			Factor:      2,
			MaxAttempts: uint(getEnvInt("RETRY_MAX_ATTEMPTS", 3)),
			Jitter:      0.2,
		},
		Promotion: patternstore.PromotionPolicy{
			Quorum:      getEnvInt("PATTERN_PROMOTION_QUORUM", 3),
			SuccessRate: getEnvFloat("PATTERN_PROMOTION_SUCCESS_RATE", 0.95),
		},
		OTel: OTelConfig{
			enabled:        getEnv("OTEL_ENABLED", "false") == "true",
			Headers:        getEnv("OTEL_HEADERS", ""),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "devmatrix-core"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
			Endpoint:       getEnv("OTEL_ENDPOINT", "http://localhost:4318"),
		},
	}
}

// buildDSN constructs the Postgres connection string from individual env
// vars.
func buildDSN() string {
	host := getEnv("DATABASE_HOST", "localhost")
	port := getEnv("DATABASE_PORT", "5432")
	user := getEnv("DATABASE_USER", "postgres")
	password := getEnv("DATABASE_PASSWORD", "postgres")
	name := getEnv("DATABASE_NAME", "devmatrix")
	sslMode := getEnv("DATABASE_SSLMODE", "disable")

	return "postgres://" + user + ":" + password + "@" + host + ":" + port + "/" + name + "?sslmode=" + sslMode
}

// IsProduction returns true if running in production environment.
func (c Config) IsProduction() bool {
	return c.Env == "production"
}

// IsDevelopment returns true if running in development environment.
func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
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

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}
