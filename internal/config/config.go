package config

import (
	"log/slog"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds runtime configuration shared by the gateway, the analysis
// worker and the CLI.
type Config struct {
	// Server
	Port     int    `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Upload limits
	MaxUploadSize int64 `env:"MAX_UPLOAD_SIZE" envDefault:"10485760"` // 10MB in bytes

	// Result store: "memory", "redis" or "postgres"
	StoreProvider        string `env:"STORE_PROVIDER" envDefault:"memory"`
	DBURL                string `env:"DB_URL"`
	RedisAddr            string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword        string `env:"REDIS_PASSWORD"`
	StorageFailurePolicy string `env:"STORAGE_FAILURE_POLICY" envDefault:"abort"` // "abort" or "degrade"

	// Score cache: "none" or "redis"
	CacheProvider string        `env:"CACHE_PROVIDER" envDefault:"none"`
	CacheTTL      time.Duration `env:"CACHE_TTL" envDefault:"24h"`

	// Analysis handoff: "nats" or "none"
	QueueProvider string `env:"QUEUE_PROVIDER" envDefault:"none"`
	QueueURL      string `env:"QUEUE_URL"`
	ExportDir     string `env:"EXPORT_DIR" envDefault:"exports"`

	// Generation
	OpenAIKey         string        `env:"OPENAI_API_KEY"`
	GoogleKey         string        `env:"GOOGLE_API_KEY"`
	OpenAIBaseURL     string        `env:"OPENAI_BASE_URL"`
	GeminiBaseURL     string        `env:"GEMINI_BASE_URL"`
	DefaultModel      string        `env:"DEFAULT_MODEL" envDefault:"gpt-4o-mini"`
	GenerationTimeout time.Duration `env:"GENERATION_TIMEOUT" envDefault:"45s"`
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		slog.Warn("failed to parse env; using defaults where set", "err", err)
	}
	return cfg
}
