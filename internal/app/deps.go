package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"

	"soap-evaluator/internal/cache"
	"soap-evaluator/internal/config"
	"soap-evaluator/internal/llm"
	"soap-evaluator/internal/logger"
	"soap-evaluator/internal/observe"
	"soap-evaluator/internal/pipeline"
	"soap-evaluator/internal/queue"
	"soap-evaluator/internal/scoring"
	"soap-evaluator/internal/store"
)

// Deps bundles common runtime dependencies for services.
type Deps struct {
	Config    config.Config
	Log       *slog.Logger
	Store     store.Store
	Cache     cache.Cache
	Queue     queue.Queue
	Generator llm.Generator
	Evaluator *scoring.Evaluator
	Metrics   *observe.Metrics
	Policy    pipeline.Policy

	nc *nats.Conn
}

// Build loads .env (if present) and the environment, then assembles the
// shared components.
func Build() (Deps, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Deps{}, fmt.Errorf("failed to load environment variables: %w", err)
	}
	cfg := config.Load()
	return BuildWith(cfg, logger.New(cfg.LogLevel))
}

// BuildWith assembles the components described by cfg.
func BuildWith(cfg config.Config, log *slog.Logger) (Deps, error) {
	policy, err := parsePolicy(cfg.StorageFailurePolicy)
	if err != nil {
		return Deps{}, err
	}
	st, err := buildStore(cfg, log)
	if err != nil {
		return Deps{}, fmt.Errorf("failed to initialize store: %w", err)
	}
	c, err := buildCache(cfg, log)
	if err != nil {
		_ = st.Close()
		return Deps{}, fmt.Errorf("failed to initialize cache: %w", err)
	}
	q, nc, err := buildQueue(cfg, log)
	if err != nil {
		_ = st.Close()
		_ = c.Close()
		return Deps{}, fmt.Errorf("failed to initialize queue: %w", err)
	}
	metrics := observe.DefaultMetrics()
	gen, err := BuildGenerator(context.Background(), cfg, log, metrics)
	if err != nil {
		_ = st.Close()
		_ = c.Close()
		if nc != nil {
			nc.Close()
		}
		return Deps{}, fmt.Errorf("failed to initialize generation: %w", err)
	}
	return Deps{
		Config:    cfg,
		Log:       log,
		Store:     st,
		Cache:     c,
		Queue:     q,
		Generator: gen,
		Evaluator: scoring.NewEvaluator(log, c, cfg.CacheTTL),
		Metrics:   metrics,
		Policy:    policy,
		nc:        nc,
	}, nil
}

// Pipeline returns the collaborators an Orchestrator needs.
func (d Deps) Pipeline() pipeline.Deps {
	pd := pipeline.Deps{
		Log:       d.Log,
		Store:     d.Store,
		Generator: d.Generator,
		Evaluator: d.Evaluator,
		Metrics:   d.Metrics,
		Policy:    d.Policy,
	}
	if d.Queue != nil {
		pd.Queue = d.Queue
	}
	return pd
}

// Close releases connections held by the dependencies.
func (d Deps) Close() {
	if d.nc != nil {
		if err := d.nc.Drain(); err != nil {
			d.Log.Warn("failed to drain NATS connection", "err", err)
		}
	}
	if d.Cache != nil {
		if err := d.Cache.Close(); err != nil {
			d.Log.Warn("failed to close cache", "err", err)
		}
	}
	if d.Store != nil {
		if err := d.Store.Close(); err != nil {
			d.Log.Warn("failed to close store", "err", err)
		}
	}
}

// BuildGenerator creates the provider adapter. A provider whose key is unset
// gets no client; requests routed to it fail with *llm.ConfigError.
func BuildGenerator(ctx context.Context, cfg config.Config, log *slog.Logger, metrics *observe.Metrics) (*llm.Adapter, error) {
	opts := llm.AdapterOptions{Timeout: cfg.GenerationTimeout, Metrics: metrics}
	if cfg.OpenAIKey != "" {
		client, err := llm.NewOpenAIClient(cfg.OpenAIKey, cfg.OpenAIBaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize OpenAI client: %w", err)
		}
		opts.OpenAI = client
		log.Info("using OpenAI generation client")
	} else {
		log.Warn("OPENAI_API_KEY not set; OpenAI models are unavailable")
	}
	if cfg.GoogleKey != "" {
		client, err := llm.NewGeminiClient(ctx, cfg.GoogleKey, cfg.GeminiBaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Gemini client: %w", err)
		}
		opts.Gemini = client
		log.Info("using Gemini generation client")
	} else {
		log.Warn("GOOGLE_API_KEY not set; Gemini models are unavailable")
	}
	return llm.NewAdapter(log, opts), nil
}

func parsePolicy(s string) (pipeline.Policy, error) {
	switch p := pipeline.Policy(s); p {
	case "", pipeline.PolicyAbort:
		return pipeline.PolicyAbort, nil
	case pipeline.PolicyDegrade:
		return p, nil
	default:
		return "", fmt.Errorf("invalid STORAGE_FAILURE_POLICY: %s (valid options: abort, degrade)", s)
	}
}

func buildStore(cfg config.Config, log *slog.Logger) (store.Store, error) {
	switch cfg.StoreProvider {
	case "", "memory":
		log.Info("using in-memory result store")
		return store.NewMemory(), nil
	case "redis":
		st, err := store.NewRedis(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Redis: %w", err)
		}
		log.Info("using Redis result store", "addr", cfg.RedisAddr)
		return st, nil
	case "postgres":
		if cfg.DBURL == "" {
			return nil, fmt.Errorf("DB_URL is required when STORE_PROVIDER=postgres")
		}
		db, err := store.NewPostgres(cfg.DBURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Postgres: %w", err)
		}
		log.Info("using Postgres result store")
		return db, nil
	default:
		return nil, fmt.Errorf("invalid STORE_PROVIDER: %s (valid options: memory, redis, postgres)", cfg.StoreProvider)
	}
}

func buildCache(cfg config.Config, log *slog.Logger) (cache.Cache, error) {
	switch cfg.CacheProvider {
	case "", "none":
		return cache.NewNoOpCache(), nil
	case "redis":
		c, err := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			return nil, err
		}
		log.Info("using Redis score cache", "ttl", cfg.CacheTTL)
		return c, nil
	default:
		return nil, fmt.Errorf("invalid CACHE_PROVIDER: %s (valid options: none, redis)", cfg.CacheProvider)
	}
}

func buildQueue(cfg config.Config, log *slog.Logger) (queue.Queue, *nats.Conn, error) {
	switch cfg.QueueProvider {
	case "", "none":
		log.Info("analysis handoff disabled")
		return nil, nil, nil
	case "nats":
		if cfg.QueueURL == "" {
			return nil, nil, fmt.Errorf("QUEUE_URL is required when QUEUE_PROVIDER=nats")
		}
		nc, err := nats.Connect(cfg.QueueURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		log.Info("using NATS queue")
		return queue.NewNATS(log, nc), nc, nil
	default:
		return nil, nil, fmt.Errorf("invalid QUEUE_PROVIDER: %s (valid options: nats, none)", cfg.QueueProvider)
	}
}
