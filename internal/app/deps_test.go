package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"soap-evaluator/internal/config"
	"soap-evaluator/internal/llm"
	"soap-evaluator/internal/pipeline"
	"soap-evaluator/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBuildWithDefaults(t *testing.T) {
	cfg := config.Config{StoreProvider: "memory", GenerationTimeout: time.Second}
	deps, err := BuildWith(cfg, discardLogger())
	if err != nil {
		t.Fatalf("BuildWith: %v", err)
	}
	defer deps.Close()

	if _, ok := deps.Store.(*store.MemoryStore); !ok {
		t.Errorf("expected memory store, got %T", deps.Store)
	}
	if deps.Queue != nil {
		t.Error("queue should be disabled by default")
	}
	if deps.Policy != pipeline.PolicyAbort {
		t.Errorf("expected abort policy, got %s", deps.Policy)
	}
	if deps.Pipeline().Queue != nil {
		t.Error("pipeline queue must be an untyped nil when disabled")
	}
}

func TestBuildWithMissingKeysReportsConfigError(t *testing.T) {
	deps, err := BuildWith(config.Config{GenerationTimeout: time.Second}, discardLogger())
	if err != nil {
		t.Fatalf("BuildWith: %v", err)
	}
	defer deps.Close()

	_, err = deps.Generator.Generate(context.Background(), llm.Request{Transcript: "t", Model: "gemini-2.5-flash"})
	var cfgErr *llm.ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.EnvVar != "GOOGLE_API_KEY" {
		t.Errorf("expected GOOGLE_API_KEY config error, got %v", err)
	}
}

func TestBuildWithInvalidProviders(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.Config
	}{
		{"store", config.Config{StoreProvider: "sqlite"}},
		{"postgres without url", config.Config{StoreProvider: "postgres"}},
		{"cache", config.Config{CacheProvider: "memcached"}},
		{"queue", config.Config{QueueProvider: "kafka"}},
		{"nats without url", config.Config{QueueProvider: "nats"}},
		{"policy", config.Config{StorageFailurePolicy: "ignore"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := BuildWith(tt.cfg, discardLogger()); err == nil {
				t.Error("expected error")
			}
		})
	}
}
