package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "LOG_LEVEL", "STORE_PROVIDER", "CACHE_PROVIDER", "QUEUE_PROVIDER",
		"DEFAULT_MODEL", "GENERATION_TIMEOUT", "STORAGE_FAILURE_POLICY", "CACHE_TTL", "EXPORT_DIR",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	cfg := Load()

	tests := []struct {
		name     string
		got      interface{}
		expected interface{}
	}{
		{"Port", cfg.Port, 8080},
		{"LogLevel", cfg.LogLevel, "info"},
		{"StoreProvider", cfg.StoreProvider, "memory"},
		{"CacheProvider", cfg.CacheProvider, "none"},
		{"QueueProvider", cfg.QueueProvider, "none"},
		{"DefaultModel", cfg.DefaultModel, "gpt-4o-mini"},
		{"GenerationTimeout", cfg.GenerationTimeout, 45 * time.Second},
		{"StorageFailurePolicy", cfg.StorageFailurePolicy, "abort"},
		{"CacheTTL", cfg.CacheTTL, 24 * time.Hour},
		{"ExportDir", cfg.ExportDir, "exports"},
		{"MaxUploadSize", cfg.MaxUploadSize, int64(10 << 20)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("expected %s=%v, got %v", tt.name, tt.expected, tt.got)
			}
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("GENERATION_TIMEOUT", "30s")
	t.Setenv("STORE_PROVIDER", "redis")
	t.Setenv("GOOGLE_API_KEY", "g-key")

	cfg := Load()

	if cfg.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Port)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected log level 'debug', got %s", cfg.LogLevel)
	}
	if cfg.GenerationTimeout != 30*time.Second {
		t.Errorf("expected 30s timeout, got %s", cfg.GenerationTimeout)
	}
	if cfg.StoreProvider != "redis" {
		t.Errorf("expected redis store, got %s", cfg.StoreProvider)
	}
	if cfg.GoogleKey != "g-key" {
		t.Errorf("expected google key, got %q", cfg.GoogleKey)
	}
}
