package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"soap-evaluator/internal/llm"
	"soap-evaluator/internal/scoring"
	"soap-evaluator/internal/store"
)

func TestDescribe(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindNone},
		{"no transcript", ErrNoTranscript, KindValidation},
		{"invalid request", fmt.Errorf("%w: model is required", llm.ErrInvalidRequest), KindValidation},
		{"config", &llm.ConfigError{Provider: llm.ProviderGemini, EnvVar: "GOOGLE_API_KEY"}, KindConfiguration},
		{"upstream", fmt.Errorf("openai generation failed: %w", &llm.UpstreamError{StatusCode: 500}), KindUpstream},
		{"timeout", fmt.Errorf("timed out: %w", context.DeadlineExceeded), KindUpstream},
		{"no reference", ErrNoReference, KindScoring},
		{"scorer reference", fmt.Errorf("evaluation failed: %w", scoring.ErrReferenceRequired), KindScoring},
		{"no candidates", ErrNoCandidates, KindScoring},
		{"busy", ErrBusy, KindConflict},
		{"stale", ErrStale, KindConflict},
		{"storage", &StorageError{Op: "write", Err: errors.New("dial tcp")}, KindStorage},
		{"schema", store.ErrSchemaVersion, KindStorage},
		{"not evaluated", ErrNotEvaluated, KindNotFound},
		{"unknown", errors.New("kaboom"), KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, msg := Describe(tt.err)
			if kind != tt.want {
				t.Errorf("Describe(%v) kind = %q, want %q", tt.err, kind, tt.want)
			}
			if tt.err != nil && msg == "" {
				t.Error("expected a user-facing message")
			}
		})
	}
}

func TestDescribeHidesRawDetail(t *testing.T) {
	_, msg := Describe(&llm.UpstreamError{Provider: llm.ProviderOpenAI, StatusCode: 502, Body: "secret stack trace"})
	if msg == "" || strings.Contains(msg, "secret") {
		t.Errorf("unexpected message %q", msg)
	}
}
