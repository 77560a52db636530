package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"soap-evaluator/internal/observe"
)

const (
	defaultGenerationTimeout = 45 * time.Second

	openAIEmptyNote = "OpenAI returned no content."
	geminiEmptyNote = "Gemini returned no content."
)

// quotaMarkers are matched case-insensitively against upstream error bodies.
var quotaMarkers = []string{"insufficient_quota", "rate limit", "quota"}

// AdapterOptions configures an Adapter. A nil client means the credential for
// that provider is missing.
type AdapterOptions struct {
	OpenAI  Client
	Gemini  Client
	Timeout time.Duration
	Metrics *observe.Metrics
}

// Adapter routes a request to its provider and normalizes the response.
type Adapter struct {
	log     *slog.Logger
	openai  Client
	gemini  Client
	timeout time.Duration
	metrics *observe.Metrics
}

// NewAdapter builds an Adapter.
func NewAdapter(log *slog.Logger, opts AdapterOptions) *Adapter {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultGenerationTimeout
	}
	if opts.Metrics == nil {
		opts.Metrics = observe.DefaultMetrics()
	}
	return &Adapter{
		log:     log,
		openai:  opts.OpenAI,
		gemini:  opts.Gemini,
		timeout: opts.Timeout,
		metrics: opts.Metrics,
	}
}

// Route maps a model identifier to its provider.
func Route(model string) Provider {
	if strings.Contains(strings.ToLower(model), "gemini") {
		return ProviderGemini
	}
	return ProviderOpenAI
}

// ModelUsed returns the model name sent upstream for the given selector.
func ModelUsed(model string) string {
	if Route(model) == ProviderGemini {
		return strings.TrimPrefix(model, "models/")
	}
	return model
}

// IsQuotaExceeded reports whether an upstream failure is a quota or
// rate-limit refusal.
func IsQuotaExceeded(status int, body string) bool {
	if status == http.StatusTooManyRequests {
		return true
	}
	lower := strings.ToLower(body)
	for _, marker := range quotaMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// Generate issues exactly one upstream call for req. Quota refusals are
// returned as a QuotaExceeded outcome with a nil error.
func (a *Adapter) Generate(ctx context.Context, req Request) (Outcome, error) {
	if strings.TrimSpace(req.Transcript) == "" {
		return Outcome{}, fmt.Errorf("%w: transcript is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.Model) == "" {
		return Outcome{}, fmt.Errorf("%w: model is required", ErrInvalidRequest)
	}

	provider := Route(req.Model)
	client, err := a.client(provider)
	if err != nil {
		return Outcome{}, err
	}

	model := ModelUsed(req.Model)
	completion := CompletionRequest{
		Model:  model,
		Prompt: BuildPrompt(req.Transcript, req.Reference),
	}
	if provider == ProviderOpenAI {
		completion.System = openAISystemPrompt
	}

	log := a.log.With("provider", provider, "model", model)
	reqCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	text, err := client.Complete(reqCtx, completion)
	elapsed := time.Since(start)

	if err != nil {
		var upstream *UpstreamError
		if errors.As(err, &upstream) && IsQuotaExceeded(upstream.StatusCode, upstream.Body) {
			log.Warn("provider quota exhausted", "status", upstream.StatusCode, "details", upstream.Body)
			a.metrics.RecordGeneration(ctx, string(provider), string(StatusQuotaExceeded), elapsed)
			return quotaOutcome(req.Model, model, provider, upstream.Body), nil
		}
		a.metrics.RecordGeneration(ctx, string(provider), "error", elapsed)
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			log.Error("generation timed out", "timeout", a.timeout)
			return Outcome{}, fmt.Errorf("%s generation timed out after %s: %w", provider, a.timeout, err)
		}
		log.Error("generation failed", "err", err)
		return Outcome{}, fmt.Errorf("%s generation failed: %w", provider, err)
	}

	note := strings.TrimSpace(text)
	if note == "" {
		note = emptyNote(provider)
	}
	a.metrics.RecordGeneration(ctx, string(provider), string(StatusSuccess), elapsed)
	log.Info("generation completed", "duration_ms", elapsed.Milliseconds())

	return Outcome{
		ID:       req.Model,
		Provider: provider,
		Model:    model,
		Label:    model,
		Note:     note,
		Status:   StatusSuccess,
	}, nil
}

func (a *Adapter) client(p Provider) (Client, error) {
	switch p {
	case ProviderGemini:
		if a.gemini == nil {
			return nil, &ConfigError{Provider: p, EnvVar: "GOOGLE_API_KEY"}
		}
		return a.gemini, nil
	default:
		if a.openai == nil {
			return nil, &ConfigError{Provider: p, EnvVar: "OPENAI_API_KEY"}
		}
		return a.openai, nil
	}
}

func quotaOutcome(id, model string, provider Provider, detail string) Outcome {
	if detail == "" {
		detail = "Quota exceeded"
	}
	return Outcome{
		ID:       id,
		Provider: provider,
		Model:    model,
		Label:    model,
		Note:     QuotaMessage,
		Error:    detail,
		Status:   StatusQuotaExceeded,
	}
}

func emptyNote(p Provider) string {
	if p == ProviderGemini {
		return geminiEmptyNote
	}
	return openAIEmptyNote
}
