// Package llm normalizes the OpenAI and Gemini generation APIs into a single
// SOAP-note generation contract.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Provider identifies an upstream generation API.
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderGemini Provider = "gemini"
)

// OutcomeStatus discriminates the non-error outcomes of a generation.
type OutcomeStatus string

const (
	StatusSuccess       OutcomeStatus = "success"
	StatusQuotaExceeded OutcomeStatus = "quota_exceeded"
)

// QuotaMessage is shown in place of a note when the provider refused the
// request for quota or rate-limit reasons.
const QuotaMessage = "SOAP generation is currently unavailable because your model quota has been exhausted. " +
	"You are not subscribed to a paid user plan. Buy a SOAP paid subscription to access unlimited quota."

// ErrInvalidRequest marks generation requests rejected before any network call.
var ErrInvalidRequest = errors.New("invalid generation request")

// Request is a single SOAP-note generation request.
type Request struct {
	Transcript string
	Reference  *string
	Model      string
}

// Outcome is the normalized result of a generation. Hard failures are
// returned as errors and never produce an Outcome.
type Outcome struct {
	ID       string        `json:"id"`
	Provider Provider      `json:"provider"`
	Model    string        `json:"model"`
	Label    string        `json:"label"`
	Note     string        `json:"note"`
	Error    string        `json:"error,omitempty"`
	Status   OutcomeStatus `json:"status"`
}

// Usable reports whether the outcome carries a note that can be scored.
func (o Outcome) Usable() bool {
	return o.Note != "" && o.Error == ""
}

// Generator produces a SOAP note outcome for a request.
type Generator interface {
	Generate(ctx context.Context, req Request) (Outcome, error)
}

// CompletionRequest is the provider-level request built by the Adapter.
type CompletionRequest struct {
	Model  string
	System string
	Prompt string
}

// Client issues one completion call against a single upstream provider.
// Non-2xx responses are reported as *UpstreamError.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// ConfigError reports a missing provider credential.
type ConfigError struct {
	Provider Provider
	EnvVar   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s is not configured: missing %s", e.Provider, e.EnvVar)
}

// UpstreamError is a non-success response from a provider.
type UpstreamError struct {
	Provider   Provider
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s request failed with status %d: %s", e.Provider, e.StatusCode, e.Body)
}
