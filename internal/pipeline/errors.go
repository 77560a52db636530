package pipeline

import (
	"context"
	"errors"
	"fmt"

	"soap-evaluator/internal/llm"
	"soap-evaluator/internal/scoring"
	"soap-evaluator/internal/store"
)

var (
	ErrNoTranscript   = errors.New("transcript is required")
	ErrNoModel        = errors.New("model is required")
	ErrNoReference    = errors.New("reference note is required for evaluation")
	ErrNoCandidates   = errors.New("no generated note is available for evaluation")
	ErrBusy           = errors.New("a run is already in progress for this session")
	ErrStale          = errors.New("session changed while the run was in flight")
	ErrClosed         = errors.New("session is closed")
	ErrNotEvaluated   = errors.New("session has not been evaluated")
	ErrSessionUnknown = errors.New("session not found")
)

// StorageError is a failed write-through to the result store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Kind buckets errors for user-facing messages.
type Kind string

const (
	KindNone          Kind = ""
	KindValidation    Kind = "validation"
	KindConfiguration Kind = "configuration"
	KindQuota         Kind = "quota"
	KindUpstream      Kind = "upstream"
	KindScoring       Kind = "scoring"
	KindConflict      Kind = "conflict"
	KindStorage       Kind = "storage"
	KindNotFound      Kind = "not_found"
	KindInternal      Kind = "internal"
)

// Describe maps err to its kind and a message safe to show to users.
func Describe(err error) (Kind, string) {
	if err == nil {
		return KindNone, ""
	}

	var cfgErr *llm.ConfigError
	var upErr *llm.UpstreamError
	var storeErr *StorageError

	switch {
	case errors.Is(err, ErrNoTranscript):
		return KindValidation, "Please upload a transcript first."
	case errors.Is(err, ErrNoModel):
		return KindValidation, "Please select a model."
	case errors.Is(err, llm.ErrInvalidRequest):
		return KindValidation, "Transcript and model are required."
	case errors.As(err, &cfgErr):
		return KindConfiguration, fmt.Sprintf("Generation with %s is not configured on this server (%s is not set).", cfgErr.Provider, cfgErr.EnvVar)
	case errors.As(err, &upErr):
		return KindUpstream, fmt.Sprintf("The %s service could not generate a note (status %d). Please try again.", upErr.Provider, upErr.StatusCode)
	case errors.Is(err, context.DeadlineExceeded):
		return KindUpstream, "The generation request timed out. Please try again."
	case errors.Is(err, ErrNoReference), errors.Is(err, scoring.ErrReferenceRequired):
		return KindScoring, "Please upload a reference note before running evaluation."
	case errors.Is(err, ErrNoCandidates):
		return KindScoring, "No generated SOAP note is available to evaluate."
	case errors.Is(err, ErrBusy):
		return KindConflict, "This session is already processing a request."
	case errors.Is(err, ErrStale), errors.Is(err, ErrClosed):
		return KindConflict, "The session changed while the request was running. Please reload."
	case errors.Is(err, store.ErrSchemaVersion):
		return KindStorage, "Saved session data is from an incompatible version. Please upload the transcript again."
	case errors.As(err, &storeErr):
		return KindStorage, "Session state could not be saved. Please try again."
	case errors.Is(err, ErrNotEvaluated):
		return KindNotFound, "This session has not been evaluated yet."
	case errors.Is(err, ErrSessionUnknown):
		return KindNotFound, "Session not found."
	default:
		return KindInternal, "Something went wrong while processing the session."
	}
}

// DescribeOutcome reports quota outcomes, which are not errors.
func DescribeOutcome(o llm.Outcome) (Kind, string) {
	if o.Status == llm.StatusQuotaExceeded {
		return KindQuota, llm.QuotaMessage
	}
	return KindNone, "SOAP note generated successfully."
}
