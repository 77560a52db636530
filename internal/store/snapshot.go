package store

import (
	"encoding/json"
	"fmt"
	"strconv"

	"soap-evaluator/internal/llm"
	"soap-evaluator/internal/scoring"
)

// Snapshot is the typed view of a session's values.
type Snapshot struct {
	Transcript           string
	Reference            string
	HasReference         bool
	Model                string
	Results              []llm.Outcome
	ResultsFingerprint   string
	Metrics              []scoring.Metric
	GenerationInProgress bool
	EvaluationInProgress bool
	Epoch                string
}

// Decode parses values into a Snapshot. Malformed boolean flags read as
// false; malformed result or metric lists are errors.
func Decode(v Values) (Snapshot, error) {
	if err := CheckVersion(v); err != nil {
		return Snapshot{}, err
	}
	s := Snapshot{
		Transcript:           v[KeyTranscript],
		Reference:            v[KeyReference],
		HasReference:         parseBool(v[KeyHasReference]),
		Model:                v[KeyModel],
		ResultsFingerprint:   v[KeyResultsFingerprint],
		GenerationInProgress: parseBool(v[KeyGenerationInProgress]),
		EvaluationInProgress: parseBool(v[KeyEvaluationInProgress]),
		Epoch:                v[KeyEpoch],
	}
	if raw, ok := v[KeyResults]; ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &s.Results); err != nil {
			return Snapshot{}, fmt.Errorf("decode %s: %w", KeyResults, err)
		}
	}
	if raw, ok := v[KeyMetrics]; ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &s.Metrics); err != nil {
			return Snapshot{}, fmt.Errorf("decode %s: %w", KeyMetrics, err)
		}
	}
	return s, nil
}

// EncodeResults serializes outcomes for KeyResults.
func EncodeResults(results []llm.Outcome) (string, error) {
	if results == nil {
		results = []llm.Outcome{}
	}
	raw, err := json.Marshal(results)
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", KeyResults, err)
	}
	return string(raw), nil
}

// EncodeMetrics serializes metrics for KeyMetrics.
func EncodeMetrics(metrics []scoring.Metric) (string, error) {
	if metrics == nil {
		metrics = []scoring.Metric{}
	}
	raw, err := json.Marshal(metrics)
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", KeyMetrics, err)
	}
	return string(raw), nil
}

// FormatBool renders a flag value.
func FormatBool(b bool) string {
	return strconv.FormatBool(b)
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(s)
	return err == nil && b
}
