// Package report builds the analysis export of an evaluated session.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"soap-evaluator/internal/llm"
	"soap-evaluator/internal/store"
)

// FileName is the name of the exported report inside a session directory.
const FileName = "soap_evaluation_results.json"

// ErrIncomplete is returned for sessions without a generated note and
// metrics.
var ErrIncomplete = errors.New("session has no evaluated result")

// Scores are the metrics of the reported note.
type Scores struct {
	Rouge1   float64 `json:"rouge1" yaml:"rouge1"`
	Bleu1    float64 `json:"bleu1" yaml:"bleu1"`
	Combined float64 `json:"combined" yaml:"combined"`
}

// Report is the analysis payload of one session.
type Report struct {
	GeneratedAt time.Time    `json:"generatedAt" yaml:"generatedAt"`
	Model       string       `json:"model" yaml:"model"`
	Provider    llm.Provider `json:"provider" yaml:"provider"`
	Transcript  string       `json:"transcript" yaml:"transcript"`
	Reference   string       `json:"reference" yaml:"reference"`
	SoapNote    string       `json:"soapNote" yaml:"soapNote"`
	Metrics     Scores       `json:"metrics" yaml:"metrics"`
}

// Build reports the first result and its metric.
func Build(s store.Snapshot, now time.Time) (Report, error) {
	if len(s.Results) == 0 || len(s.Metrics) == 0 {
		return Report{}, ErrIncomplete
	}
	result := s.Results[0]
	metric := s.Metrics[0]
	for _, m := range s.Metrics {
		if m.ID == result.ID {
			metric = m
			break
		}
	}
	return Report{
		GeneratedAt: now.UTC(),
		Model:       result.Model,
		Provider:    result.Provider,
		Transcript:  s.Transcript,
		Reference:   s.Reference,
		SoapNote:    result.Note,
		Metrics: Scores{
			Rouge1:   metric.Rouge1,
			Bleu1:    metric.Bleu1,
			Combined: metric.Combined,
		},
	}, nil
}

// Write stores r as <dir>/<session>/FileName and returns the path.
func Write(dir, session string, r Report) (string, error) {
	if session == "" || session != filepath.Base(session) || session == "." || session == ".." {
		return "", fmt.Errorf("invalid session id %q", session)
	}
	sessionDir := filepath.Join(dir, session)
	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}
	body, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(sessionDir, FileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}
