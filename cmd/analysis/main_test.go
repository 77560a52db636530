package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"

	"soap-evaluator/internal/app"
	"soap-evaluator/internal/config"
	"soap-evaluator/internal/llm"
	"soap-evaluator/internal/queue"
	"soap-evaluator/internal/report"
	"soap-evaluator/internal/scoring"
	"soap-evaluator/internal/store"
)

func newTestDeps(t *testing.T, st store.Store) app.Deps {
	return app.Deps{
		Store:  st,
		Config: config.Config{ExportDir: t.TempDir()},
		Log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func evaluatedValues(t *testing.T, epoch string) store.Values {
	t.Helper()
	results, err := store.EncodeResults([]llm.Outcome{{
		ID: "gpt-4o-mini", Provider: llm.ProviderOpenAI, Model: "gpt-4o-mini",
		Label: "gpt-4o-mini", Note: "S: headache", Status: llm.StatusSuccess,
	}})
	if err != nil {
		t.Fatal(err)
	}
	metrics, err := store.EncodeMetrics([]scoring.Metric{{ID: "gpt-4o-mini", Rouge1: 0.75, Bleu1: 0.5, Combined: 0.625}})
	if err != nil {
		t.Fatal(err)
	}
	return store.Values{
		store.KeySchemaVersion: store.SchemaVersion,
		store.KeyTranscript:    "transcript",
		store.KeyReference:     "reference",
		store.KeyModel:         "gpt-4o-mini",
		store.KeyResults:       results,
		store.KeyMetrics:       metrics,
		store.KeyEpoch:         epoch,
	}
}

func TestHandleAnalyze(t *testing.T) {
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		payload   queue.AnalyzePayload
		setup     func(*store.MockStore)
		wantErr   bool
		wantWrite bool
	}{
		{
			name:    "writes report",
			payload: queue.AnalyzePayload{SessionID: "s1", Epoch: "e1"},
			setup: func(s *store.MockStore) {
				s.On("Load", mock.Anything, "s1").Return(evaluatedValues(t, "e1"), nil).Once()
			},
			wantWrite: true,
		},
		{
			name:    "skips superseded epoch",
			payload: queue.AnalyzePayload{SessionID: "s1", Epoch: "old"},
			setup: func(s *store.MockStore) {
				s.On("Load", mock.Anything, "s1").Return(evaluatedValues(t, "e2"), nil).Once()
			},
		},
		{
			name:    "skips unevaluated session",
			payload: queue.AnalyzePayload{SessionID: "s1"},
			setup: func(s *store.MockStore) {
				s.On("Load", mock.Anything, "s1").Return(store.Values{store.KeyTranscript: "t"}, nil).Once()
			},
		},
		{
			name:    "skips incompatible schema",
			payload: queue.AnalyzePayload{SessionID: "s1"},
			setup: func(s *store.MockStore) {
				s.On("Load", mock.Anything, "s1").Return(nil, store.ErrSchemaVersion).Once()
			},
		},
		{
			name:    "store failure is retried",
			payload: queue.AnalyzePayload{SessionID: "s1"},
			setup: func(s *store.MockStore) {
				s.On("Load", mock.Anything, "s1").Return(nil, errors.New("connection refused")).Once()
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := new(store.MockStore)
			tt.setup(st)
			deps := newTestDeps(t, st)

			path, err := handleAnalyze(context.Background(), deps, tt.payload, now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("handleAnalyze() error = %v, wantErr %v", err, tt.wantErr)
			}
			st.AssertExpectations(t)

			if !tt.wantWrite {
				if path != "" {
					t.Errorf("expected no report, got %s", path)
				}
				return
			}
			if want := filepath.Join(deps.Config.ExportDir, "s1", report.FileName); path != want {
				t.Errorf("path = %s, want %s", path, want)
			}
			raw, err := os.ReadFile(path)
			if err != nil {
				t.Fatal(err)
			}
			var rep report.Report
			if err := json.Unmarshal(raw, &rep); err != nil {
				t.Fatal(err)
			}
			if rep.SoapNote != "S: headache" || rep.Metrics.Combined != 0.625 || !rep.GeneratedAt.Equal(now) {
				t.Errorf("unexpected report %+v", rep)
			}
		})
	}
}
