package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"soap-evaluator/internal/app"
	"soap-evaluator/internal/httputil"
	"soap-evaluator/internal/observe"
	"soap-evaluator/internal/queue"
	"soap-evaluator/internal/report"
	"soap-evaluator/internal/store"
)

const version = "0.1.0"

func main() {
	shutdownMetrics, err := observe.InitProvider("soap-analysis", version)
	if err != nil {
		slog.Default().Error("failed to init metrics", "err", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMetrics(context.Background()) }()

	deps, err := app.Build()
	if err != nil {
		slog.Default().Error("failed to build dependencies", "err", err)
		os.Exit(1)
	}
	defer deps.Close()
	if deps.Queue == nil {
		deps.Log.Error("analysis worker requires QUEUE_PROVIDER=nats")
		os.Exit(1)
	}
	deps.Log.Info("analysis worker starting", "export_dir", deps.Config.ExportDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Queue.Worker(ctx, queue.TaskTypeAnalyze, func(ctx context.Context, task queue.Task) error {
			payload, err := queue.DecodeAnalyze(task)
			if err != nil {
				deps.Log.Error("dropping malformed analyze task", "err", err, "task_id", task.ID)
				return nil
			}
			_, err = handleAnalyze(ctx, deps, payload, time.Now())
			return err
		})
	})

	g.Go(func() error {
		return httputil.ServeHealth(ctx, deps.Log, deps.Config.Port, "analysis")
	})

	if err := g.Wait(); err != nil {
		deps.Log.Error("analysis service stopped", "err", err)
	}
}

// handleAnalyze writes the report of an evaluated session. Tasks from an
// older epoch are skipped. It returns the written path, or "" when skipped.
func handleAnalyze(ctx context.Context, deps app.Deps, payload queue.AnalyzePayload, now time.Time) (string, error) {
	log := deps.Log.With("session_id", payload.SessionID)

	values, err := deps.Store.Load(ctx, payload.SessionID)
	if err != nil {
		if errors.Is(err, store.ErrSchemaVersion) {
			log.Error("skipping session with incompatible schema", "err", err)
			return "", nil
		}
		return "", fmt.Errorf("load session: %w", err)
	}
	snap, err := store.Decode(values)
	if err != nil {
		log.Error("skipping undecodable session", "err", err)
		return "", nil
	}
	if payload.Epoch != "" && snap.Epoch != payload.Epoch {
		log.Info("skipping analysis of a superseded upload", "task_epoch", payload.Epoch, "epoch", snap.Epoch)
		return "", nil
	}

	rep, err := report.Build(snap, now)
	if errors.Is(err, report.ErrIncomplete) {
		log.Warn("skipping analysis of an unevaluated session")
		return "", nil
	}
	if err != nil {
		return "", err
	}
	path, err := report.Write(deps.Config.ExportDir, payload.SessionID, rep)
	if err != nil {
		return "", err
	}
	log.Info("analysis report written", "path", path, "combined", rep.Metrics.Combined)
	return path, nil
}
