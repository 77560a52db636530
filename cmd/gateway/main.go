package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"soap-evaluator/internal/app"
	"soap-evaluator/internal/httputil"
	"soap-evaluator/internal/llm"
	"soap-evaluator/internal/observe"
	"soap-evaluator/internal/pipeline"
	"soap-evaluator/internal/report"
	"soap-evaluator/internal/scoring"
	"soap-evaluator/internal/transcript"
)

const version = "0.1.0"

func main() {
	shutdownMetrics, err := observe.InitProvider("soap-gateway", version)
	if err != nil {
		slog.Default().Error("failed to init metrics", "err", err)
		os.Exit(1)
	}
	deps, err := app.Build()
	if err != nil {
		slog.Default().Error("failed to build dependencies", "err", err)
		os.Exit(1)
	}
	defer deps.Close()

	sessions := pipeline.NewManager(deps.Pipeline())
	defer sessions.Close()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", deps.Config.Port),
		Handler:           newRouter(deps, sessions),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			deps.Log.Warn("graceful shutdown failed", "err", err)
		}
		_ = shutdownMetrics(shutdownCtx)
	}()

	deps.Log.Info("gateway listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		deps.Log.Error("server failed", "err", err)
	}
}

func newRouter(deps app.Deps, sessions *pipeline.Manager) http.Handler {
	r := httputil.NewRouter(deps.Log)

	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", createSessionHandler(deps, sessions))
		r.Get("/{id}", getSessionHandler(deps, sessions))
		r.Delete("/{id}", deleteSessionHandler(deps, sessions))
		r.Put("/{id}/reference", referenceHandler(deps, sessions))
		r.Post("/{id}/generate", sessionGenerateHandler(deps, sessions))
		r.Post("/{id}/evaluate", sessionEvaluateHandler(deps, sessions))
		r.Get("/{id}/analysis", analysisHandler(deps, sessions))
	})
	r.Post("/api/generate", generateHandler(deps))
	r.Post("/api/evaluate", evaluateHandler(deps))
	r.Get("/healthz", httputil.HealthHandler(deps.Log))
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func createSessionHandler(deps app.Deps, sessions *pipeline.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if !parseMultipart(deps, w, r) {
			return
		}

		text, ok, err := readUpload(r, "transcript", deps)
		if err != nil {
			httputil.FailKind(deps.Log, w, string(pipeline.KindValidation), err.Error(), err, http.StatusBadRequest)
			return
		}
		if !ok || strings.TrimSpace(text) == "" {
			fail(deps.Log, w, pipeline.ErrNoTranscript)
			return
		}
		reference, _, err := readUpload(r, "reference", deps)
		if err != nil {
			httputil.FailKind(deps.Log, w, string(pipeline.KindValidation), err.Error(), err, http.StatusBadRequest)
			return
		}
		model := strings.TrimSpace(r.FormValue("model"))
		if model == "" {
			model = deps.Config.DefaultModel
		}

		o, err := sessions.Create(ctx)
		if err != nil {
			fail(deps.Log, w, err)
			return
		}
		log := deps.Log.With("session_id", o.SessionID())
		if err := o.Upload(ctx, pipeline.Upload{Transcript: text, Reference: reference, Model: model}); err != nil {
			fail(log, w, err)
			return
		}
		o.StartGeneration()

		httputil.WriteJSON(w, http.StatusAccepted, map[string]any{
			"session_id": o.SessionID(),
			"state":      o.State(),
		})
	}
}

func getSessionHandler(deps app.Deps, sessions *pipeline.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		o, ok := lookup(deps, sessions, w, r)
		if !ok {
			return
		}
		httputil.WriteJSON(w, http.StatusOK, o.View())
	}
}

func deleteSessionHandler(deps app.Deps, sessions *pipeline.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := sessions.Drop(r.Context(), chi.URLParam(r, "id")); err != nil {
			fail(deps.Log, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func referenceHandler(deps app.Deps, sessions *pipeline.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		o, ok := lookup(deps, sessions, w, r)
		if !ok {
			return
		}
		if !parseMultipart(deps, w, r) {
			return
		}
		reference, _, err := readUpload(r, "reference", deps)
		if err != nil {
			httputil.FailKind(deps.Log, w, string(pipeline.KindValidation), err.Error(), err, http.StatusBadRequest)
			return
		}
		if err := o.SetReference(r.Context(), reference); err != nil {
			fail(deps.Log, w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, o.View())
	}
}

func sessionGenerateHandler(deps app.Deps, sessions *pipeline.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		o, ok := lookup(deps, sessions, w, r)
		if !ok {
			return
		}
		started, err := o.TryStartGeneration()
		if err != nil {
			fail(deps.Log, w, err)
			return
		}
		status := http.StatusOK
		if started {
			status = http.StatusAccepted
		}
		httputil.WriteJSON(w, status, o.View())
	}
}

func sessionEvaluateHandler(deps app.Deps, sessions *pipeline.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		o, ok := lookup(deps, sessions, w, r)
		if !ok {
			return
		}
		metrics, err := o.Evaluate(r.Context())
		if err != nil {
			fail(deps.Log.With("session_id", o.SessionID()), w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"metrics": metrics})
	}
}

func analysisHandler(deps app.Deps, sessions *pipeline.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		o, ok := lookup(deps, sessions, w, r)
		if !ok {
			return
		}
		rep, err := report.Build(o.Snapshot(), time.Now())
		if errors.Is(err, report.ErrIncomplete) {
			fail(deps.Log, w, fmt.Errorf("%w: %v", pipeline.ErrNotEvaluated, err))
			return
		}
		if err != nil {
			fail(deps.Log, w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, rep)
	}
}

type generateRequest struct {
	Transcript string  `json:"transcript" validate:"required"`
	Reference  *string `json:"reference"`
	Model      string  `json:"model" validate:"required"`
}

// generateHandler runs a single stateless generation.
func generateHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.Fail(deps.Log, w, "invalid payload", err, http.StatusBadRequest)
			return
		}
		if err := httputil.Validator.Struct(&req); err != nil {
			httputil.ValidationError(deps.Log, w, err)
			return
		}

		out, err := deps.Generator.Generate(r.Context(), llm.Request{
			Transcript: req.Transcript,
			Reference:  req.Reference,
			Model:      req.Model,
		})
		if err != nil {
			var upErr *llm.UpstreamError
			if errors.As(err, &upErr) && upErr.StatusCode >= 400 {
				kind, msg := pipeline.Describe(err)
				httputil.FailKind(deps.Log, w, string(kind), msg, err, upErr.StatusCode)
				return
			}
			fail(deps.Log, w, err)
			return
		}

		_, message := pipeline.DescribeOutcome(out)
		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"message":   message,
			"modelUsed": out.Model,
			"outcome":   out,
		})
	}
}

type evaluateRequest struct {
	Reference  string              `json:"reference" validate:"required"`
	Candidates []scoring.Candidate `json:"candidates"`
}

// evaluateHandler scores caller-supplied candidates without touching a
// session.
func evaluateHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req evaluateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.Fail(deps.Log, w, "reference must be a string", err, http.StatusBadRequest)
			return
		}
		if err := httputil.Validator.Struct(&req); err != nil {
			httputil.ValidationError(deps.Log, w, err)
			return
		}
		metrics, err := deps.Evaluator.Evaluate(r.Context(), req.Reference, req.Candidates)
		if err != nil {
			fail(deps.Log, w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"metrics": metrics})
	}
}

func lookup(deps app.Deps, sessions *pipeline.Manager, w http.ResponseWriter, r *http.Request) (*pipeline.Orchestrator, bool) {
	o, err := sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(deps.Log, w, err)
		return nil, false
	}
	return o, true
}

// fail maps err to its kind and status and writes only the user message.
func fail(log *slog.Logger, w http.ResponseWriter, err error) {
	kind, msg := pipeline.Describe(err)
	httputil.FailKind(log, w, string(kind), msg, err, statusFor(kind))
}

func statusFor(kind pipeline.Kind) int {
	switch kind {
	case pipeline.KindValidation, pipeline.KindScoring:
		return http.StatusBadRequest
	case pipeline.KindConflict:
		return http.StatusConflict
	case pipeline.KindNotFound:
		return http.StatusNotFound
	case pipeline.KindUpstream:
		return http.StatusBadGateway
	case pipeline.KindStorage:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func parseMultipart(deps app.Deps, w http.ResponseWriter, r *http.Request) bool {
	maxSize := deps.Config.MaxUploadSize
	if r.ContentLength > maxSize {
		httputil.Fail(deps.Log, w, fmt.Sprintf("upload too large (max %d bytes)", maxSize), nil, http.StatusBadRequest)
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)
	if err := r.ParseMultipartForm(maxSize); err != nil {
		httputil.Fail(deps.Log, w, "invalid multipart upload", err, http.StatusBadRequest)
		return false
	}
	return true
}

// readUpload returns the text of the named file part, or of a plain form
// field with the same name. ok is false when neither is present.
func readUpload(r *http.Request, field string, deps app.Deps) (string, bool, error) {
	file, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		v, ok := r.MultipartForm.Value[field]
		if !ok || len(v) == 0 {
			return "", false, nil
		}
		return v[0], true, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s", field)
	}
	defer file.Close()

	if !transcript.Supported(header.Filename) {
		return "", false, fmt.Errorf("unsupported %s file type (only PDF and TXT allowed)", field)
	}
	content, err := io.ReadAll(file)
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s", field)
	}
	text, err := transcript.Extract(header.Filename, content)
	if err != nil {
		deps.Log.Warn("text extraction failed, using raw bytes", "err", err, "filename", header.Filename)
	}
	return text, true, nil
}
