// Package observe holds the OpenTelemetry instruments recorded by the
// generation and evaluation pipeline. InitProvider bridges them to a
// Prometheus registry so the gateway can serve /metrics; tests should build
// their own instance with NewMetrics and a ManualReader.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "soap-evaluator"

// Metrics holds all metric instruments for the application.
type Metrics struct {
	// GenerationDuration tracks upstream generation latency. Attributes:
	// provider, status.
	GenerationDuration metric.Float64Histogram

	// EvaluationDuration tracks scoring latency.
	EvaluationDuration metric.Float64Histogram

	// ProviderRequests counts upstream calls by provider and status
	// (success, quota_exceeded, error).
	ProviderRequests metric.Int64Counter

	// Evaluations counts evaluation runs by status.
	Evaluations metric.Int64Counter

	// ActiveRuns tracks in-flight generation and evaluation runs. Attribute:
	// kind.
	ActiveRuns metric.Int64UpDownCounter
}

// latencyBuckets are in seconds and sized for LLM round-trips.
var latencyBuckets = []float64{
	0.005, 0.05, 0.25, 0.5, 1, 2.5, 5, 10, 20, 45, 60,
}

// NewMetrics creates the instruments on the given MeterProvider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.GenerationDuration, err = m.Float64Histogram("soap.generation.duration",
		metric.WithDescription("Latency of SOAP note generation requests."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EvaluationDuration, err = m.Float64Histogram("soap.evaluation.duration",
		metric.WithDescription("Latency of scoring a generated note against the reference."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("soap.provider.requests",
		metric.WithDescription("Total upstream generation requests by provider and status."),
	); err != nil {
		return nil, err
	}
	if met.Evaluations, err = m.Int64Counter("soap.evaluations",
		metric.WithDescription("Total evaluation runs by status."),
	); err != nil {
		return nil, err
	}
	if met.ActiveRuns, err = m.Int64UpDownCounter("soap.active_runs",
		metric.WithDescription("Generation and evaluation runs currently in flight."),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level Metrics built on the global
// MeterProvider. It panics if instrument creation fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordGeneration records one upstream call and its latency.
func (m *Metrics) RecordGeneration(ctx context.Context, provider, status string, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("status", status),
	)
	m.ProviderRequests.Add(ctx, 1, attrs)
	m.GenerationDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordEvaluation records one evaluation run and its latency.
func (m *Metrics) RecordEvaluation(ctx context.Context, status string, elapsed time.Duration) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.Evaluations.Add(ctx, 1, attrs)
	m.EvaluationDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// TrackRun increments the in-flight gauge for kind and returns a func that
// decrements it.
func (m *Metrics) TrackRun(ctx context.Context, kind string) func() {
	attrs := metric.WithAttributes(attribute.String("kind", kind))
	m.ActiveRuns.Add(ctx, 1, attrs)
	return func() { m.ActiveRuns.Add(context.WithoutCancel(ctx), -1, attrs) }
}
