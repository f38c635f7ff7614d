// Package observability records job lifecycle metrics from the event
// bus using OpenTelemetry instruments. Register it on an engine's bus
// to track queue rates, completion and failure counts, and generation
// durations.
package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/medusavr/renderq"
	"github.com/medusavr/renderq/event"
	"github.com/medusavr/renderq/generate"
	"github.com/medusavr/renderq/job"
)

// meterName is the instrumentation scope name for renderq metrics.
const meterName = "github.com/medusavr/renderq"

// Metrics holds the lifecycle instruments. If no MeterProvider is
// configured, the OTel API hands back noop instruments and recording
// becomes a pass-through.
type Metrics struct {
	created   metric.Int64Counter
	completed metric.Int64Counter
	failed    metric.Int64Counter
	cancelled metric.Int64Counter
	fallbacks metric.Int64Counter
	duration  metric.Float64Histogram
}

// NewMetrics creates Metrics using the global OTel MeterProvider.
func NewMetrics() *Metrics {
	return NewMetricsWithMeter(otel.Meter(meterName))
}

// NewMetricsWithMeter creates Metrics with the provided meter. This
// variant allows injecting a specific MeterProvider for testing.
func NewMetricsWithMeter(meter metric.Meter) *Metrics {
	// On error the OTel API returns noop instruments, so the metrics
	// layer degrades gracefully.
	created, _ := meter.Int64Counter(
		"renderq.job.created",
		metric.WithDescription("Total jobs enqueued"),
		metric.WithUnit("{job}"),
	)
	completed, _ := meter.Int64Counter(
		"renderq.job.completed",
		metric.WithDescription("Total jobs completed"),
		metric.WithUnit("{job}"),
	)
	failed, _ := meter.Int64Counter(
		"renderq.job.failed",
		metric.WithDescription("Total jobs failed"),
		metric.WithUnit("{job}"),
	)
	cancelled, _ := meter.Int64Counter(
		"renderq.job.cancelled",
		metric.WithDescription("Total jobs cancelled while queued"),
		metric.WithUnit("{job}"),
	)
	fallbacks, _ := meter.Int64Counter(
		"renderq.job.placeholder_fallbacks",
		metric.WithDescription("Total jobs completed with placeholder images"),
		metric.WithUnit("{job}"),
	)
	duration, _ := meter.Float64Histogram(
		"renderq.job.duration",
		metric.WithDescription("Generation time of completed jobs in seconds"),
		metric.WithUnit("s"),
	)

	return &Metrics{
		created:   created,
		completed: completed,
		failed:    failed,
		cancelled: cancelled,
		fallbacks: fallbacks,
		duration:  duration,
	}
}

// Register subscribes the instruments to the bus's lifecycle topics.
func (m *Metrics) Register(bus *event.Bus) {
	bus.Subscribe(event.TopicJobCreated, func(ctx context.Context, j *job.Job) {
		m.created.Add(ctx, 1)
	})

	bus.Subscribe(event.TopicJobCompleted, func(ctx context.Context, j *job.Job) {
		conditioned := j.Result != nil && j.Result.UsedCharacterConditioning
		attrs := metric.WithAttributes(attribute.Bool("conditioned", conditioned))
		m.completed.Add(ctx, 1, attrs)
		if j.Result != nil {
			if j.Result.Stage == string(generate.StagePlaceholder) {
				m.fallbacks.Add(ctx, 1)
			}
			m.duration.Record(ctx, j.Result.GenerationTimeSeconds, attrs)
		}
	})

	bus.Subscribe(event.TopicJobFailed, func(ctx context.Context, j *job.Job) {
		if j.Error == renderq.CancelledByOwner {
			m.cancelled.Add(ctx, 1)
			return
		}
		m.failed.Add(ctx, 1)
	})
}
