// Package observe holds the process-wide OpenTelemetry instruments for
// pocketrec and the HTTP middleware that records request latency.
//
// Instruments are created against a [metric.MeterProvider]. [InitProvider]
// installs a provider backed by the Prometheus exporter so the server can
// expose /metrics. Tests build their own provider with a ManualReader and
// pass it to [NewMetrics].
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/audiolibrelab/pocketrec"

// Metrics groups the instruments used across pocketrec.
type Metrics struct {
	// StateTransitions counts session state changes. Attributes: from, to.
	StateTransitions metric.Int64Counter

	// RecordingsSaved counts recordings handed to the catalog successfully.
	RecordingsSaved metric.Int64Counter

	// StorageFailures counts failed catalog mutations. Attribute: op.
	StorageFailures metric.Int64Counter

	// CaptureFailures counts capture errors. Attributes: op, kind.
	CaptureFailures metric.Int64Counter

	// RecordingDuration observes the length of saved recordings in seconds.
	RecordingDuration metric.Float64Histogram

	// ActiveSessions is 1 while a capture session is held.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration observes request latency. Attributes: method, path.
	HTTPRequestDuration metric.Float64Histogram
}

// recordingBuckets are boundaries in seconds, from a short memo to an hour
var recordingBuckets = []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600}

// NewMetrics creates all instruments from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.StateTransitions, err = m.Int64Counter("pocketrec.session.transitions",
		metric.WithDescription("Recording session state transitions by source and target state."),
	); err != nil {
		return nil, err
	}
	if met.RecordingsSaved, err = m.Int64Counter("pocketrec.recordings.saved",
		metric.WithDescription("Recordings persisted to the catalog."),
	); err != nil {
		return nil, err
	}
	if met.StorageFailures, err = m.Int64Counter("pocketrec.storage.failures",
		metric.WithDescription("Catalog storage failures by operation."),
	); err != nil {
		return nil, err
	}
	if met.CaptureFailures, err = m.Int64Counter("pocketrec.capture.failures",
		metric.WithDescription("Audio capture failures by operation and kind."),
	); err != nil {
		return nil, err
	}
	if met.RecordingDuration, err = m.Float64Histogram("pocketrec.recording.duration",
		metric.WithDescription("Duration of saved recordings."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(recordingBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("pocketrec.active_sessions",
		metric.WithDescription("Capture sessions currently held."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("pocketrec.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a shared instance bound to the global meter
// provider. Panics if instrument creation fails.
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

// RecordTransition counts a session moving between two states.
func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	m.StateTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// RecordSaved counts a saved recording and observes its length.
func (m *Metrics) RecordSaved(ctx context.Context, durationMillis int64) {
	m.RecordingsSaved.Add(ctx, 1)
	m.RecordingDuration.Record(ctx, float64(durationMillis)/1000)
}

// RecordStorageFailure counts a failed catalog operation.
func (m *Metrics) RecordStorageFailure(ctx context.Context, op string) {
	m.StorageFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}

// RecordCaptureFailure counts a failed capture call.
func (m *Metrics) RecordCaptureFailure(ctx context.Context, op, kind string) {
	m.CaptureFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("kind", kind),
	))
}
