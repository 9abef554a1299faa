package observe

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumWhere returns the counter value of the data point carrying key=value.
func sumWhere(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not an int64 sum", name)
	}
	for _, dp := range sum.DataPoints {
		if key == "" {
			return dp.Value
		}
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == key && kv.Value.AsString() == value {
				return dp.Value
			}
		}
	}
	t.Fatalf("metric %q has no data point with %s=%s", name, key, value)
	return 0
}

func TestRecordTransition(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTransition(ctx, "IDLE", "RECORDING")
	m.RecordTransition(ctx, "RECORDING", "PAUSED")
	m.RecordTransition(ctx, "PAUSED", "RECORDING")

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "pocketrec.session.transitions", "to", "RECORDING"); got != 2 {
		t.Errorf("transitions to RECORDING = %d, want 2", got)
	}
	if got := sumWhere(t, rm, "pocketrec.session.transitions", "to", "PAUSED"); got != 1 {
		t.Errorf("transitions to PAUSED = %d, want 1", got)
	}
}

func TestRecordSaved(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordSaved(ctx, 65000)
	m.RecordSaved(ctx, 1500)

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "pocketrec.recordings.saved", "", ""); got != 2 {
		t.Errorf("saved = %d, want 2", got)
	}

	met := findMetric(rm, "pocketrec.recording.duration")
	if met == nil {
		t.Fatal("duration histogram not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("duration metric is not a histogram")
	}
	if len(hist.DataPoints) == 0 || hist.DataPoints[0].Count != 2 {
		t.Fatalf("expected 2 observations, got %+v", hist.DataPoints)
	}
	if hist.DataPoints[0].Sum != 66.5 {
		t.Errorf("duration sum = %v, want 66.5", hist.DataPoints[0].Sum)
	}
}

func TestFailureCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordStorageFailure(ctx, "create")
	m.RecordStorageFailure(ctx, "create")
	m.RecordCaptureFailure(ctx, "start", "permission_denied")

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "pocketrec.storage.failures", "op", "create"); got != 2 {
		t.Errorf("storage failures = %d, want 2", got)
	}
	if got := sumWhere(t, rm, "pocketrec.capture.failures", "kind", "permission_denied"); got != 1 {
		t.Errorf("capture failures = %d, want 1", got)
	}
}

func TestDefaultMetricsIsShared(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Fatal("DefaultMetrics returned different instances")
	}
}
