package monitoring

import (
	"testing"
	"time"
)

func TestCounterAccumulates(t *testing.T) {
	mc := NewMetricsCollector()
	labels := map[string]string{"route": "/predict", "status": "200"}
	mc.IncrCounter("http_requests_total", 1, labels)
	mc.IncrCounter("http_requests_total", 1, map[string]string{"status": "200", "route": "/predict"})
	mc.IncrCounter("http_requests_total", 1, map[string]string{"route": "/predict", "status": "400"})

	if got := mc.Counter("http_requests_total", labels); got != 2 {
		t.Fatalf("expected 2, got %v", got)
	}
	if got := mc.Counter("missing", nil); got != 0 {
		t.Fatalf("expected 0 for unknown counter, got %v", got)
	}
}

func TestDurationSummary(t *testing.T) {
	mc := NewMetricsCollector()
	for i := 1; i <= 100; i++ {
		mc.ObserveDuration("predict_latency_ms", time.Duration(i)*time.Millisecond, nil)
	}
	summary, err := mc.GetMetricSummary("predict_latency_ms", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Count != 100 || summary.Min != 1 || summary.Max != 100 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if summary.P50 != 50 || summary.P95 != 95 {
		t.Fatalf("unexpected quantiles p50=%v p95=%v", summary.P50, summary.P95)
	}
	if summary.Average != 50.5 {
		t.Fatalf("expected average 50.5, got %v", summary.Average)
	}
}

func TestSummaryHistoryIsBounded(t *testing.T) {
	mc := NewMetricsCollector()
	for i := 0; i < maxSamples+50; i++ {
		mc.RecordMetric(Metric{Name: "x", Type: MetricTypeSummary, Value: float64(i)})
	}
	summary, _ := mc.GetMetricSummary("x", nil)
	if summary.Count != maxSamples+50 {
		t.Fatalf("expected count %d, got %d", maxSamples+50, summary.Count)
	}
	if summary.Min != 50 {
		t.Fatalf("expected oldest samples dropped, min=%v", summary.Min)
	}
}

func TestSnapshot(t *testing.T) {
	mc := NewMetricsCollector()
	mc.SetGauge("model_loaded", 1, nil)
	snapshot := mc.Snapshot()
	summaries, ok := snapshot["metrics"].([]Summary)
	if !ok || len(summaries) != 1 || summaries[0].Latest != 1 {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}
	if _, err := mc.ExportJSON(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNilCollectorIsNoop(t *testing.T) {
	var mc *MetricsCollector
	mc.IncrCounter("x", 1, nil)
}
