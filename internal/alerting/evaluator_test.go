package alerting

import (
	"testing"
	"time"

	"assetsense/internal/config"
	"assetsense/internal/model"
)

func reading(metric model.MetricType, value float64) model.SensorReading {
	return model.SensorReading{
		Timestamp:    time.Now().UTC(),
		SensorID:     "s-1",
		AssetID:      7,
		MetricType:   metric,
		Value:        value,
		QualityScore: 1.0,
	}
}

func TestCheckCritical(t *testing.T) {
	ev := NewEvaluator()
	alert, ok := ev.Check(reading(model.MetricTemperature, 105), config.DefaultThresholds())
	if !ok {
		t.Fatalf("expected alert")
	}
	if alert.Severity != "critical" {
		t.Fatalf("severity = %q, want critical", alert.Severity)
	}
	if alert.Threshold != 100 {
		t.Fatalf("threshold = %v, want 100", alert.Threshold)
	}
	if alert.AlertType != "threshold" {
		t.Fatalf("alert_type = %q", alert.AlertType)
	}
}

func TestCheckHighAtWarningBoundary(t *testing.T) {
	ev := NewEvaluator()
	alert, ok := ev.Check(reading(model.MetricTemperature, 85), config.DefaultThresholds())
	if !ok {
		t.Fatalf("expected alert at warning boundary")
	}
	if alert.Severity != "high" {
		t.Fatalf("severity = %q, want high", alert.Severity)
	}
}

func TestCheckBelowWarning(t *testing.T) {
	ev := NewEvaluator()
	if _, ok := ev.Check(reading(model.MetricTemperature, 50), config.DefaultThresholds()); ok {
		t.Fatalf("unexpected alert below warning")
	}
}

func TestCheckUnconfiguredMetric(t *testing.T) {
	ev := NewEvaluator()
	thresholds := config.ThresholdsConfig{
		model.MetricTemperature: {Warning: 85, Critical: 100, Unit: "°C"},
	}
	if _, ok := ev.Check(reading(model.MetricVibration, 999), thresholds); ok {
		t.Fatalf("unexpected alert for unconfigured metric")
	}
}

func TestStoreRingBound(t *testing.T) {
	s := NewStore(3)
	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		s.Add(model.AlertEvent{AssetID: int64(i), Timestamp: base.Add(time.Duration(i) * time.Second)})
	}
	got := s.List(0)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].AssetID != 2 || got[2].AssetID != 4 {
		t.Fatalf("oldest entries not evicted: %+v", got)
	}
}

func TestStoreSince(t *testing.T) {
	s := NewStore(10)
	base := time.Now().UTC()
	for i := 0; i < 4; i++ {
		s.Add(model.AlertEvent{AssetID: int64(i), Timestamp: base.Add(time.Duration(i) * time.Minute)})
	}
	got := s.Since(base.Add(2 * time.Minute))
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
}
