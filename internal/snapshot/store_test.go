package snapshot

import (
	"testing"
	"time"

	"assetsense/internal/model"
)

func TestUpdateAndGet(t *testing.T) {
	s := NewStore(10)
	now := time.Now().UTC()
	s.Update(model.SensorReading{AssetID: 1, MetricType: model.MetricTemperature, Value: 70, Timestamp: now})
	s.Update(model.SensorReading{AssetID: 1, MetricType: model.MetricVibration, Value: 3, Timestamp: now})

	readings, _, ok := s.Get(1)
	if !ok {
		t.Fatalf("expected asset 1")
	}
	if len(readings) != 2 {
		t.Fatalf("len = %d, want 2", len(readings))
	}
}

func TestStaleReadingDoesNotOverwrite(t *testing.T) {
	s := NewStore(10)
	now := time.Now().UTC()
	s.Update(model.SensorReading{AssetID: 1, MetricType: model.MetricTemperature, Value: 90, Timestamp: now})
	s.Update(model.SensorReading{AssetID: 1, MetricType: model.MetricTemperature, Value: 70, Timestamp: now.Add(-time.Hour)})

	readings, _, _ := s.Get(1)
	if readings[0].Value != 90 {
		t.Fatalf("stale reading overwrote latest: %v", readings[0].Value)
	}
}

func TestEviction(t *testing.T) {
	s := NewStore(2)
	now := time.Now().UTC()
	for i := int64(1); i <= 3; i++ {
		s.Update(model.SensorReading{AssetID: i, MetricType: model.MetricTemperature, Value: 1, Timestamp: now})
		time.Sleep(time.Millisecond)
	}
	if s.AssetCount() != 2 {
		t.Fatalf("count = %d, want 2", s.AssetCount())
	}
	if _, _, ok := s.Get(1); ok {
		t.Fatalf("oldest asset not evicted")
	}
}
