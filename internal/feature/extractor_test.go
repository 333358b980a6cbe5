package feature

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"assetsense/internal/model"
)

func TestComputeBasicStats(t *testing.T) {
	stats := Compute([]float64{2, 4, 6})
	require.InDelta(t, 4.0, stats.Mean, 1e-9)
	require.InDelta(t, 1.632993, stats.Std, 1e-5)
	require.Equal(t, 6.0, stats.Max)
	require.Equal(t, 2.0, stats.Min)
	require.InDelta(t, 2.0, stats.Trend, 1e-9)
	// Below MinWindowPoints there is no anomaly score.
	require.Zero(t, stats.AnomalyScore)
	require.Equal(t, 3, stats.Count)
}

func TestComputeTrendNeedsThreePoints(t *testing.T) {
	stats := Compute([]float64{1, 100})
	require.Zero(t, stats.Trend)
}

func TestComputeAnomalyScore(t *testing.T) {
	values := make([]float64, 12)
	for i := range values {
		values[i] = float64(i % 2) // alternating 0/1
	}
	stats := Compute(values)
	require.Greater(t, stats.AnomalyScore, 0.0)
	// Mean |z| of a symmetric two-point distribution is exactly 1.
	require.InDelta(t, 1.0, stats.AnomalyScore, 1e-9)
}

func TestComputeEmpty(t *testing.T) {
	stats := Compute(nil)
	require.Zero(t, stats.Mean)
	require.Zero(t, stats.Count)
}

func TestGroupByMetricOrdersChronologically(t *testing.T) {
	base := time.Now().UTC()
	readings := []model.SensorReading{
		{MetricType: model.MetricTemperature, Value: 3, Timestamp: base.Add(2 * time.Hour)},
		{MetricType: model.MetricTemperature, Value: 1, Timestamp: base},
		{MetricType: model.MetricTemperature, Value: 2, Timestamp: base.Add(time.Hour)},
		{MetricType: model.MetricVibration, Value: 9, Timestamp: base},
	}
	grouped := GroupByMetric(readings)
	require.Equal(t, []float64{1, 2, 3}, grouped[model.MetricTemperature])
	require.Equal(t, []float64{9}, grouped[model.MetricVibration])
}

func TestLiveFeaturesSkipsSparseMetrics(t *testing.T) {
	base := time.Now().UTC()
	readings := []model.SensorReading{
		{MetricType: model.MetricTemperature, Value: 1, Timestamp: base},
		{MetricType: model.MetricTemperature, Value: 2, Timestamp: base.Add(time.Minute)},
		{MetricType: model.MetricTemperature, Value: 3, Timestamp: base.Add(2 * time.Minute)},
		{MetricType: model.MetricVibration, Value: 9, Timestamp: base},
	}
	features := NewExtractor().LiveFeatures(readings)
	require.Contains(t, features, "temperature_mean")
	require.Contains(t, features, "temperature_trend")
	require.NotContains(t, features, "vibration_mean")
}

func TestTrainingFeaturesLabeling(t *testing.T) {
	base := time.Now().UTC()
	history := map[int64][]model.SensorReading{
		1: syntheticReadings(1, base, 12, 90),
		2: syntheticReadings(2, base, 12, 40),
		3: syntheticReadings(3, base, 5, 40), // below MinWindowPoints
	}
	workOrders := []model.WorkOrder{
		{AssetID: 1, Type: model.WorkOrderCorrective},
		{AssetID: 2, Type: model.WorkOrderPreventive},
	}
	rows := NewExtractor().TrainingFeatures(workOrders, history)
	require.Len(t, rows, 2)
	// Deterministic asset order.
	require.Equal(t, int64(1), rows[0].AssetID)
	require.True(t, rows[0].FailureOccurred)
	require.Equal(t, int64(2), rows[1].AssetID)
	require.False(t, rows[1].FailureOccurred, "preventive orders are not failure labels")
}

func syntheticReadings(assetID int64, base time.Time, n int, level float64) []model.SensorReading {
	out := make([]model.SensorReading, n)
	for i := range out {
		out[i] = model.SensorReading{
			AssetID:      assetID,
			MetricType:   model.MetricTemperature,
			Value:        level + float64(i%3),
			Timestamp:    base.Add(time.Duration(i) * time.Hour),
			QualityScore: 1.0,
		}
	}
	return out
}
