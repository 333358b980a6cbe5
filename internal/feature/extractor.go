package feature

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"assetsense/internal/model"
)

const (
	// MinTrendPoints readings are needed before a trend slope is
	// computed; MinWindowPoints before a (asset, metric) pair yields a
	// training row or an anomaly score.
	MinTrendPoints  = 3
	MinWindowPoints = 10
)

// FeatureNames is the canonical per-metric feature order shared by the
// trainer and the predictor.
var FeatureNames = []string{"mean", "std", "max", "min", "trend", "anomaly_score"}

type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

// MetricStats holds the rolling statistics for one metric window.
type MetricStats struct {
	Mean         float64
	Std          float64
	Max          float64
	Min          float64
	Trend        float64
	AnomalyScore float64
	Count        int
}

func (m MetricStats) Vector() []float64 {
	return []float64{m.Mean, m.Std, m.Max, m.Min, m.Trend, m.AnomalyScore}
}

// Compute derives the window statistics from values in chronological
// order. Trend defaults to 0 below MinTrendPoints, anomaly score below
// MinWindowPoints.
func Compute(values []float64) MetricStats {
	out := MetricStats{Count: len(values)}
	if len(values) == 0 {
		return out
	}
	out.Mean = stat.Mean(values, nil)
	out.Std = math.Sqrt(stat.PopVariance(values, nil))
	out.Max = floats.Max(values)
	out.Min = floats.Min(values)
	if len(values) >= MinTrendPoints {
		xs := make([]float64, len(values))
		for i := range xs {
			xs[i] = float64(i)
		}
		_, slope := stat.LinearRegression(xs, values, nil, false)
		if !math.IsNaN(slope) && !math.IsInf(slope, 0) {
			out.Trend = slope
		}
	}
	if len(values) >= MinWindowPoints && out.Std > 0 {
		var sum float64
		for _, v := range values {
			sum += math.Abs((v - out.Mean) / out.Std)
		}
		out.AnomalyScore = sum / float64(len(values))
	}
	return out
}

// GroupByMetric splits readings per metric type, values ordered oldest
// first regardless of input order.
func GroupByMetric(readings []model.SensorReading) map[model.MetricType][]float64 {
	type sample struct {
		ts    int64
		value float64
	}
	grouped := make(map[model.MetricType][]sample)
	for _, r := range readings {
		grouped[r.MetricType] = append(grouped[r.MetricType], sample{ts: r.Timestamp.UnixNano(), value: r.Value})
	}
	out := make(map[model.MetricType][]float64, len(grouped))
	for metric, samples := range grouped {
		sort.Slice(samples, func(i, j int) bool { return samples[i].ts < samples[j].ts })
		values := make([]float64, len(samples))
		for i, s := range samples {
			values[i] = s.value
		}
		out[metric] = values
	}
	return out
}

// LiveFeatures computes the flat feature map for one asset's recent
// readings, keyed "{metric}_{stat}". Metrics with fewer than
// MinTrendPoints readings are skipped entirely.
func (e *Extractor) LiveFeatures(readings []model.SensorReading) map[string]float64 {
	out := make(map[string]float64)
	for metric, values := range GroupByMetric(readings) {
		if len(values) < MinTrendPoints {
			continue
		}
		stats := Compute(values)
		vec := stats.Vector()
		for i, name := range FeatureNames {
			out[fmt.Sprintf("%s_%s", metric, name)] = vec[i]
		}
	}
	return out
}

// MetricWindows computes per-metric statistics for one asset's recent
// readings, used by the heuristic predictor and the model scorer.
func (e *Extractor) MetricWindows(readings []model.SensorReading) map[model.MetricType]MetricStats {
	out := make(map[model.MetricType]MetricStats)
	for metric, values := range GroupByMetric(readings) {
		out[metric] = Compute(values)
	}
	return out
}

// TrainingFeatures builds one row per (asset, metric) pair with at least
// MinWindowPoints readings, labeled true when the asset has any
// corrective work order in the historical set.
func (e *Extractor) TrainingFeatures(workOrders []model.WorkOrder, history map[int64][]model.SensorReading) []model.FeatureVector {
	failed := make(map[int64]bool)
	for _, wo := range workOrders {
		if wo.Type == model.WorkOrderCorrective {
			failed[wo.AssetID] = true
		}
	}
	assetIDs := make([]int64, 0, len(history))
	for assetID := range history {
		assetIDs = append(assetIDs, assetID)
	}
	sort.Slice(assetIDs, func(i, j int) bool { return assetIDs[i] < assetIDs[j] })

	var out []model.FeatureVector
	for _, assetID := range assetIDs {
		for metric, values := range GroupByMetric(history[assetID]) {
			if len(values) < MinWindowPoints {
				continue
			}
			stats := Compute(values)
			out = append(out, model.FeatureVector{
				AssetID:         assetID,
				MetricType:      metric,
				Mean:            stats.Mean,
				Std:             stats.Std,
				Max:             stats.Max,
				Min:             stats.Min,
				Trend:           stats.Trend,
				AnomalyScore:    stats.AnomalyScore,
				FailureOccurred: failed[assetID],
			})
		}
	}
	return out
}
