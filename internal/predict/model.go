package predict

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Scaler standardizes feature vectors to zero mean and unit variance
// using the moments captured at training time.
type Scaler struct {
	Means []float64 `json:"means"`
	Stds  []float64 `json:"stds"`
}

func FitScaler(rows [][]float64, dims int) Scaler {
	s := Scaler{Means: make([]float64, dims), Stds: make([]float64, dims)}
	if len(rows) == 0 {
		for i := range s.Stds {
			s.Stds[i] = 1
		}
		return s
	}
	col := make([]float64, len(rows))
	for d := 0; d < dims; d++ {
		for i, row := range rows {
			col[i] = row[d]
		}
		s.Means[d] = stat.Mean(col, nil)
		s.Stds[d] = math.Sqrt(stat.PopVariance(col, nil))
		if s.Stds[d] == 0 {
			s.Stds[d] = 1
		}
	}
	return s
}

func (s Scaler) Transform(v []float64) []float64 {
	out := make([]float64, len(v))
	for i := range v {
		out[i] = (v[i] - s.Means[i]) / s.Stds[i]
	}
	return out
}

// Bundle is an immutable trained-model artifact: ridge-regression
// weights over scaled features plus a z-distance anomaly threshold.
// Trainers publish a fresh Bundle by atomic swap; predictors only read.
type Bundle struct {
	// Weights has one entry per feature plus a trailing bias term.
	Weights          []float64          `json:"weights"`
	Scaler           Scaler             `json:"scaler"`
	Importance       map[string]float64 `json:"feature_importance"`
	AnomalyThreshold float64            `json:"anomaly_threshold"`
	TrainedAt        time.Time          `json:"trained_at"`
	Samples          int                `json:"samples"`
}

// Score returns the failure likelihood for one raw feature vector,
// clamped to [0,1].
func (b *Bundle) Score(features []float64) float64 {
	scaled := b.Scaler.Transform(features)
	score := b.Weights[len(b.Weights)-1]
	for i, v := range scaled {
		score += b.Weights[i] * v
	}
	return clamp01(score)
}

// AnomalyScore is the mean absolute z-distance of the vector from the
// training distribution; values above AnomalyThreshold are anomalous.
func (b *Bundle) AnomalyScore(features []float64) float64 {
	scaled := b.Scaler.Transform(features)
	var sum float64
	for _, v := range scaled {
		sum += math.Abs(v)
	}
	return sum / float64(len(scaled))
}

func (b *Bundle) IsAnomalous(features []float64) bool {
	return b.AnomalyThreshold > 0 && b.AnomalyScore(features) > b.AnomalyThreshold
}

// Confidence derives a score from the spread of the scaled feature
// vector. This is the source system's placeholder heuristic, not a
// calibrated interval; bounded to [0.6, 0.95].
func (b *Bundle) Confidence(features []float64) float64 {
	scaled := b.Scaler.Transform(features)
	std := math.Sqrt(stat.PopVariance(scaled, nil))
	return math.Min(0.95, math.Max(0.6, 1-std))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
