package predict

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"assetsense/internal/config"
	"assetsense/internal/feature"
	"assetsense/internal/model"
	"assetsense/internal/storage"
	"assetsense/internal/telemetry"
)

// ErrInsufficientTraining signals the hard sample floor: training is
// skipped and the previous bundle (or the heuristic path) stays active.
var ErrInsufficientTraining = errors.New("insufficient training samples")

const ridgeLambda = 1.0

// Trainer fits a ridge regression failure-likelihood model plus a
// z-distance anomaly threshold on historical features, and publishes the
// result as an immutable bundle. Callers trigger training explicitly;
// there is no timer.
type Trainer struct {
	store     storage.Store
	extractor *feature.Extractor
	cfg       *config.Manager
	logger    *slog.Logger
	metrics   *telemetry.Metrics
	bundle    atomic.Pointer[Bundle]
}

func NewTrainer(store storage.Store, extractor *feature.Extractor, cfg *config.Manager, logger *slog.Logger, metrics *telemetry.Metrics) *Trainer {
	return &Trainer{
		store:     store,
		extractor: extractor,
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
	}
}

// Bundle returns the currently published model, or nil when no training
// run has succeeded yet.
func (t *Trainer) Bundle() *Bundle {
	return t.bundle.Load()
}

func (t *Trainer) Train(ctx context.Context) error {
	cfg := t.cfg.Get()
	since := time.Now().UTC().AddDate(0, 0, -cfg.Prediction.TrainingLookbackDays)

	workOrders, err := t.store.CompletedWorkOrders(ctx, since)
	if err != nil {
		t.countRun("error")
		return fmt.Errorf("load work orders: %w", err)
	}
	assetIDs, err := t.store.ActiveAssetIDs(ctx, since)
	if err != nil {
		t.countRun("error")
		return fmt.Errorf("load asset ids: %w", err)
	}
	history := make(map[int64][]model.SensorReading, len(assetIDs))
	for _, assetID := range assetIDs {
		readings, err := t.store.AssetHistory(ctx, assetID, since, cfg.Prediction.MinQuality)
		if err != nil {
			t.countRun("error")
			return fmt.Errorf("load history for asset %d: %w", assetID, err)
		}
		if len(readings) > 0 {
			history[assetID] = readings
		}
	}

	rows := t.extractor.TrainingFeatures(workOrders, history)
	if len(rows) < cfg.Prediction.MinTrainingSamples {
		t.countRun("skipped")
		if t.logger != nil {
			t.logger.Info("training skipped, below sample floor",
				"samples", len(rows), "floor", cfg.Prediction.MinTrainingSamples)
		}
		return ErrInsufficientTraining
	}

	bundle := fit(rows)
	t.bundle.Store(bundle)
	t.countRun("success")
	if t.logger != nil {
		t.logger.Info("model trained",
			"samples", bundle.Samples,
			"anomaly_threshold", bundle.AnomalyThreshold)
	}
	return nil
}

// TrainAsync runs Train on its own goroutine; the regression fit is
// CPU-bound and must not block request handling.
func (t *Trainer) TrainAsync(ctx context.Context) {
	go func() {
		if err := t.Train(ctx); err != nil && !errors.Is(err, ErrInsufficientTraining) {
			if t.logger != nil {
				t.logger.Error("training failed", "err", err)
			}
		}
	}()
}

func (t *Trainer) countRun(outcome string) {
	if t.metrics != nil {
		t.metrics.TrainingRuns.WithLabelValues(outcome).Inc()
	}
}

func fit(rows []model.FeatureVector) *Bundle {
	dims := len(feature.FeatureNames)
	raw := make([][]float64, len(rows))
	labels := make([]float64, len(rows))
	for i, row := range rows {
		raw[i] = []float64{row.Mean, row.Std, row.Max, row.Min, row.Trend, row.AnomalyScore}
		if row.FailureOccurred {
			labels[i] = 1
		}
	}
	scaler := FitScaler(raw, dims)

	// Design matrix over scaled features with a trailing bias column;
	// ridge-regularized normal equations keep the solve well posed even
	// with collinear features.
	n := len(rows)
	cols := dims + 1
	x := mat.NewDense(n, cols, nil)
	for i, row := range raw {
		scaled := scaler.Transform(row)
		for j, v := range scaled {
			x.Set(i, j, v)
		}
		x.Set(i, dims, 1)
	}
	y := mat.NewVecDense(n, labels)

	var xtx mat.Dense
	xtx.Mul(x.T(), x)
	for j := 0; j < dims; j++ {
		xtx.Set(j, j, xtx.At(j, j)+ridgeLambda)
	}
	var xty mat.VecDense
	xty.MulVec(x.T(), y)

	weights := make([]float64, cols)
	var solved mat.VecDense
	if err := solved.SolveVec(&xtx, &xty); err == nil {
		for j := 0; j < cols; j++ {
			weights[j] = solved.AtVec(j)
		}
	} else {
		// Singular even with the ridge term: fall back to predicting
		// the base failure rate.
		weights[dims] = stat.Mean(labels, nil)
	}

	return &Bundle{
		Weights:          weights,
		Scaler:           scaler,
		Importance:       importanceFrom(weights, dims),
		AnomalyThreshold: anomalyThreshold(raw, scaler),
		TrainedAt:        time.Now().UTC(),
		Samples:          n,
	}
}

func importanceFrom(weights []float64, dims int) map[string]float64 {
	var total float64
	for j := 0; j < dims; j++ {
		if weights[j] < 0 {
			total -= weights[j]
		} else {
			total += weights[j]
		}
	}
	out := make(map[string]float64, dims)
	for j, name := range feature.FeatureNames {
		if total == 0 {
			out[name] = 0
			continue
		}
		w := weights[j]
		if w < 0 {
			w = -w
		}
		out[name] = w / total
	}
	return out
}

// anomalyThreshold is the 97.5th percentile of training mean-|z|
// distances, so roughly 2.5% of training rows would flag as anomalous.
func anomalyThreshold(raw [][]float64, scaler Scaler) float64 {
	scores := make([]float64, len(raw))
	for i, row := range raw {
		scaled := scaler.Transform(row)
		var sum float64
		for _, v := range scaled {
			if v < 0 {
				v = -v
			}
			sum += v
		}
		scores[i] = sum / float64(len(scaled))
	}
	sort.Float64s(scores)
	return stat.Quantile(0.975, stat.Empirical, scores, nil)
}
