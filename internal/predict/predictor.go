package predict

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"assetsense/internal/config"
	"assetsense/internal/feature"
	"assetsense/internal/model"
	"assetsense/internal/storage"
	"assetsense/internal/telemetry"
)

// trendDriftThreshold is the unit-normalized trend magnitude (total
// drift across the window, in population-stddev units) above which a
// metric counts as trending.
const trendDriftThreshold = 0.5

// Predictor produces per-asset failure predictions from the published
// model bundle, falling back to the deterministic threshold heuristic
// when no model is available or scoring fails. Missing data is a nil
// result, never an error.
type Predictor struct {
	store      storage.Store
	extractor  *feature.Extractor
	trainer    *Trainer
	summarizer Summarizer
	cfg        *config.Manager
	logger     *slog.Logger
	metrics    *telemetry.Metrics
}

func NewPredictor(store storage.Store, extractor *feature.Extractor, trainer *Trainer, summarizer Summarizer, cfg *config.Manager, logger *slog.Logger, metrics *telemetry.Metrics) *Predictor {
	return &Predictor{
		store:      store,
		extractor:  extractor,
		trainer:    trainer,
		summarizer: summarizer,
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
	}
}

func (p *Predictor) Predict(ctx context.Context, assetID int64) (*model.PredictionResult, error) {
	cfg := p.cfg.Get()
	readings, err := p.store.RecentReadings(ctx, assetID,
		cfg.Prediction.WindowHours, cfg.Prediction.MinQuality, cfg.Prediction.MaxRecentRows)
	if err != nil {
		return nil, fmt.Errorf("load recent readings: %w", err)
	}
	if len(readings) == 0 {
		return nil, nil
	}
	windows := p.extractor.MetricWindows(readings)
	if !hasUsableWindow(windows) {
		return nil, nil
	}

	now := time.Now().UTC()
	var probability, confidence float64
	modelBased := false
	if bundle := p.trainer.Bundle(); bundle != nil {
		probability, confidence, modelBased = scoreWithModel(bundle, windows)
	}
	if !modelBased {
		probability, confidence = p.heuristicScore(cfg, readings)
	}

	result := &model.PredictionResult{
		AssetID:              assetID,
		FailureProbability:   probability,
		RiskLevel:            model.RiskFor(probability),
		ConfidenceScore:      confidence,
		PredictedFailureDate: now.AddDate(0, 0, daysToFailure(probability)),
		ContributingFactors:  p.contributingFactors(cfg, windows),
		GeneratedAt:          now,
		ModelBased:           modelBased,
	}
	result.RecommendedActions = recommendedActions(result.RiskLevel)
	result.Summary = p.summarize(ctx, cfg, result)

	if p.metrics != nil {
		p.metrics.Predictions.Inc()
	}
	return result, nil
}

// PredictAll scores the given assets, or every asset active in the last
// 30 days when none are given, sorted by failure probability descending.
// Assets without data are skipped.
func (p *Predictor) PredictAll(ctx context.Context, assetIDs []int64) ([]model.PredictionResult, error) {
	if len(assetIDs) == 0 {
		var err error
		assetIDs, err = p.store.ActiveAssetIDs(ctx, time.Now().UTC().AddDate(0, 0, -30))
		if err != nil {
			return nil, fmt.Errorf("load active assets: %w", err)
		}
	}
	out := make([]model.PredictionResult, 0, len(assetIDs))
	for _, assetID := range assetIDs {
		res, err := p.Predict(ctx, assetID)
		if err != nil {
			if p.logger != nil {
				p.logger.Warn("prediction failed", "asset_id", assetID, "err", err)
			}
			continue
		}
		if res == nil {
			continue
		}
		out = append(out, *res)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].FailureProbability > out[j].FailureProbability
	})
	return out, nil
}

func hasUsableWindow(windows map[model.MetricType]feature.MetricStats) bool {
	for _, stats := range windows {
		if stats.Count >= feature.MinTrendPoints {
			return true
		}
	}
	return false
}

// scoreWithModel scores each metric window with enough points and takes
// the worst as the asset's failure likelihood. Returns ok=false when no
// metric qualifies, which sends the caller down the heuristic path.
func scoreWithModel(bundle *Bundle, windows map[model.MetricType]feature.MetricStats) (float64, float64, bool) {
	var best float64
	var bestVec []float64
	found := false
	for _, stats := range windows {
		if stats.Count < feature.MinWindowPoints {
			continue
		}
		vec := stats.Vector()
		score := bundle.Score(vec)
		if !found || score > best {
			best = score
			bestVec = vec
		}
		found = true
	}
	if !found {
		return 0, 0, false
	}
	return best, bundle.Confidence(bestVec), true
}

// heuristicScore reproduces the rule-based fallback: per-metric risk
// factors over the most recent readings, averaged, default 0.1.
func (p *Predictor) heuristicScore(cfg *config.Config, readings []model.SensorReading) (float64, float64) {
	var factors []float64
	deepWindow := false
	for metric, values := range feature.GroupByMetric(readings) {
		th, ok := cfg.Thresholds[metric]
		if !ok {
			continue
		}
		if len(values) > cfg.Prediction.HeuristicWindow {
			values = values[len(values)-cfg.Prediction.HeuristicWindow:]
		}
		if len(values) == cfg.Prediction.HeuristicWindow {
			deepWindow = true
		}
		stats := feature.Compute(values)
		switch {
		case stats.Max >= th.Critical:
			factors = append(factors, 0.8)
		case stats.Max >= th.Warning:
			factors = append(factors, 0.5)
		case stats.Mean >= th.Warning*0.9:
			factors = append(factors, 0.3)
		}
		if driftRatio(stats) > trendDriftThreshold {
			factors = append(factors, 0.4)
		}
	}
	if len(factors) == 0 {
		return 0.1, 0.6
	}
	var sum float64
	for _, f := range factors {
		sum += f
	}
	confidence := 0.6
	if deepWindow {
		confidence = 0.7
	}
	return clamp01(sum / float64(len(factors))), confidence
}

// driftRatio is the total value drift across the window expressed in
// population-stddev units: slope times window length over std.
func driftRatio(stats feature.MetricStats) float64 {
	if stats.Std == 0 || stats.Count < feature.MinTrendPoints {
		return 0
	}
	return math.Abs(stats.Trend) * float64(stats.Count) / stats.Std
}

// daysToFailure maps probability onto a calendar offset, piecewise
// linear within the fixed bands (higher probability, sooner failure).
// This is a scheduling estimate, not a fitted survival model.
func daysToFailure(probability float64) int {
	p := clamp01(probability)
	var days float64
	switch {
	case p >= 0.8:
		days = 7 - (p-0.8)/0.2*6
	case p >= 0.6:
		days = 21 - (p-0.6)/0.2*14
	case p >= 0.3:
		days = 51 - (p-0.3)/0.3*30
	default:
		days = 150 - p/0.3*90
	}
	rounded := int(math.Round(days))
	if rounded < 1 {
		rounded = 1
	}
	return rounded
}

func (p *Predictor) contributingFactors(cfg *config.Config, windows map[model.MetricType]feature.MetricStats) []string {
	metrics := make([]model.MetricType, 0, len(windows))
	for metric := range windows {
		metrics = append(metrics, metric)
	}
	sort.Slice(metrics, func(i, j int) bool { return metrics[i] < metrics[j] })

	var factors []string
	for _, metric := range metrics {
		stats := windows[metric]
		th, hasTh := cfg.Thresholds[metric]
		if hasTh {
			switch {
			case stats.Max >= th.Critical:
				factors = append(factors, fmt.Sprintf("%s peaked at %.1f%s, above the critical threshold %.1f%s",
					metric, stats.Max, th.Unit, th.Critical, th.Unit))
			case stats.Max >= th.Warning:
				factors = append(factors, fmt.Sprintf("%s peaked at %.1f%s, above the warning threshold %.1f%s",
					metric, stats.Max, th.Unit, th.Warning, th.Unit))
			}
		}
		if ratio := driftRatio(stats); ratio > trendDriftThreshold {
			direction := "upward"
			if stats.Trend < 0 {
				direction = "downward"
			}
			factors = append(factors, fmt.Sprintf("%s trending %s (%.1fσ drift across the window)",
				metric, direction, ratio))
		}
	}
	if bundle := p.trainer.Bundle(); bundle != nil {
		for _, metric := range metrics {
			stats := windows[metric]
			if stats.Count >= feature.MinWindowPoints && bundle.IsAnomalous(stats.Vector()) {
				factors = append(factors, fmt.Sprintf("%s pattern is anomalous versus the trained baseline", metric))
			}
		}
	}
	if len(factors) == 0 {
		return []string{"operating within normal parameters"}
	}
	return factors
}

func recommendedActions(risk model.RiskLevel) []string {
	switch risk {
	case model.RiskCritical:
		return []string{
			"Schedule immediate inspection",
			"Prepare replacement parts",
			"Notify the maintenance supervisor",
			"Consider a controlled shutdown window",
		}
	case model.RiskHigh:
		return []string{
			"Schedule inspection within one week",
			"Review recent sensor trends",
			"Check lubrication, fastenings and cooling",
		}
	case model.RiskMedium:
		return []string{
			"Add to the next planned maintenance round",
			"Continue monitoring sensor trends",
		}
	default:
		return []string{
			"No action required",
			"Continue routine monitoring",
		}
	}
}

// summarize asks the external collaborator for a prose summary, bounded
// by the configured timeout, and falls back to the deterministic
// template on any failure.
func (p *Predictor) summarize(ctx context.Context, cfg *config.Config, result *model.PredictionResult) string {
	if p.summarizer == nil || !cfg.Summarizer.Enabled {
		return TemplateSummary(*result)
	}
	callCtx, cancel := context.WithTimeout(ctx, cfg.Summarizer.Timeout)
	defer cancel()
	summary, err := p.summarizer.Summarize(callCtx, SummaryContext{
		AssetID:              result.AssetID,
		AssetName:            result.AssetName,
		FailureProbability:   result.FailureProbability,
		RiskLevel:            string(result.RiskLevel),
		PredictedFailureDate: result.PredictedFailureDate,
		ContributingFactors:  result.ContributingFactors,
	})
	if err != nil {
		if p.logger != nil {
			p.logger.Warn("summarizer failed, using template", "asset_id", result.AssetID, "err", err)
		}
		return TemplateSummary(*result)
	}
	return summary
}
