package predict

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"assetsense/internal/config"
	"assetsense/internal/feature"
	"assetsense/internal/model"
	"assetsense/internal/storage"
)

// fakeStore is an in-memory Store stub for the prediction pipeline.
type fakeStore struct {
	readings      map[int64][]model.SensorReading
	workOrders    []model.WorkOrder
	created       []model.WorkOrder
	openOrders    map[int64]bool
	createErr     error
	nextID        int64
	historyCalled int
}

var _ storage.Store = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{
		readings:   make(map[int64][]model.SensorReading),
		openOrders: make(map[int64]bool),
	}
}

func (f *fakeStore) Init(ctx context.Context) error { return nil }
func (f *fakeStore) Close() error                   { return nil }

func (f *fakeStore) InsertReading(ctx context.Context, r model.SensorReading) error {
	f.readings[r.AssetID] = append(f.readings[r.AssetID], r)
	return nil
}

func (f *fakeStore) InsertReadings(ctx context.Context, rs []model.SensorReading) (int, error) {
	for _, r := range rs {
		f.readings[r.AssetID] = append(f.readings[r.AssetID], r)
	}
	return len(rs), nil
}

func (f *fakeStore) RecentReadings(ctx context.Context, assetID int64, hoursBack int, minQuality float64, limit int) ([]model.SensorReading, error) {
	var out []model.SensorReading
	for _, r := range f.readings[assetID] {
		if r.QualityScore >= minQuality {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) AssetHistory(ctx context.Context, assetID int64, since time.Time, minQuality float64) ([]model.SensorReading, error) {
	f.historyCalled++
	return f.RecentReadings(ctx, assetID, 0, minQuality, 0)
}

func (f *fakeStore) ActiveAssetIDs(ctx context.Context, since time.Time) ([]int64, error) {
	var out []int64
	for id := range f.readings {
		out = append(out, id)
	}
	return out, nil
}

func (f *fakeStore) Aggregates(ctx context.Context, assetID int64, metric model.MetricType, interval model.Interval, daysBack int) ([]model.SensorAggregate, error) {
	return nil, nil
}

func (f *fakeStore) RefreshRollups(ctx context.Context, since time.Time) error { return nil }

func (f *fakeStore) ApplyRetention(ctx context.Context, cfg config.RetentionConfig) error {
	return nil
}

func (f *fakeStore) SaveAlert(ctx context.Context, alert model.AlertEvent) error { return nil }

func (f *fakeStore) CreateWorkOrder(ctx context.Context, wo *model.WorkOrder) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.nextID++
	wo.ID = f.nextID
	f.created = append(f.created, *wo)
	return nil
}

func (f *fakeStore) HasOpenPreventiveOrder(ctx context.Context, assetID int64, since time.Time) (bool, error) {
	return f.openOrders[assetID], nil
}

func (f *fakeStore) CompletedWorkOrders(ctx context.Context, since time.Time) ([]model.WorkOrder, error) {
	return f.workOrders, nil
}

func testManager() *config.Manager {
	return config.NewStaticManager(config.DefaultConfig())
}

func newTestPredictor(store *fakeStore, cfg *config.Manager) *Predictor {
	extractor := feature.NewExtractor()
	trainer := NewTrainer(store, extractor, cfg, nil, nil)
	return NewPredictor(store, extractor, trainer, nil, cfg, nil, nil)
}

// rampReadings produces a steadily climbing hourly series ending at the
// given peak, spanning n hours back from now.
func rampReadings(assetID int64, metric model.MetricType, n int, from, to float64) []model.SensorReading {
	base := time.Now().UTC().Add(-time.Duration(n) * time.Hour)
	step := (to - from) / float64(n-1)
	out := make([]model.SensorReading, n)
	for i := range out {
		out[i] = model.SensorReading{
			AssetID:      assetID,
			SensorID:     "s-1",
			MetricType:   metric,
			Value:        from + float64(i)*step,
			Timestamp:    base.Add(time.Duration(i) * time.Hour),
			QualityScore: 1.0,
		}
	}
	return out
}

func TestPredictNoData(t *testing.T) {
	p := newTestPredictor(newFakeStore(), testManager())
	res, err := p.Predict(context.Background(), 1)
	require.NoError(t, err)
	require.Nil(t, res)
}

func TestPredictTrendingAsset(t *testing.T) {
	store := newFakeStore()
	store.readings[1] = rampReadings(1, model.MetricTemperature, 30, 60, 95)
	p := newTestPredictor(store, testManager())

	res, err := p.Predict(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, res)
	require.False(t, res.ModelBased)
	require.Contains(t, []model.RiskLevel{model.RiskMedium, model.RiskHigh}, res.RiskLevel)
	require.Equal(t, model.RiskFor(res.FailureProbability), res.RiskLevel)

	var sawTrend, sawPeak bool
	for _, factor := range res.ContributingFactors {
		if factor == "" {
			continue
		}
		switch {
		case strings.Contains(factor, "temperature trending upward"):
			sawTrend = true
		case strings.Contains(factor, "temperature peaked") && strings.Contains(factor, "warning threshold"):
			sawPeak = true
		}
	}
	require.True(t, sawTrend, "expected a temperature trend factor, got %v", res.ContributingFactors)
	require.True(t, sawPeak, "expected a warning peak factor, got %v", res.ContributingFactors)
	require.NotEmpty(t, res.RecommendedActions)
	require.NotEmpty(t, res.Summary)
	require.True(t, res.PredictedFailureDate.After(time.Now()))
}

func TestPredictHealthyAsset(t *testing.T) {
	store := newFakeStore()
	// Trendless noise well below warning.
	base := time.Now().UTC().Add(-30 * time.Hour)
	readings := make([]model.SensorReading, 30)
	for i := range readings {
		readings[i] = model.SensorReading{
			AssetID:      1,
			SensorID:     "s-1",
			MetricType:   model.MetricTemperature,
			Value:        40 + 0.5*float64(i%2),
			Timestamp:    base.Add(time.Duration(i) * time.Hour),
			QualityScore: 1.0,
		}
	}
	store.readings[1] = readings
	p := newTestPredictor(store, testManager())

	res, err := p.Predict(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, res)
	require.Equal(t, model.RiskLow, res.RiskLevel)
}

func TestPredictDeterministic(t *testing.T) {
	store := newFakeStore()
	store.readings[1] = rampReadings(1, model.MetricTemperature, 30, 60, 95)
	p := newTestPredictor(store, testManager())

	first, err := p.Predict(context.Background(), 1)
	require.NoError(t, err)
	second, err := p.Predict(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, first.FailureProbability, second.FailureProbability)
	require.Equal(t, first.ContributingFactors, second.ContributingFactors)
}

func TestPredictAllSortedByProbability(t *testing.T) {
	store := newFakeStore()
	store.readings[1] = rampReadings(1, model.MetricTemperature, 30, 40, 41)
	store.readings[2] = rampReadings(2, model.MetricTemperature, 30, 60, 105)
	p := newTestPredictor(store, testManager())

	results, err := p.PredictAll(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, int64(2), results[0].AssetID)
	require.GreaterOrEqual(t, results[0].FailureProbability, results[1].FailureProbability)
}

func TestDaysToFailureMonotonic(t *testing.T) {
	prev := daysToFailure(0)
	for p := 0.05; p <= 1.0; p += 0.05 {
		d := daysToFailure(p)
		require.LessOrEqual(t, d, prev, "days must not grow with probability (p=%v)", p)
		prev = d
	}
	require.Equal(t, 1, daysToFailure(1.0))
	require.Equal(t, 7, daysToFailure(0.8))
	require.Equal(t, 21, daysToFailure(0.6))
	require.Equal(t, 51, daysToFailure(0.3))
}

func TestTemplateSummary(t *testing.T) {
	res := model.PredictionResult{
		AssetID:              9,
		FailureProbability:   0.72,
		RiskLevel:            model.RiskHigh,
		PredictedFailureDate: time.Date(2026, 9, 10, 0, 0, 0, 0, time.UTC),
		ContributingFactors:  []string{"temperature trending upward"},
	}
	summary := TemplateSummary(res)
	require.Contains(t, summary, "asset 9")
	require.Contains(t, summary, "high failure risk")
	require.Contains(t, summary, "2026-09-10")

	low := model.PredictionResult{AssetID: 9, FailureProbability: 0.1, RiskLevel: model.RiskLow}
	require.Contains(t, TemplateSummary(low), "low risk")
}

