package predict

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"assetsense/internal/model"
)

func highRiskPrediction(assetID int64) *model.PredictionResult {
	return &model.PredictionResult{
		AssetID:              assetID,
		FailureProbability:   0.85,
		RiskLevel:            model.RiskCritical,
		ConfidenceScore:      0.7,
		PredictedFailureDate: time.Now().UTC().AddDate(0, 0, 14),
		ContributingFactors:  []string{"temperature trending upward"},
		RecommendedActions:   []string{"Schedule immediate inspection"},
	}
}

func newTestGenerator(store *fakeStore) *Generator {
	return NewGenerator(store, newTestPredictor(store, testManager()), testManager(), nil, nil)
}

func TestCreateForCriticalPrediction(t *testing.T) {
	store := newFakeStore()
	g := newTestGenerator(store)

	wo, err := g.CreateFor(context.Background(), highRiskPrediction(5))
	require.NoError(t, err)
	require.NotNil(t, wo)
	require.Equal(t, model.WorkOrderPreventive, wo.Type)
	require.Equal(t, model.StatusOpen, wo.Status)
	require.Equal(t, "high", wo.Priority)
	require.Equal(t, 6.0, wo.EstimatedHours)
	require.True(t, wo.AIGenerated)
	require.NotEmpty(t, wo.Reference)
	require.True(t, strings.HasPrefix(wo.Title, "[AI-PM]"))
	require.NotZero(t, wo.ID, "store must assign the id")

	// CRITICAL risk schedules 3 days before the predicted failure.
	wantDue := highRiskPrediction(5).PredictedFailureDate.AddDate(0, 0, -3)
	require.WithinDuration(t, wantDue, wo.DueDate, 2*time.Second)
}

func TestCreateForHighRiskBuffer(t *testing.T) {
	store := newFakeStore()
	g := newTestGenerator(store)
	pred := highRiskPrediction(5)
	pred.FailureProbability = 0.7
	pred.RiskLevel = model.RiskHigh

	wo, err := g.CreateFor(context.Background(), pred)
	require.NoError(t, err)
	require.NotNil(t, wo)
	require.Equal(t, "high", wo.Priority)
	require.Equal(t, 4.0, wo.EstimatedHours)
	wantDue := pred.PredictedFailureDate.AddDate(0, 0, -7)
	require.WithinDuration(t, wantDue, wo.DueDate, 2*time.Second)
}

func TestCreateForBelowThreshold(t *testing.T) {
	store := newFakeStore()
	g := newTestGenerator(store)
	pred := highRiskPrediction(5)
	pred.FailureProbability = 0.5

	wo, err := g.CreateFor(context.Background(), pred)
	require.NoError(t, err)
	require.Nil(t, wo)
	require.Empty(t, store.created)
}

func TestCreateForDeduplicates(t *testing.T) {
	store := newFakeStore()
	store.openOrders[5] = true
	g := newTestGenerator(store)

	wo, err := g.CreateFor(context.Background(), highRiskPrediction(5))
	require.NoError(t, err)
	require.Nil(t, wo)
	require.Empty(t, store.created)
}

func TestCreateForImminentFailureClampsDueDate(t *testing.T) {
	store := newFakeStore()
	g := newTestGenerator(store)
	pred := highRiskPrediction(5)
	pred.PredictedFailureDate = time.Now().UTC().AddDate(0, 0, 1)

	wo, err := g.CreateFor(context.Background(), pred)
	require.NoError(t, err)
	require.NotNil(t, wo)
	require.True(t, wo.DueDate.After(time.Now()), "due date must never land in the past")
}

func TestGenerateAllCreatesOnlyAboveThreshold(t *testing.T) {
	store := newFakeStore()
	// Asset 1 breaches critical, asset 2 idles below warning.
	store.readings[1] = rampReadings(1, model.MetricTemperature, 30, 60, 105)
	base := time.Now().UTC().Add(-30 * time.Hour)
	for i := 0; i < 30; i++ {
		store.readings[2] = append(store.readings[2], model.SensorReading{
			AssetID:      2,
			SensorID:     "s-2",
			MetricType:   model.MetricTemperature,
			Value:        40 + 0.5*float64(i%2),
			Timestamp:    base.Add(time.Duration(i) * time.Hour),
			QualityScore: 1.0,
		})
	}
	g := newTestGenerator(store)

	created, err := g.GenerateAll(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, created, 1)
	require.Equal(t, int64(1), created[0].AssetID)
}
