package predict

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"assetsense/internal/config"
	"assetsense/internal/model"
	"assetsense/internal/storage"
	"assetsense/internal/telemetry"
)

const (
	aiOrderMarker = "[AI-PM]"
	dedupWindow   = 7 * 24 * time.Hour
)

// Generator turns high-risk predictions into preventive work orders.
// Repeated runs are safe: an open or in-progress AI-generated order for
// the asset within the dedup window suppresses new ones.
type Generator struct {
	store     storage.Store
	predictor *Predictor
	cfg       *config.Manager
	logger    *slog.Logger
	metrics   *telemetry.Metrics
}

func NewGenerator(store storage.Store, predictor *Predictor, cfg *config.Manager, logger *slog.Logger, metrics *telemetry.Metrics) *Generator {
	return &Generator{
		store:     store,
		predictor: predictor,
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
	}
}

// GenerateAll predicts over the given assets (or all active assets) and
// creates orders for every prediction at or above the decision
// threshold. Returns only the orders actually created.
func (g *Generator) GenerateAll(ctx context.Context, assetIDs []int64) ([]model.WorkOrder, error) {
	predictions, err := g.predictor.PredictAll(ctx, assetIDs)
	if err != nil {
		return nil, err
	}
	var created []model.WorkOrder
	for i := range predictions {
		wo, err := g.CreateFor(ctx, &predictions[i])
		if err != nil {
			if g.logger != nil {
				g.logger.Error("work order creation failed", "asset_id", predictions[i].AssetID, "err", err)
			}
			continue
		}
		if wo != nil {
			created = append(created, *wo)
		}
	}
	return created, nil
}

// CreateFor persists one preventive order for the prediction, or returns
// nil when the prediction is below threshold or deduplicated away.
func (g *Generator) CreateFor(ctx context.Context, pred *model.PredictionResult) (*model.WorkOrder, error) {
	if pred == nil {
		return nil, nil
	}
	cfg := g.cfg.Get()
	if pred.FailureProbability < cfg.Prediction.DecisionThreshold {
		return nil, nil
	}
	now := time.Now().UTC()
	exists, err := g.store.HasOpenPreventiveOrder(ctx, pred.AssetID, now.Add(-dedupWindow))
	if err != nil {
		return nil, fmt.Errorf("dedup check: %w", err)
	}
	if exists {
		if g.logger != nil {
			g.logger.Debug("preventive order already open, skipping", "asset_id", pred.AssetID)
		}
		return nil, nil
	}

	buffer := 7
	if pred.RiskLevel == model.RiskCritical {
		buffer = 3
	}
	due := pred.PredictedFailureDate.AddDate(0, 0, -buffer)
	if due.Before(now) {
		due = now.AddDate(0, 0, 1)
	}

	wo := &model.WorkOrder{
		Reference:      uuid.NewString(),
		AssetID:        pred.AssetID,
		Title:          fmt.Sprintf("%s Preventive maintenance for asset %d (%s risk)", aiOrderMarker, pred.AssetID, pred.RiskLevel),
		Description:    orderDescription(pred),
		Type:           model.WorkOrderPreventive,
		Status:         model.StatusOpen,
		Priority:       priorityFor(pred.RiskLevel),
		DueDate:        due,
		EstimatedHours: estimatedHours(pred.RiskLevel),
		AIGenerated:    true,
		CreatedAt:      now,
	}
	if err := g.store.CreateWorkOrder(ctx, wo); err != nil {
		return nil, fmt.Errorf("persist work order: %w", err)
	}
	if g.metrics != nil {
		g.metrics.WorkOrdersCreated.Inc()
	}
	if g.logger != nil {
		g.logger.Info("preventive work order created",
			"asset_id", wo.AssetID,
			"priority", wo.Priority,
			"due_date", wo.DueDate.Format(time.RFC3339),
			"failure_probability", pred.FailureProbability)
	}
	return wo, nil
}

func priorityFor(risk model.RiskLevel) string {
	switch risk {
	case model.RiskCritical, model.RiskHigh:
		return "high"
	case model.RiskMedium:
		return "medium"
	default:
		return "low"
	}
}

func estimatedHours(risk model.RiskLevel) float64 {
	switch risk {
	case model.RiskCritical:
		return 6
	case model.RiskHigh:
		return 4
	default:
		return 2
	}
}

func orderDescription(pred *model.PredictionResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Automatically generated from a failure prediction.\n\n")
	fmt.Fprintf(&b, "Failure probability: %.1f%%\n", pred.FailureProbability*100)
	fmt.Fprintf(&b, "Confidence: %.1f%%\n", pred.ConfidenceScore*100)
	fmt.Fprintf(&b, "Risk level: %s\n", pred.RiskLevel)
	fmt.Fprintf(&b, "Predicted failure date: %s\n", pred.PredictedFailureDate.Format("2006-01-02"))
	fmt.Fprintf(&b, "\nContributing factors:\n")
	for _, f := range pred.ContributingFactors {
		fmt.Fprintf(&b, "- %s\n", f)
	}
	fmt.Fprintf(&b, "\nRecommended actions:\n")
	for _, a := range pred.RecommendedActions {
		fmt.Fprintf(&b, "- %s\n", a)
	}
	if pred.Summary != "" {
		fmt.Fprintf(&b, "\nSummary: %s\n", pred.Summary)
	}
	return b.String()
}
