package engine

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"assetsense/internal/alerting"
	"assetsense/internal/config"
	"assetsense/internal/model"
	"assetsense/internal/snapshot"
	"assetsense/internal/storage"
	"assetsense/internal/telemetry"
)

// bulkAlertSuffix bounds how many trailing readings of a bulk batch are
// alert-checked. Deliberate latency/completeness tradeoff: bulk loads
// are mostly historical backfill, only the freshest tail matters for
// live alerting.
const bulkAlertSuffix = 10

// Engine is the ingestion pipeline core: persist the reading, update the
// latest-value snapshot, evaluate thresholds and fan alerts out.
type Engine struct {
	logger      *slog.Logger
	store       storage.Store
	evaluator   *alerting.Evaluator
	alerts      *alerting.Store
	broadcaster *alerting.Broadcaster
	snapshots   *snapshot.Store
	metrics     *telemetry.Metrics
	cfg         atomic.Value
	started     time.Time
}

func NewEngine(cfg *config.Config, logger *slog.Logger, store storage.Store, alertStore *alerting.Store, broadcaster *alerting.Broadcaster, snapshots *snapshot.Store, metrics *telemetry.Metrics) *Engine {
	e := &Engine{
		logger:      logger,
		store:       store,
		evaluator:   alerting.NewEvaluator(),
		alerts:      alertStore,
		broadcaster: broadcaster,
		snapshots:   snapshots,
		metrics:     metrics,
		started:     time.Now().UTC(),
	}
	e.cfg.Store(cfg)
	return e
}

func (e *Engine) UpdateConfig(cfg *config.Config) {
	e.cfg.Store(cfg)
}

func (e *Engine) config() *config.Config {
	if v := e.cfg.Load(); v != nil {
		return v.(*config.Config)
	}
	return config.DefaultConfig()
}

func (e *Engine) Started() time.Time {
	return e.started
}

// Start consumes the shared ingest channel fed by the async sources
// (Kafka, TCP stream). REST callers invoke ProcessReading directly so
// storage failures surface in the response.
func (e *Engine) Start(ctx context.Context, in <-chan model.SensorReading) {
	go func() {
		for {
			select {
			case r := <-in:
				if err := e.ProcessReading(ctx, r); err != nil && e.logger != nil {
					e.logger.Error("reading dropped on storage failure",
						"sensor_id", r.SensorID, "asset_id", r.AssetID, "err", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// ProcessReading stores one reading and runs alert evaluation. A storage
// error is returned to the caller and treated as retryable.
func (e *Engine) ProcessReading(ctx context.Context, r model.SensorReading) error {
	if err := e.store.InsertReading(ctx, r); err != nil {
		if e.metrics != nil {
			e.metrics.ReadingsRejected.Inc()
		}
		return err
	}
	if e.metrics != nil {
		e.metrics.ReadingsIngested.Inc()
	}
	if e.snapshots != nil {
		e.snapshots.Update(r)
	}
	e.evaluateAlert(ctx, r)
	return nil
}

// ProcessBatch writes the batch atomically; a failure fails the whole
// batch. On success only the trailing bulkAlertSuffix readings are
// alert-checked.
func (e *Engine) ProcessBatch(ctx context.Context, rs []model.SensorReading) model.BulkResult {
	result := model.BulkResult{TotalProcessed: len(rs)}
	if len(rs) == 0 {
		return result
	}
	n, err := e.store.InsertReadings(ctx, rs)
	if err != nil {
		result.ErrorCount = len(rs)
		if e.metrics != nil {
			e.metrics.ReadingsRejected.Add(float64(len(rs)))
		}
		if e.logger != nil {
			e.logger.Error("bulk insert failed", "count", len(rs), "err", err)
		}
		return result
	}
	result.SuccessCount = n
	if e.metrics != nil {
		e.metrics.ReadingsIngested.Add(float64(n))
	}
	if e.snapshots != nil {
		for _, r := range rs {
			e.snapshots.Update(r)
		}
	}
	start := len(rs) - bulkAlertSuffix
	if start < 0 {
		start = 0
	}
	for _, r := range rs[start:] {
		e.evaluateAlert(ctx, r)
	}
	return result
}

func (e *Engine) evaluateAlert(ctx context.Context, r model.SensorReading) {
	cfg := e.config()
	alert, ok := e.evaluator.Check(r, cfg.Thresholds)
	if !ok {
		return
	}
	if e.alerts != nil {
		e.alerts.Add(alert)
	}
	if e.metrics != nil {
		e.metrics.AlertsEmitted.WithLabelValues(alert.Severity).Inc()
	}
	if e.logger != nil {
		e.logger.Warn("sensor alert",
			"asset_id", alert.AssetID,
			"sensor_id", alert.SensorID,
			"metric", alert.MetricType,
			"severity", alert.Severity,
			"value", alert.Value,
			"threshold", alert.Threshold,
		)
	}
	if e.store != nil {
		if err := e.store.SaveAlert(ctx, alert); err != nil && e.logger != nil {
			e.logger.Error("alert persist failed", "err", err)
		}
	}
	if e.broadcaster != nil {
		e.broadcaster.Broadcast(alert)
	}
}
