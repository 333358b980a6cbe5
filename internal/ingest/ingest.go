package ingest

import (
	"context"
	"log/slog"
	"time"

	"assetsense/internal/model"
)

// Processor is the synchronous entry into the pipeline engine, used by
// the REST source so storage failures surface in the HTTP response.
// Async sources feed the shared channel instead.
type Processor interface {
	ProcessReading(ctx context.Context, r model.SensorReading) error
	ProcessBatch(ctx context.Context, rs []model.SensorReading) model.BulkResult
}

func SendNonBlocking(ctx context.Context, out chan<- model.SensorReading, r model.SensorReading, logger *slog.Logger) bool {
	select {
	case out <- r:
		return true
	case <-ctx.Done():
		return false
	default:
		if logger != nil {
			logger.Warn("reading channel full, dropping reading",
				"sensor_id", r.SensorID, "asset_id", r.AssetID, "timestamp", r.Timestamp)
		}
		return false
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
