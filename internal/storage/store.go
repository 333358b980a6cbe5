package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"assetsense/internal/config"
	"assetsense/internal/model"
)

// Store is the durable side of the pipeline: raw readings, rollup
// aggregates, the alert log and the shared work-order table. Bulk inserts
// are batch-atomic; a mid-batch failure rolls back the whole batch.
type Store interface {
	Init(ctx context.Context) error
	Close() error

	InsertReading(ctx context.Context, r model.SensorReading) error
	InsertReadings(ctx context.Context, rs []model.SensorReading) (int, error)
	RecentReadings(ctx context.Context, assetID int64, hoursBack int, minQuality float64, limit int) ([]model.SensorReading, error)
	AssetHistory(ctx context.Context, assetID int64, since time.Time, minQuality float64) ([]model.SensorReading, error)
	ActiveAssetIDs(ctx context.Context, since time.Time) ([]int64, error)

	Aggregates(ctx context.Context, assetID int64, metric model.MetricType, interval model.Interval, daysBack int) ([]model.SensorAggregate, error)
	RefreshRollups(ctx context.Context, since time.Time) error
	ApplyRetention(ctx context.Context, cfg config.RetentionConfig) error

	SaveAlert(ctx context.Context, alert model.AlertEvent) error

	CreateWorkOrder(ctx context.Context, wo *model.WorkOrder) error
	HasOpenPreventiveOrder(ctx context.Context, assetID int64, since time.Time) (bool, error)
	CompletedWorkOrders(ctx context.Context, since time.Time) ([]model.WorkOrder, error)
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql", "timescale", "timescaledb":
		return NewPostgres(cfg.DSN)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

type baseStore struct {
	db *sql.DB
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

func decodeMetadata(raw sql.NullString) map[string]string {
	if !raw.Valid || raw.String == "" || raw.String == "null" {
		return nil
	}
	var out map[string]string
	if err := json.Unmarshal([]byte(raw.String), &out); err != nil {
		return nil
	}
	return out
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

func bucketTruncate(ts time.Time, interval model.Interval) time.Time {
	ts = ts.UTC()
	if interval == model.IntervalDaily {
		return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
	}
	return ts.Truncate(time.Hour)
}

func clampLimit(limit, max int) int {
	if limit <= 0 || limit > max {
		return max
	}
	return limit
}
