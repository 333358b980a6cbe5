package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"assetsense/internal/config"
	"assetsense/internal/model"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/assetsense?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sensor_readings (
			ts TIMESTAMPTZ NOT NULL,
			tenant_id TEXT NOT NULL DEFAULT 'default',
			sensor_id TEXT NOT NULL,
			asset_id BIGINT NOT NULL,
			metric_type TEXT NOT NULL,
			value DOUBLE PRECISION NOT NULL,
			unit TEXT,
			quality DOUBLE PRECISION NOT NULL DEFAULT 1.0,
			metadata_json JSONB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_readings_asset_ts ON sensor_readings(asset_id, ts DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_readings_ts ON sensor_readings(ts)`,
		`CREATE TABLE IF NOT EXISTS sensor_rollup_hourly (
			bucket_start TIMESTAMPTZ NOT NULL,
			tenant_id TEXT NOT NULL DEFAULT 'default',
			asset_id BIGINT NOT NULL,
			metric_type TEXT NOT NULL,
			avg_value DOUBLE PRECISION NOT NULL,
			min_value DOUBLE PRECISION NOT NULL,
			max_value DOUBLE PRECISION NOT NULL,
			stddev_value DOUBLE PRECISION NOT NULL,
			reading_count INTEGER NOT NULL,
			avg_quality DOUBLE PRECISION NOT NULL,
			PRIMARY KEY (asset_id, metric_type, bucket_start)
		)`,
		`CREATE TABLE IF NOT EXISTS sensor_rollup_daily (
			bucket_start TIMESTAMPTZ NOT NULL,
			tenant_id TEXT NOT NULL DEFAULT 'default',
			asset_id BIGINT NOT NULL,
			metric_type TEXT NOT NULL,
			avg_value DOUBLE PRECISION NOT NULL,
			min_value DOUBLE PRECISION NOT NULL,
			max_value DOUBLE PRECISION NOT NULL,
			stddev_value DOUBLE PRECISION NOT NULL,
			reading_count INTEGER NOT NULL,
			avg_quality DOUBLE PRECISION NOT NULL,
			PRIMARY KEY (asset_id, metric_type, bucket_start)
		)`,
		`CREATE TABLE IF NOT EXISTS sensor_alerts (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			asset_id BIGINT NOT NULL,
			sensor_id TEXT NOT NULL,
			metric_type TEXT NOT NULL,
			alert_type TEXT NOT NULL,
			severity TEXT NOT NULL,
			value DOUBLE PRECISION NOT NULL,
			threshold DOUBLE PRECISION NOT NULL,
			message TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sensor_alerts_ts ON sensor_alerts(ts)`,
		`CREATE TABLE IF NOT EXISTS work_orders (
			id BIGSERIAL PRIMARY KEY,
			reference TEXT,
			asset_id BIGINT NOT NULL,
			title TEXT NOT NULL,
			description TEXT,
			wo_type TEXT NOT NULL,
			status TEXT NOT NULL,
			priority TEXT NOT NULL,
			due_date TIMESTAMPTZ,
			estimated_hours DOUBLE PRECISION,
			ai_generated BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_work_orders_asset ON work_orders(asset_id, status)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	// Hypertable conversion is best effort: works when the timescaledb
	// extension is installed, plain Postgres keeps the regular table.
	_, _ = s.db.ExecContext(ctx,
		`SELECT create_hypertable('sensor_readings', 'ts', if_not_exists => TRUE, migrate_data => TRUE)`)
	return nil
}

func (s *postgresStore) InsertReading(ctx context.Context, r model.SensorReading) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sensor_readings (ts, tenant_id, sensor_id, asset_id, metric_type, value, unit, quality, metadata_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.Timestamp.UTC(),
		r.TenantID,
		r.SensorID,
		r.AssetID,
		string(r.MetricType),
		r.Value,
		r.Unit,
		r.QualityScore,
		encodeJSON(r.Metadata),
	)
	return err
}

func (s *postgresStore) InsertReadings(ctx context.Context, rs []model.SensorReading) (int, error) {
	if s.db == nil || len(rs) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO sensor_readings (ts, tenant_id, sensor_id, asset_id, metric_type, value, unit, quality, metadata_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	defer stmt.Close()
	for _, r := range rs {
		if _, err := stmt.ExecContext(ctx,
			r.Timestamp.UTC(),
			r.TenantID,
			r.SensorID,
			r.AssetID,
			string(r.MetricType),
			r.Value,
			r.Unit,
			r.QualityScore,
			encodeJSON(r.Metadata),
		); err != nil {
			_ = tx.Rollback()
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(rs), nil
}

func (s *postgresStore) RecentReadings(ctx context.Context, assetID int64, hoursBack int, minQuality float64, limit int) ([]model.SensorReading, error) {
	if s.db == nil {
		return nil, nil
	}
	if hoursBack <= 0 {
		hoursBack = 24
	}
	limit = clampLimit(limit, 1000)
	cutoff := nowUTC().Add(-time.Duration(hoursBack) * time.Hour)
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, tenant_id, sensor_id, asset_id, metric_type, value, unit, quality, metadata_json
		FROM sensor_readings
		WHERE asset_id = $1 AND ts >= $2 AND quality >= $3
		ORDER BY ts DESC
		LIMIT $4`,
		assetID, cutoff, minQuality, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReadings(rows)
}

func (s *postgresStore) AssetHistory(ctx context.Context, assetID int64, since time.Time, minQuality float64) ([]model.SensorReading, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, tenant_id, sensor_id, asset_id, metric_type, value, unit, quality, metadata_json
		FROM sensor_readings
		WHERE asset_id = $1 AND ts >= $2 AND quality >= $3
		ORDER BY ts ASC`,
		assetID, since.UTC(), minQuality)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReadings(rows)
}

func (s *postgresStore) ActiveAssetIDs(ctx context.Context, since time.Time) ([]int64, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT asset_id FROM sensor_readings WHERE ts >= $1 ORDER BY asset_id`,
		since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *postgresStore) Aggregates(ctx context.Context, assetID int64, metric model.MetricType, interval model.Interval, daysBack int) ([]model.SensorAggregate, error) {
	if s.db == nil {
		return nil, nil
	}
	if daysBack <= 0 {
		daysBack = 7
	}
	table := "sensor_rollup_hourly"
	if interval == model.IntervalDaily {
		table = "sensor_rollup_daily"
	}
	cutoff := nowUTC().AddDate(0, 0, -daysBack)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT bucket_start, tenant_id, asset_id, metric_type, avg_value, min_value, max_value, stddev_value, reading_count, avg_quality
		FROM %s
		WHERE asset_id = $1 AND metric_type = $2 AND bucket_start >= $3
		ORDER BY bucket_start DESC`, table),
		assetID, string(metric), cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.SensorAggregate
	for rows.Next() {
		var a model.SensorAggregate
		var metricStr string
		if err := rows.Scan(&a.BucketStart, &a.TenantID, &a.AssetID, &metricStr,
			&a.AvgValue, &a.MinValue, &a.MaxValue, &a.StddevValue, &a.Count, &a.AvgQuality); err != nil {
			return nil, err
		}
		a.MetricType = model.MetricType(metricStr)
		a.BucketStart = a.BucketStart.UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *postgresStore) RefreshRollups(ctx context.Context, since time.Time) error {
	if s.db == nil {
		return nil
	}
	targets := []struct {
		table string
		trunc string
	}{
		{"sensor_rollup_hourly", "hour"},
		{"sensor_rollup_daily", "day"},
	}
	for _, t := range targets {
		query := fmt.Sprintf(`
			INSERT INTO %s (bucket_start, tenant_id, asset_id, metric_type, avg_value, min_value, max_value, stddev_value, reading_count, avg_quality)
			SELECT date_trunc('%s', ts), min(tenant_id), asset_id, metric_type,
				avg(value), min(value), max(value), coalesce(stddev_pop(value), 0), count(*), avg(quality)
			FROM sensor_readings
			WHERE ts >= $1
			GROUP BY date_trunc('%s', ts), asset_id, metric_type
			ON CONFLICT (asset_id, metric_type, bucket_start) DO UPDATE SET
				tenant_id = EXCLUDED.tenant_id,
				avg_value = EXCLUDED.avg_value,
				min_value = EXCLUDED.min_value,
				max_value = EXCLUDED.max_value,
				stddev_value = EXCLUDED.stddev_value,
				reading_count = EXCLUDED.reading_count,
				avg_quality = EXCLUDED.avg_quality`,
			t.table, t.trunc, t.trunc)
		if _, err := s.db.ExecContext(ctx, query, bucketTruncate(since, model.IntervalDaily)); err != nil {
			return err
		}
	}
	return nil
}

func (s *postgresStore) ApplyRetention(ctx context.Context, cfg config.RetentionConfig) error {
	if s.db == nil {
		return nil
	}
	now := nowUTC()
	purges := []struct {
		query  string
		cutoff time.Time
	}{
		{`DELETE FROM sensor_readings WHERE ts < $1`, now.AddDate(0, 0, -cfg.RawDays)},
		{`DELETE FROM sensor_rollup_hourly WHERE bucket_start < $1`, now.AddDate(0, 0, -cfg.HourlyDays)},
		{`DELETE FROM sensor_rollup_daily WHERE bucket_start < $1`, now.AddDate(0, 0, -cfg.DailyDays)},
	}
	for _, p := range purges {
		if _, err := s.db.ExecContext(ctx, p.query, p.cutoff); err != nil {
			return err
		}
	}
	return nil
}

func (s *postgresStore) SaveAlert(ctx context.Context, alert model.AlertEvent) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sensor_alerts (ts, asset_id, sensor_id, metric_type, alert_type, severity, value, threshold, message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		alert.Timestamp.UTC(),
		alert.AssetID,
		alert.SensorID,
		string(alert.MetricType),
		alert.AlertType,
		alert.Severity,
		alert.Value,
		alert.Threshold,
		alert.Message,
	)
	return err
}

func (s *postgresStore) CreateWorkOrder(ctx context.Context, wo *model.WorkOrder) error {
	if s.db == nil || wo == nil {
		return nil
	}
	return s.db.QueryRowContext(ctx,
		`INSERT INTO work_orders (reference, asset_id, title, description, wo_type, status, priority, due_date, estimated_hours, ai_generated, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		wo.Reference,
		wo.AssetID,
		wo.Title,
		wo.Description,
		string(wo.Type),
		string(wo.Status),
		wo.Priority,
		wo.DueDate.UTC(),
		wo.EstimatedHours,
		wo.AIGenerated,
		wo.CreatedAt.UTC(),
	).Scan(&wo.ID)
}

func (s *postgresStore) HasOpenPreventiveOrder(ctx context.Context, assetID int64, since time.Time) (bool, error) {
	if s.db == nil {
		return false, nil
	}
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM work_orders
		WHERE asset_id = $1 AND wo_type = $2 AND ai_generated = TRUE
			AND status IN ($3, $4) AND created_at >= $5`,
		assetID, string(model.WorkOrderPreventive),
		string(model.StatusOpen), string(model.StatusInProgress), since.UTC()).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *postgresStore) CompletedWorkOrders(ctx context.Context, since time.Time) ([]model.WorkOrder, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, coalesce(reference, ''), asset_id, title, coalesce(description, ''), wo_type, status, priority,
			coalesce(due_date, 'epoch'::timestamptz), coalesce(estimated_hours, 0), ai_generated, created_at, completed_at
		FROM work_orders
		WHERE status = $1 AND completed_at >= $2
		ORDER BY completed_at DESC`,
		string(model.StatusCompleted), since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.WorkOrder
	for rows.Next() {
		var wo model.WorkOrder
		var woType, status string
		var completed sql.NullTime
		if err := rows.Scan(&wo.ID, &wo.Reference, &wo.AssetID, &wo.Title, &wo.Description,
			&woType, &status, &wo.Priority, &wo.DueDate, &wo.EstimatedHours,
			&wo.AIGenerated, &wo.CreatedAt, &completed); err != nil {
			return nil, err
		}
		wo.Type = model.WorkOrderType(woType)
		wo.Status = model.WorkOrderStatus(status)
		if completed.Valid {
			t := completed.Time.UTC()
			wo.CompletedAt = &t
		}
		out = append(out, wo)
	}
	return out, rows.Err()
}

func scanReadings(rows *sql.Rows) ([]model.SensorReading, error) {
	var out []model.SensorReading
	for rows.Next() {
		var r model.SensorReading
		var metricStr string
		var unit, metadata sql.NullString
		if err := rows.Scan(&r.Timestamp, &r.TenantID, &r.SensorID, &r.AssetID,
			&metricStr, &r.Value, &unit, &r.QualityScore, &metadata); err != nil {
			return nil, err
		}
		r.Timestamp = r.Timestamp.UTC()
		r.MetricType = model.MetricType(metricStr)
		r.Unit = unit.String
		r.Metadata = decodeMetadata(metadata)
		out = append(out, r)
	}
	return out, rows.Err()
}
