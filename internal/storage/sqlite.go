package storage

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"assetsense/internal/config"
	"assetsense/internal/model"
)

// sqliteStore keeps timestamps as unix milliseconds so range scans stay
// index-friendly and driver-neutral.
type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:assetsense.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sensor_readings (
			ts INTEGER NOT NULL,
			tenant_id TEXT NOT NULL DEFAULT 'default',
			sensor_id TEXT NOT NULL,
			asset_id INTEGER NOT NULL,
			metric_type TEXT NOT NULL,
			value REAL NOT NULL,
			unit TEXT,
			quality REAL NOT NULL DEFAULT 1.0,
			metadata_json TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_readings_asset_ts ON sensor_readings(asset_id, ts DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_readings_ts ON sensor_readings(ts)`,
		`CREATE TABLE IF NOT EXISTS sensor_rollup_hourly (
			bucket_start INTEGER NOT NULL,
			tenant_id TEXT NOT NULL DEFAULT 'default',
			asset_id INTEGER NOT NULL,
			metric_type TEXT NOT NULL,
			avg_value REAL NOT NULL,
			min_value REAL NOT NULL,
			max_value REAL NOT NULL,
			stddev_value REAL NOT NULL,
			reading_count INTEGER NOT NULL,
			avg_quality REAL NOT NULL,
			PRIMARY KEY (asset_id, metric_type, bucket_start)
		)`,
		`CREATE TABLE IF NOT EXISTS sensor_rollup_daily (
			bucket_start INTEGER NOT NULL,
			tenant_id TEXT NOT NULL DEFAULT 'default',
			asset_id INTEGER NOT NULL,
			metric_type TEXT NOT NULL,
			avg_value REAL NOT NULL,
			min_value REAL NOT NULL,
			max_value REAL NOT NULL,
			stddev_value REAL NOT NULL,
			reading_count INTEGER NOT NULL,
			avg_quality REAL NOT NULL,
			PRIMARY KEY (asset_id, metric_type, bucket_start)
		)`,
		`CREATE TABLE IF NOT EXISTS sensor_alerts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER NOT NULL,
			asset_id INTEGER NOT NULL,
			sensor_id TEXT NOT NULL,
			metric_type TEXT NOT NULL,
			alert_type TEXT NOT NULL,
			severity TEXT NOT NULL,
			value REAL NOT NULL,
			threshold REAL NOT NULL,
			message TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sensor_alerts_ts ON sensor_alerts(ts)`,
		`CREATE TABLE IF NOT EXISTS work_orders (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			reference TEXT,
			asset_id INTEGER NOT NULL,
			title TEXT NOT NULL,
			description TEXT,
			wo_type TEXT NOT NULL,
			status TEXT NOT NULL,
			priority TEXT NOT NULL,
			due_date INTEGER,
			estimated_hours REAL,
			ai_generated INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			completed_at INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_work_orders_asset ON work_orders(asset_id, status)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqliteStore) InsertReading(ctx context.Context, r model.SensorReading) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sensor_readings (ts, tenant_id, sensor_id, asset_id, metric_type, value, unit, quality, metadata_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Timestamp.UTC().UnixMilli(),
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

func (s *sqliteStore) InsertReadings(ctx context.Context, rs []model.SensorReading) (int, error) {
	if s.db == nil || len(rs) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO sensor_readings (ts, tenant_id, sensor_id, asset_id, metric_type, value, unit, quality, metadata_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	defer stmt.Close()
	for _, r := range rs {
		if _, err := stmt.ExecContext(ctx,
			r.Timestamp.UTC().UnixMilli(),
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

func (s *sqliteStore) RecentReadings(ctx context.Context, assetID int64, hoursBack int, minQuality float64, limit int) ([]model.SensorReading, error) {
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
		WHERE asset_id = ? AND ts >= ? AND quality >= ?
		ORDER BY ts DESC
		LIMIT ?`,
		assetID, cutoff.UnixMilli(), minQuality, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSQLiteReadings(rows)
}

func (s *sqliteStore) AssetHistory(ctx context.Context, assetID int64, since time.Time, minQuality float64) ([]model.SensorReading, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, tenant_id, sensor_id, asset_id, metric_type, value, unit, quality, metadata_json
		FROM sensor_readings
		WHERE asset_id = ? AND ts >= ? AND quality >= ?
		ORDER BY ts ASC`,
		assetID, since.UTC().UnixMilli(), minQuality)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSQLiteReadings(rows)
}

func (s *sqliteStore) ActiveAssetIDs(ctx context.Context, since time.Time) ([]int64, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT asset_id FROM sensor_readings WHERE ts >= ? ORDER BY asset_id`,
		since.UTC().UnixMilli())
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

func (s *sqliteStore) Aggregates(ctx context.Context, assetID int64, metric model.MetricType, interval model.Interval, daysBack int) ([]model.SensorAggregate, error) {
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
		WHERE asset_id = ? AND metric_type = ? AND bucket_start >= ?
		ORDER BY bucket_start DESC`, table),
		assetID, string(metric), cutoff.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.SensorAggregate
	for rows.Next() {
		var a model.SensorAggregate
		var bucketMs int64
		var metricStr string
		if err := rows.Scan(&bucketMs, &a.TenantID, &a.AssetID, &metricStr,
			&a.AvgValue, &a.MinValue, &a.MaxValue, &a.StddevValue, &a.Count, &a.AvgQuality); err != nil {
			return nil, err
		}
		a.BucketStart = time.UnixMilli(bucketMs).UTC()
		a.MetricType = model.MetricType(metricStr)
		out = append(out, a)
	}
	return out, rows.Err()
}

// RefreshRollups recomputes touched buckets in Go: SQLite lacks
// stddev_pop, so grouping happens client-side.
func (s *sqliteStore) RefreshRollups(ctx context.Context, since time.Time) error {
	if s.db == nil {
		return nil
	}
	cutoff := bucketTruncate(since, model.IntervalDaily)
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, tenant_id, asset_id, metric_type, value, quality
		FROM sensor_readings WHERE ts >= ?`,
		cutoff.UnixMilli())
	if err != nil {
		return err
	}
	type rollupKey struct {
		bucket time.Time
		asset  int64
		metric string
	}
	type rollupAcc struct {
		tenant  string
		sum     float64
		sumSq   float64
		min     float64
		max     float64
		count   int
		quality float64
	}
	hourly := make(map[rollupKey]*rollupAcc)
	daily := make(map[rollupKey]*rollupAcc)
	accumulate := func(m map[rollupKey]*rollupAcc, key rollupKey, tenant string, value, quality float64) {
		acc, ok := m[key]
		if !ok {
			acc = &rollupAcc{tenant: tenant, min: value, max: value}
			m[key] = acc
		}
		acc.sum += value
		acc.sumSq += value * value
		if value < acc.min {
			acc.min = value
		}
		if value > acc.max {
			acc.max = value
		}
		acc.count++
		acc.quality += quality
	}
	for rows.Next() {
		var tsMs int64
		var tenant, metric string
		var asset int64
		var value, quality float64
		if err := rows.Scan(&tsMs, &tenant, &asset, &metric, &value, &quality); err != nil {
			rows.Close()
			return err
		}
		ts := time.UnixMilli(tsMs).UTC()
		accumulate(hourly, rollupKey{bucketTruncate(ts, model.IntervalHourly), asset, metric}, tenant, value, quality)
		accumulate(daily, rollupKey{bucketTruncate(ts, model.IntervalDaily), asset, metric}, tenant, value, quality)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	upsert := func(table string, m map[rollupKey]*rollupAcc) error {
		for key, acc := range m {
			mean := acc.sum / float64(acc.count)
			variance := acc.sumSq/float64(acc.count) - mean*mean
			if variance < 0 {
				variance = 0
			}
			if _, err := s.db.ExecContext(ctx, fmt.Sprintf(
				`INSERT INTO %s (bucket_start, tenant_id, asset_id, metric_type, avg_value, min_value, max_value, stddev_value, reading_count, avg_quality)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (asset_id, metric_type, bucket_start) DO UPDATE SET
					tenant_id = excluded.tenant_id,
					avg_value = excluded.avg_value,
					min_value = excluded.min_value,
					max_value = excluded.max_value,
					stddev_value = excluded.stddev_value,
					reading_count = excluded.reading_count,
					avg_quality = excluded.avg_quality`, table),
				key.bucket.UnixMilli(), acc.tenant, key.asset, key.metric,
				mean, acc.min, acc.max, math.Sqrt(variance), acc.count,
				acc.quality/float64(acc.count),
			); err != nil {
				return err
			}
		}
		return nil
	}
	if err := upsert("sensor_rollup_hourly", hourly); err != nil {
		return err
	}
	return upsert("sensor_rollup_daily", daily)
}

func (s *sqliteStore) ApplyRetention(ctx context.Context, cfg config.RetentionConfig) error {
	if s.db == nil {
		return nil
	}
	now := nowUTC()
	purges := []struct {
		query  string
		cutoff time.Time
	}{
		{`DELETE FROM sensor_readings WHERE ts < ?`, now.AddDate(0, 0, -cfg.RawDays)},
		{`DELETE FROM sensor_rollup_hourly WHERE bucket_start < ?`, now.AddDate(0, 0, -cfg.HourlyDays)},
		{`DELETE FROM sensor_rollup_daily WHERE bucket_start < ?`, now.AddDate(0, 0, -cfg.DailyDays)},
	}
	for _, p := range purges {
		if _, err := s.db.ExecContext(ctx, p.query, p.cutoff.UnixMilli()); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqliteStore) SaveAlert(ctx context.Context, alert model.AlertEvent) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sensor_alerts (ts, asset_id, sensor_id, metric_type, alert_type, severity, value, threshold, message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.Timestamp.UTC().UnixMilli(),
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

func (s *sqliteStore) CreateWorkOrder(ctx context.Context, wo *model.WorkOrder) error {
	if s.db == nil || wo == nil {
		return nil
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO work_orders (reference, asset_id, title, description, wo_type, status, priority, due_date, estimated_hours, ai_generated, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		wo.Reference,
		wo.AssetID,
		wo.Title,
		wo.Description,
		string(wo.Type),
		string(wo.Status),
		wo.Priority,
		wo.DueDate.UTC().UnixMilli(),
		wo.EstimatedHours,
		boolToInt(wo.AIGenerated),
		wo.CreatedAt.UTC().UnixMilli(),
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	wo.ID = id
	return nil
}

func (s *sqliteStore) HasOpenPreventiveOrder(ctx context.Context, assetID int64, since time.Time) (bool, error) {
	if s.db == nil {
		return false, nil
	}
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM work_orders
		WHERE asset_id = ? AND wo_type = ? AND ai_generated = 1
			AND status IN (?, ?) AND created_at >= ?`,
		assetID, string(model.WorkOrderPreventive),
		string(model.StatusOpen), string(model.StatusInProgress), since.UTC().UnixMilli()).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *sqliteStore) CompletedWorkOrders(ctx context.Context, since time.Time) ([]model.WorkOrder, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, coalesce(reference, ''), asset_id, title, coalesce(description, ''), wo_type, status, priority,
			coalesce(due_date, 0), coalesce(estimated_hours, 0), ai_generated, created_at, completed_at
		FROM work_orders
		WHERE status = ? AND completed_at >= ?
		ORDER BY completed_at DESC`,
		string(model.StatusCompleted), since.UTC().UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.WorkOrder
	for rows.Next() {
		var wo model.WorkOrder
		var woType, status string
		var dueMs, createdMs int64
		var completedMs sql.NullInt64
		var aiGen int
		if err := rows.Scan(&wo.ID, &wo.Reference, &wo.AssetID, &wo.Title, &wo.Description,
			&woType, &status, &wo.Priority, &dueMs, &wo.EstimatedHours,
			&aiGen, &createdMs, &completedMs); err != nil {
			return nil, err
		}
		wo.Type = model.WorkOrderType(woType)
		wo.Status = model.WorkOrderStatus(status)
		wo.DueDate = time.UnixMilli(dueMs).UTC()
		wo.CreatedAt = time.UnixMilli(createdMs).UTC()
		wo.AIGenerated = aiGen != 0
		if completedMs.Valid {
			t := time.UnixMilli(completedMs.Int64).UTC()
			wo.CompletedAt = &t
		}
		out = append(out, wo)
	}
	return out, rows.Err()
}

func scanSQLiteReadings(rows *sql.Rows) ([]model.SensorReading, error) {
	var out []model.SensorReading
	for rows.Next() {
		var r model.SensorReading
		var tsMs int64
		var metricStr string
		var unit, metadata sql.NullString
		if err := rows.Scan(&tsMs, &r.TenantID, &r.SensorID, &r.AssetID,
			&metricStr, &r.Value, &unit, &r.QualityScore, &metadata); err != nil {
			return nil, err
		}
		r.Timestamp = time.UnixMilli(tsMs).UTC()
		r.MetricType = model.MetricType(metricStr)
		r.Unit = unit.String
		r.Metadata = decodeMetadata(metadata)
		out = append(out, r)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
