package normalize

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"assetsense/internal/config"
	"assetsense/internal/model"
)

// RawReading is the wire shape accepted by every ingest source. Timestamp
// is a string so gateways can send RFC3339, "2006-01-02 15:04:05" or unix
// epoch values; QualityScore is a pointer so an absent field defaults to
// 1.0 rather than 0.
type RawReading struct {
	Timestamp    string            `json:"timestamp,omitempty"`
	TenantID     string            `json:"tenant_id,omitempty"`
	SensorID     string            `json:"sensor_id"`
	AssetID      int64             `json:"asset_id"`
	MetricType   string            `json:"metric_type"`
	Value        *float64          `json:"value"`
	Unit         string            `json:"unit,omitempty"`
	QualityScore *float64          `json:"quality_score,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

func Normalize(raw RawReading, cfg *config.Config) (model.SensorReading, error) {
	sensor := strings.TrimSpace(raw.SensorID)
	if sensor == "" {
		return model.SensorReading{}, errors.New("sensor_id required")
	}
	if raw.AssetID <= 0 {
		return model.SensorReading{}, errors.New("asset_id required")
	}
	metric := model.MetricType(strings.ToLower(strings.TrimSpace(raw.MetricType)))
	if !model.IsKnownMetric(metric) {
		return model.SensorReading{}, fmt.Errorf("unknown metric type: %q", raw.MetricType)
	}
	if raw.Value == nil {
		return model.SensorReading{}, errors.New("value required")
	}

	ts := time.Now().UTC()
	if raw.Timestamp != "" {
		parsed, err := ParseTimestamp(raw.Timestamp)
		if err != nil {
			return model.SensorReading{}, fmt.Errorf("parse timestamp: %w", err)
		}
		ts = parsed.UTC()
	}

	quality := 1.0
	if raw.QualityScore != nil {
		quality = *raw.QualityScore
		if quality < 0 || quality > 1 {
			return model.SensorReading{}, fmt.Errorf("quality_score out of range: %v", quality)
		}
	}

	tenant := strings.TrimSpace(raw.TenantID)
	if tenant == "" {
		tenant = cfg.Ingest.DefaultTenant
	}
	unit := strings.TrimSpace(raw.Unit)
	if unit == "" {
		if th, ok := cfg.Thresholds[metric]; ok {
			unit = th.Unit
		}
	}

	return model.SensorReading{
		Timestamp:    ts,
		TenantID:     tenant,
		SensorID:     sensor,
		AssetID:      raw.AssetID,
		MetricType:   metric,
		Value:        *raw.Value,
		Unit:         unit,
		QualityScore: quality,
		Metadata:     raw.Metadata,
	}, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z0700",
}

func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if isNumeric(value) {
		if ts, err := parseUnix(value); err == nil {
			return ts, nil
		}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func isNumeric(value string) bool {
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0
}

func parseUnix(value string) (time.Time, error) {
	if len(value) >= 13 {
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(0, ms*int64(time.Millisecond)).UTC(), nil
	}
	sec, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}
