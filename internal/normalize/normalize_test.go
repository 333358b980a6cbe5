package normalize

import (
	"testing"
	"time"

	"assetsense/internal/config"
	"assetsense/internal/model"
)

func floatPtr(v float64) *float64 { return &v }

func testRaw() RawReading {
	return RawReading{
		SensorID:   "temp-001",
		AssetID:    42,
		MetricType: "temperature",
		Value:      floatPtr(71.5),
	}
}

func TestNormalizeDefaults(t *testing.T) {
	cfg := config.DefaultConfig()
	r, err := Normalize(testRaw(), cfg)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if r.QualityScore != 1.0 {
		t.Fatalf("quality default = %v, want 1.0", r.QualityScore)
	}
	if r.TenantID != "default" {
		t.Fatalf("tenant default = %q", r.TenantID)
	}
	if r.Unit != "°C" {
		t.Fatalf("unit default = %q", r.Unit)
	}
	if r.Timestamp.IsZero() {
		t.Fatalf("timestamp not defaulted")
	}
	if r.MetricType != model.MetricTemperature {
		t.Fatalf("metric = %q", r.MetricType)
	}
}

func TestNormalizeRejections(t *testing.T) {
	cfg := config.DefaultConfig()

	raw := testRaw()
	raw.SensorID = "  "
	if _, err := Normalize(raw, cfg); err == nil {
		t.Fatalf("expected sensor_id rejection")
	}

	raw = testRaw()
	raw.AssetID = 0
	if _, err := Normalize(raw, cfg); err == nil {
		t.Fatalf("expected asset_id rejection")
	}

	raw = testRaw()
	raw.MetricType = "sentiment"
	if _, err := Normalize(raw, cfg); err == nil {
		t.Fatalf("expected unknown metric rejection")
	}

	raw = testRaw()
	raw.Value = nil
	if _, err := Normalize(raw, cfg); err == nil {
		t.Fatalf("expected missing value rejection")
	}

	raw = testRaw()
	raw.QualityScore = floatPtr(1.5)
	if _, err := Normalize(raw, cfg); err == nil {
		t.Fatalf("expected quality range rejection")
	}
}

func TestNormalizeLowQualityAccepted(t *testing.T) {
	// Low-quality readings are stored, not dropped; filtering happens at
	// query time.
	raw := testRaw()
	raw.QualityScore = floatPtr(0.2)
	r, err := Normalize(raw, config.DefaultConfig())
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if r.QualityScore != 0.2 {
		t.Fatalf("quality = %v", r.QualityScore)
	}
}

func TestParseTimestampFormats(t *testing.T) {
	want := time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC)
	cases := []string{
		"2026-03-15T10:30:00Z",
		"2026-03-15 10:30:00",
		"2026-03-15T10:30:00",
		"1773570600",    // unix seconds
		"1773570600000", // unix milliseconds
	}
	for _, c := range cases {
		got, err := ParseTimestamp(c)
		if err != nil {
			t.Fatalf("parse %q: %v", c, err)
		}
		if !got.UTC().Equal(want) {
			t.Fatalf("parse %q = %v, want %v", c, got.UTC(), want)
		}
	}
}

func TestParseTimestampRejectsGarbage(t *testing.T) {
	if _, err := ParseTimestamp("not-a-time"); err == nil {
		t.Fatalf("expected parse failure")
	}
	if _, err := ParseTimestamp(""); err == nil {
		t.Fatalf("expected empty rejection")
	}
}
