package config

import (
	"os"
	"path/filepath"
	"testing"

	"assetsense/internal/model"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := Validate(DefaultConfig()); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	content := `
log_level: debug
thresholds:
  temperature:
    warning: 70
    critical: 90
    unit: "°C"
prediction:
  min_quality: 0.8
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log_level = %q", cfg.LogLevel)
	}
	th := cfg.Thresholds[model.MetricTemperature]
	if th.Warning != 70 || th.Critical != 90 {
		t.Fatalf("temperature thresholds = %+v", th)
	}
	if cfg.Prediction.MinQuality != 0.8 {
		t.Fatalf("min_quality = %v", cfg.Prediction.MinQuality)
	}
	// Unset sections keep their defaults.
	if cfg.Prediction.WindowHours != 168 {
		t.Fatalf("window_hours = %d", cfg.Prediction.WindowHours)
	}
	if cfg.Thresholds[model.MetricVibration].Critical != 12 {
		t.Fatalf("vibration default lost")
	}
}

func TestLoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")
	content := `{"log_format": "text", "storage": {"driver": "postgres", "dsn": "postgres://x"}}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogFormat != "text" || cfg.Storage.Driver != "postgres" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestValidateRejectsUnknownMetric(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Thresholds["warp_field"] = MetricThreshold{Warning: 1, Critical: 2}
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected unknown metric rejection")
	}
}

func TestValidateRejectsInvertedThresholds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Thresholds[model.MetricTemperature] = MetricThreshold{Warning: 100, Critical: 85}
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected inverted threshold rejection")
	}
}

func TestStaticManagerUpdate(t *testing.T) {
	m := NewStaticManager(nil)
	if m.Get().Prediction.DecisionThreshold != 0.6 {
		t.Fatalf("defaults not applied")
	}
	updated := DefaultConfig()
	updated.LogLevel = "warn"
	if err := m.Update(updated); err != nil {
		t.Fatalf("update: %v", err)
	}
	if m.Get().LogLevel != "warn" {
		t.Fatalf("update not visible")
	}
}
