package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"assetsense/internal/model"
)

type Config struct {
	LogLevel   string           `json:"log_level" yaml:"log_level"`
	LogFormat  string           `json:"log_format" yaml:"log_format"`
	Ingest     IngestConfig     `json:"ingest" yaml:"ingest"`
	Thresholds ThresholdsConfig `json:"thresholds" yaml:"thresholds"`
	Prediction PredictionConfig `json:"prediction" yaml:"prediction"`
	Summarizer SummarizerConfig `json:"summarizer" yaml:"summarizer"`
	API        APIConfig        `json:"api" yaml:"api"`
	Storage    StorageConfig    `json:"storage" yaml:"storage"`
	Retention  RetentionConfig  `json:"retention" yaml:"retention"`
	Alerts     AlertsConfig     `json:"alerts" yaml:"alerts"`
}

type IngestConfig struct {
	ChannelBuffer int             `json:"channel_buffer" yaml:"channel_buffer"`
	REST          RESTConfig      `json:"rest" yaml:"rest"`
	TCPStream     TCPStreamConfig `json:"tcp_stream" yaml:"tcp_stream"`
	Kafka         KafkaConfig     `json:"kafka" yaml:"kafka"`
	DefaultTenant string          `json:"default_tenant" yaml:"default_tenant"`
}

type RESTConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type TCPStreamConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

// MetricThreshold holds the static warning/critical pair for one metric
// type. Readings at or above critical alert with severity "critical",
// at or above warning with severity "high".
type MetricThreshold struct {
	Warning  float64 `json:"warning" yaml:"warning"`
	Critical float64 `json:"critical" yaml:"critical"`
	Unit     string  `json:"unit" yaml:"unit"`
}

type ThresholdsConfig map[model.MetricType]MetricThreshold

type PredictionConfig struct {
	WindowHours          int     `json:"window_hours" yaml:"window_hours"`
	HeuristicWindow      int     `json:"heuristic_window" yaml:"heuristic_window"`
	MinQuality           float64 `json:"min_quality" yaml:"min_quality"`
	MaxRecentRows        int     `json:"max_recent_rows" yaml:"max_recent_rows"`
	MinTrainingSamples   int     `json:"min_training_samples" yaml:"min_training_samples"`
	TrainingLookbackDays int     `json:"training_lookback_days" yaml:"training_lookback_days"`
	DecisionThreshold    float64 `json:"decision_threshold" yaml:"decision_threshold"`
}

type SummarizerConfig struct {
	Enabled bool          `json:"enabled" yaml:"enabled"`
	URL     string        `json:"url" yaml:"url"`
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type StorageConfig struct {
	Driver string `json:"driver" yaml:"driver"`
	DSN    string `json:"dsn" yaml:"dsn"`
}

type RetentionConfig struct {
	RawDays        int           `json:"raw_days" yaml:"raw_days"`
	HourlyDays     int           `json:"hourly_days" yaml:"hourly_days"`
	DailyDays      int           `json:"daily_days" yaml:"daily_days"`
	RollupInterval time.Duration `json:"rollup_interval" yaml:"rollup_interval"`
	SweepInterval  time.Duration `json:"sweep_interval" yaml:"sweep_interval"`
}

type AlertsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

func DefaultThresholds() ThresholdsConfig {
	return ThresholdsConfig{
		model.MetricTemperature: {Warning: 85, Critical: 100, Unit: "°C"},
		model.MetricVibration:   {Warning: 7, Critical: 12, Unit: "mm/s"},
		model.MetricPressure:    {Warning: 8, Critical: 10, Unit: "bar"},
		model.MetricCurrent:     {Warning: 80, Critical: 100, Unit: "A"},
		model.MetricHumidity:    {Warning: 80, Critical: 95, Unit: "%"},
		model.MetricFlowRate:    {Warning: 400, Critical: 500, Unit: "l/min"},
		model.MetricRPM:         {Warning: 3200, Critical: 3600, Unit: "rpm"},
		model.MetricVoltage:     {Warning: 250, Critical: 270, Unit: "V"},
	}
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Ingest: IngestConfig{
			ChannelBuffer: 10000,
			REST:          RESTConfig{Enabled: true, Addr: ":8080"},
			TCPStream:     TCPStreamConfig{Enabled: false, Addr: ":9000"},
			Kafka:         KafkaConfig{Enabled: false},
			DefaultTenant: "default",
		},
		Thresholds: DefaultThresholds(),
		Prediction: PredictionConfig{
			WindowHours:          168,
			HeuristicWindow:      24,
			MinQuality:           0.7,
			MaxRecentRows:        1000,
			MinTrainingSamples:   100,
			TrainingLookbackDays: 730,
			DecisionThreshold:    0.6,
		},
		Summarizer: SummarizerConfig{Enabled: false, Timeout: 10 * time.Second},
		API:        APIConfig{Enabled: true, Addr: ":8081"},
		Storage:    StorageConfig{Driver: "sqlite", DSN: "file:assetsense.db?_pragma=busy_timeout(5000)"},
		Retention: RetentionConfig{
			RawDays:        365,
			HourlyDays:     730,
			DailyDays:      1825,
			RollupInterval: 30 * time.Minute,
			SweepInterval:  24 * time.Hour,
		},
		Alerts: AlertsConfig{StoreLimit: 1000},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	if cfg.LogFormat == "" {
		cfg.LogFormat = "json"
	}
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = 10000
	}
	if cfg.Ingest.DefaultTenant == "" {
		cfg.Ingest.DefaultTenant = "default"
	}
	if len(cfg.Thresholds) == 0 {
		cfg.Thresholds = DefaultThresholds()
	}
	if cfg.Prediction.WindowHours <= 0 {
		cfg.Prediction.WindowHours = 168
	}
	if cfg.Prediction.HeuristicWindow <= 0 {
		cfg.Prediction.HeuristicWindow = 24
	}
	if cfg.Prediction.MinQuality <= 0 {
		cfg.Prediction.MinQuality = 0.7
	}
	if cfg.Prediction.MaxRecentRows <= 0 {
		cfg.Prediction.MaxRecentRows = 1000
	}
	if cfg.Prediction.MinTrainingSamples <= 0 {
		cfg.Prediction.MinTrainingSamples = 100
	}
	if cfg.Prediction.TrainingLookbackDays <= 0 {
		cfg.Prediction.TrainingLookbackDays = 730
	}
	if cfg.Prediction.DecisionThreshold <= 0 {
		cfg.Prediction.DecisionThreshold = 0.6
	}
	if cfg.Summarizer.Timeout <= 0 {
		cfg.Summarizer.Timeout = 10 * time.Second
	}
	if cfg.Retention.RawDays <= 0 {
		cfg.Retention.RawDays = 365
	}
	if cfg.Retention.HourlyDays <= 0 {
		cfg.Retention.HourlyDays = 730
	}
	if cfg.Retention.DailyDays <= 0 {
		cfg.Retention.DailyDays = 1825
	}
	if cfg.Retention.RollupInterval <= 0 {
		cfg.Retention.RollupInterval = 30 * time.Minute
	}
	if cfg.Retention.SweepInterval <= 0 {
		cfg.Retention.SweepInterval = 24 * time.Hour
	}
	if cfg.Alerts.StoreLimit <= 0 {
		cfg.Alerts.StoreLimit = 1000
	}
}

func Validate(cfg *Config) error {
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Ingest.REST.Enabled && cfg.Ingest.REST.Addr == "" {
		return errors.New("ingest.rest.addr required when ingest.rest.enabled is true")
	}
	if cfg.Ingest.TCPStream.Enabled && cfg.Ingest.TCPStream.Addr == "" {
		return errors.New("ingest.tcp_stream.addr required when ingest.tcp_stream.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Storage.Driver == "" {
		return errors.New("storage.driver required")
	}
	for metric, th := range cfg.Thresholds {
		if !model.IsKnownMetric(metric) {
			return fmt.Errorf("thresholds contains unknown metric type: %q", metric)
		}
		if th.Warning <= 0 || th.Critical <= 0 {
			return fmt.Errorf("thresholds for %s must be positive", metric)
		}
		if th.Warning >= th.Critical {
			return fmt.Errorf("thresholds for %s: warning must be below critical", metric)
		}
	}
	if cfg.Prediction.MinQuality < 0 || cfg.Prediction.MinQuality > 1 {
		return errors.New("prediction.min_quality must be in [0,1]")
	}
	if cfg.Prediction.DecisionThreshold <= 0 || cfg.Prediction.DecisionThreshold > 1 {
		return errors.New("prediction.decision_threshold must be in (0,1]")
	}
	if cfg.Summarizer.Enabled && cfg.Summarizer.URL == "" {
		return errors.New("summarizer.url required when summarizer.enabled is true")
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	info, err := os.Stat(path)
	if err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

// NewStaticManager wraps an in-memory config with no backing file.
// Used by tests and embedded callers.
func NewStaticManager(cfg *Config) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	applyDefaults(cfg)
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	if m.path == "" {
		return m.Get(), nil
	}
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if m.path != "" {
		if err := Save(m.path, cfg); err != nil {
			return err
		}
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
