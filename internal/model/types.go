package model

import "time"

type MetricType string

const (
	MetricTemperature MetricType = "temperature"
	MetricVibration   MetricType = "vibration"
	MetricPressure    MetricType = "pressure"
	MetricCurrent     MetricType = "current"
	MetricHumidity    MetricType = "humidity"
	MetricFlowRate    MetricType = "flow_rate"
	MetricRPM         MetricType = "rpm"
	MetricVoltage     MetricType = "voltage"
)

func KnownMetrics() []MetricType {
	return []MetricType{
		MetricTemperature,
		MetricVibration,
		MetricPressure,
		MetricCurrent,
		MetricHumidity,
		MetricFlowRate,
		MetricRPM,
		MetricVoltage,
	}
}

func IsKnownMetric(m MetricType) bool {
	for _, k := range KnownMetrics() {
		if m == k {
			return true
		}
	}
	return false
}

type SensorReading struct {
	Timestamp    time.Time         `json:"timestamp"`
	TenantID     string            `json:"tenant_id,omitempty"`
	SensorID     string            `json:"sensor_id"`
	AssetID      int64             `json:"asset_id"`
	MetricType   MetricType        `json:"metric_type"`
	Value        float64           `json:"value"`
	Unit         string            `json:"unit,omitempty"`
	QualityScore float64           `json:"quality_score"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

type BulkResult struct {
	SuccessCount   int `json:"success_count"`
	ErrorCount     int `json:"error_count"`
	TotalProcessed int `json:"total_processed"`
}

type Interval string

const (
	IntervalHourly Interval = "hourly"
	IntervalDaily  Interval = "daily"
)

type SensorAggregate struct {
	BucketStart time.Time  `json:"bucket_start"`
	TenantID    string     `json:"tenant_id,omitempty"`
	AssetID     int64      `json:"asset_id"`
	MetricType  MetricType `json:"metric_type"`
	AvgValue    float64    `json:"avg_value"`
	MinValue    float64    `json:"min_value"`
	MaxValue    float64    `json:"max_value"`
	StddevValue float64    `json:"stddev_value"`
	Count       int        `json:"reading_count"`
	AvgQuality  float64    `json:"avg_quality"`
}

type FeatureVector struct {
	AssetID         int64      `json:"asset_id"`
	MetricType      MetricType `json:"metric_type"`
	Mean            float64    `json:"mean"`
	Std             float64    `json:"std"`
	Max             float64    `json:"max"`
	Min             float64    `json:"min"`
	Trend           float64    `json:"trend"`
	AnomalyScore    float64    `json:"anomaly_score"`
	FailureOccurred bool       `json:"failure_occurred,omitempty"`
}

type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// RiskFor maps a failure probability onto the four-tier risk scale.
// The thresholds are fixed; callers must not reinterpret them.
func RiskFor(probability float64) RiskLevel {
	switch {
	case probability >= 0.8:
		return RiskCritical
	case probability >= 0.6:
		return RiskHigh
	case probability >= 0.3:
		return RiskMedium
	default:
		return RiskLow
	}
}

type PredictionResult struct {
	AssetID              int64     `json:"asset_id"`
	AssetName            string    `json:"asset_name,omitempty"`
	FailureProbability   float64   `json:"failure_probability"`
	PredictedFailureDate time.Time `json:"predicted_failure_date"`
	ConfidenceScore      float64   `json:"confidence_score"`
	ContributingFactors  []string  `json:"contributing_factors"`
	RecommendedActions   []string  `json:"recommended_actions"`
	RiskLevel            RiskLevel `json:"risk_level"`
	Summary              string    `json:"summary,omitempty"`
	GeneratedAt          time.Time `json:"generated_at"`
	ModelBased           bool      `json:"model_based"`
}

type WorkOrderType string

const (
	WorkOrderCorrective WorkOrderType = "corrective"
	WorkOrderPreventive WorkOrderType = "preventive"
)

type WorkOrderStatus string

const (
	StatusOpen       WorkOrderStatus = "open"
	StatusInProgress WorkOrderStatus = "in_progress"
	StatusCompleted  WorkOrderStatus = "completed"
	StatusCancelled  WorkOrderStatus = "cancelled"
)

type WorkOrder struct {
	ID             int64           `json:"id"`
	Reference      string          `json:"reference,omitempty"`
	AssetID        int64           `json:"asset_id"`
	Title          string          `json:"title"`
	Description    string          `json:"description,omitempty"`
	Type           WorkOrderType   `json:"type"`
	Status         WorkOrderStatus `json:"status"`
	Priority       string          `json:"priority"`
	DueDate        time.Time       `json:"due_date,omitempty"`
	EstimatedHours float64         `json:"estimated_hours,omitempty"`
	AIGenerated    bool            `json:"ai_generated"`
	CreatedAt      time.Time       `json:"created_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

type AlertEvent struct {
	Timestamp  time.Time  `json:"timestamp"`
	AssetID    int64      `json:"asset_id"`
	SensorID   string     `json:"sensor_id"`
	MetricType MetricType `json:"metric_type"`
	AlertType  string     `json:"alert_type"`
	Severity   string     `json:"severity"`
	Value      float64    `json:"value"`
	Threshold  float64    `json:"threshold"`
	Message    string     `json:"message"`
}
