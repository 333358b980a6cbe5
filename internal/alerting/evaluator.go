package alerting

import (
	"fmt"
	"time"

	"assetsense/internal/config"
	"assetsense/internal/model"
)

// Evaluator classifies single readings against the static per-metric
// thresholds. It is stateless: an oscillating sensor alerts on every
// breaching reading, there is no hysteresis or suppression window.
type Evaluator struct{}

func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Check returns at most one alert for the reading: severity "critical"
// at or above the critical threshold, "high" at or above warning.
// Metrics without configured thresholds never alert.
func (e *Evaluator) Check(reading model.SensorReading, thresholds config.ThresholdsConfig) (model.AlertEvent, bool) {
	th, ok := thresholds[reading.MetricType]
	if !ok {
		return model.AlertEvent{}, false
	}
	var severity string
	var breached float64
	switch {
	case reading.Value >= th.Critical:
		severity = "critical"
		breached = th.Critical
	case reading.Value >= th.Warning:
		severity = "high"
		breached = th.Warning
	default:
		return model.AlertEvent{}, false
	}
	return model.AlertEvent{
		Timestamp:  time.Now().UTC(),
		AssetID:    reading.AssetID,
		SensorID:   reading.SensorID,
		MetricType: reading.MetricType,
		AlertType:  "threshold",
		Severity:   severity,
		Value:      reading.Value,
		Threshold:  breached,
		Message: fmt.Sprintf("%s reading %.2f%s exceeds %s threshold %.2f%s on asset %d",
			reading.MetricType, reading.Value, th.Unit, severity, breached, th.Unit, reading.AssetID),
	}, true
}
