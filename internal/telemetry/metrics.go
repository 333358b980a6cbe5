package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the service counters on a private registry so tests can
// run multiple instances without duplicate registration panics.
type Metrics struct {
	registry *prometheus.Registry

	ReadingsIngested  prometheus.Counter
	ReadingsRejected  prometheus.Counter
	AlertsEmitted     *prometheus.CounterVec
	Predictions       prometheus.Counter
	WorkOrdersCreated prometheus.Counter
	TrainingRuns      *prometheus.CounterVec
	Subscribers       prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		ReadingsIngested: factory.NewCounter(prometheus.CounterOpts{
			Name: "assetsense_readings_ingested_total",
			Help: "Sensor readings accepted into storage.",
		}),
		ReadingsRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "assetsense_readings_rejected_total",
			Help: "Sensor readings rejected during normalization or storage.",
		}),
		AlertsEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "assetsense_alerts_emitted_total",
			Help: "Threshold alerts emitted, by severity.",
		}, []string{"severity"}),
		Predictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "assetsense_predictions_total",
			Help: "Failure predictions computed.",
		}),
		WorkOrdersCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "assetsense_workorders_created_total",
			Help: "Preventive work orders created from predictions.",
		}),
		TrainingRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "assetsense_training_runs_total",
			Help: "Model training runs, by outcome.",
		}, []string{"outcome"}),
		Subscribers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "assetsense_alert_subscribers",
			Help: "Currently connected alert stream subscribers.",
		}),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
