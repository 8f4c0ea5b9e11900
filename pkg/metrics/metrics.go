// Package metrics exposes the server's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the counters the server updates on its hot paths.
type Registry struct {
	reg *prometheus.Registry

	AuthVerdicts     *prometheus.CounterVec
	Detections       *prometheus.CounterVec
	Enforcements     *prometheus.CounterVec
	AlertFailures    prometheus.Counter
	PipelineFailures prometheus.Counter
	OpenSessions     prometheus.Gauge
}

func New() *Registry {
	reg := prometheus.NewRegistry()
	m := &Registry{
		reg: reg,
		AuthVerdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "iris",
			Subsystem: "auth",
			Name:      "verdicts_total",
			Help:      "Request authentication outcomes by error code, ok for accepted.",
		}, []string{"verdict"}),
		Detections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "iris",
			Subsystem: "detection",
			Name:      "events_total",
			Help:      "Detection events ingested, by category and risk level.",
		}, []string{"category", "risk_level"}),
		Enforcements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "iris",
			Subsystem: "enforcement",
			Name:      "restrictions_total",
			Help:      "Restrictions applied, by category.",
		}, []string{"category"}),
		AlertFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "iris",
			Subsystem: "alerts",
			Name:      "dispatch_failures_total",
			Help:      "Alerts dropped after the dispatcher exhausted its retry.",
		}),
		PipelineFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "iris",
			Subsystem: "detection",
			Name:      "pipeline_failures_total",
			Help:      "Ingested events whose restriction could not be applied.",
		}),
		OpenSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "iris",
			Subsystem: "sessions",
			Name:      "open",
			Help:      "Currently connected agent sessions.",
		}),
	}
	reg.MustRegister(m.AuthVerdicts, m.Detections, m.Enforcements, m.AlertFailures, m.PipelineFailures, m.OpenSessions)
	return m
}

// Handler serves the scrape endpoint for this registry only.
func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
