// Package report implements snapshot consumers: a Prometheus scrape
// exporter, console/JSON/CSV writers, and an optional Postgres history
// sink. None of these are part of the metrics core itself; they all poll
// metrics.Collector.Snapshot (or a controller.AggregateSnapshot) at
// their own cadence, and the metrics core never calls back into them.
package report

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/FairForge/loadstorm/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PromExporter re-publishes the metrics core's Snapshot fields as
// Prometheus gauges on every Update call. It registers against its own
// *prometheus.Registry rather than the global default, so a process can
// host more than one exporter without collisions.
type PromExporter struct {
	registry *prometheus.Registry

	total       prometheus.Gauge
	success     prometheus.Gauge
	failure     prometheus.Gauge
	currentTPS  prometheus.Gauge
	overallTPS  prometheus.Gauge
	avgLatency  prometheus.Gauge
	successRate prometheus.Gauge
	percentiles *prometheus.GaugeVec

	mu sync.Mutex
}

// NewPromExporter builds an exporter registered against a fresh registry
// scoped to namespace (e.g. "loadstorm").
func NewPromExporter(namespace string) *PromExporter {
	registry := prometheus.NewRegistry()

	e := &PromExporter{
		registry: registry,
		total: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "tasks_total", Help: "Total tasks recorded.",
		}),
		success: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "tasks_success", Help: "Successful tasks recorded.",
		}),
		failure: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "tasks_failure", Help: "Failed tasks recorded.",
		}),
		currentTPS: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "current_tps", Help: "TPS over the last second.",
		}),
		overallTPS: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "overall_tps", Help: "TPS since test start.",
		}),
		avgLatency: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "avg_latency_ms", Help: "Average latency in milliseconds.",
		}),
		successRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "success_rate", Help: "Fraction of tasks that succeeded.",
		}),
		percentiles: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "latency_percentile_ms", Help: "Latency percentile in milliseconds.",
		}, []string{"percentile"}),
	}

	registry.MustRegister(e.total, e.success, e.failure, e.currentTPS, e.overallTPS,
		e.avgLatency, e.successRate, e.percentiles)
	return e
}

// Update pushes a fresh Snapshot's fields into the gauges.
func (e *PromExporter) Update(snap metrics.Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.total.Set(float64(snap.Total))
	e.success.Set(float64(snap.Success))
	e.failure.Set(float64(snap.Failure))
	e.currentTPS.Set(snap.CurrentTPS)
	e.overallTPS.Set(snap.OverallTPS)
	e.avgLatency.Set(snap.AvgLatencyMs)
	e.successRate.Set(snap.SuccessRate)
	for p, v := range snap.Percentiles {
		e.percentiles.WithLabelValues(formatPercentile(p)).Set(v)
	}
}

// Handler returns the http.Handler to mount for Prometheus scraping.
func (e *PromExporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

func formatPercentile(p float64) string {
	return "p" + strconv.FormatFloat(p, 'f', -1, 64)
}
