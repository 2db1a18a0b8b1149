// Package metrics exposes ingestion, alert and delivery counters to Prometheus.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rewired-gh/dipwatch/internal/models"
)

const namespace = "dipwatch"

// Recorder owns a private registry so that tests and multiple instances never collide.
type Recorder struct {
	registry *prometheus.Registry

	ticks        *prometheus.CounterVec
	alerts       *prometheus.CounterVec
	price        *prometheus.GaugeVec
	dip          *prometheus.GaugeVec
	delivered    *prometheus.CounterVec
	skipped      *prometheus.CounterVec
	sinkErrors   *prometheus.CounterVec
	dropped      *prometheus.CounterVec
	symbols      *prometheus.GaugeVec
	threshold    prometheus.Gauge
	uptime       prometheus.Gauge
	reportsTotal prometheus.Counter
}

// New creates a Recorder with Go and process collectors registered.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,
		ticks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "ticks_total",
			Help:      "Feed messages processed, by outcome.",
		}, []string{"outcome"}),
		alerts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Drawdown alerts raised, by symbol.",
		}, []string{"symbol"}),
		price: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "symbol",
			Name:      "price",
			Help:      "Last accepted price per symbol.",
		}, []string{"symbol"}),
		dip: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "symbol",
			Name:      "dip_percent",
			Help:      "Current decline below the session high per symbol.",
		}, []string{"symbol"}),
		delivered: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "deliveries_total",
			Help:      "Alerts delivered, by sink.",
		}, []string{"sink"}),
		skipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "skipped_total",
			Help:      "Alerts a sink chose not to deliver, by sink.",
		}, []string{"sink"}),
		sinkErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "sink_errors_total",
			Help:      "Failed alert deliveries, by sink.",
		}, []string{"sink"}),
		dropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "dropped_total",
			Help:      "Alerts dropped before delivery, by reason.",
		}, []string{"reason"}),
		symbols: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "symbols",
			Help:      "Tracked symbols at the last stats report, by state.",
		}, []string{"state"}),
		threshold: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "threshold_percent",
			Help:      "Configured drawdown alert threshold.",
		}),
		uptime: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Process uptime at the last stats report.",
		}),
		reportsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stats_reports_total",
			Help:      "Stats reports rendered.",
		}),
	}
}

func (r *Recorder) RecordTick(outcome string) {
	r.ticks.WithLabelValues(outcome).Inc()
}

func (r *Recorder) RecordPrice(symbol string, price, dipPercent float64) {
	r.price.WithLabelValues(symbol).Set(price)
	r.dip.WithLabelValues(symbol).Set(dipPercent)
}

func (r *Recorder) RecordAlert(symbol string) {
	r.alerts.WithLabelValues(symbol).Inc()
}

func (r *Recorder) RecordDelivered(sink string) {
	r.delivered.WithLabelValues(sink).Inc()
}

func (r *Recorder) RecordSkipped(sink string) {
	r.skipped.WithLabelValues(sink).Inc()
}

func (r *Recorder) RecordSinkError(sink string) {
	r.sinkErrors.WithLabelValues(sink).Inc()
}

func (r *Recorder) RecordDropped(reason string) {
	r.dropped.WithLabelValues(reason).Inc()
}

// Report publishes snapshot aggregates as gauges.
func (r *Recorder) Report(_ context.Context, view models.StatsView) error {
	r.symbols.WithLabelValues("total").Set(float64(view.TotalSymbols))
	r.symbols.WithLabelValues("with_data").Set(float64(view.SymbolsWithData))
	r.symbols.WithLabelValues("active").Set(float64(view.ActiveSymbols))
	r.threshold.Set(view.ThresholdPercent)
	r.uptime.Set(view.Uptime.Seconds())
	r.reportsTotal.Inc()
	return nil
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
