package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "events_monitor"

// Metrics holds the pipeline collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Counters
	LogsReceived     *prometheus.CounterVec
	LogsFiltered     *prometheus.CounterVec
	DecodeFailures   *prometheus.CounterVec
	RecordsPersisted prometheus.Counter
	StoreErrors      *prometheus.CounterVec
	LaneFailures     *prometheus.CounterVec

	// Gauges
	Watermark *prometheus.GaugeVec
	Tasks     *prometheus.GaugeVec

	gatherer prometheus.Gatherer
}

// New registers the collectors on reg. A nil reg uses a fresh private registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		LogsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logs_received_total",
			Help:      "Logs delivered by the chain transport",
		}, []string{"lane"}),
		LogsFiltered: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logs_filtered_total",
			Help:      "Logs dropped before decoding",
		}, []string{"reason"}),
		DecodeFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_failures_total",
			Help:      "Logs that failed to decode",
		}, []string{"kind"}),
		RecordsPersisted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_persisted_total",
			Help:      "Records accepted by the primary store",
		}),
		StoreErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Store write failures",
		}, []string{"store"}),
		LaneFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lane_failures_total",
			Help:      "Ingestion lanes that stopped on a fatal error",
		}, []string{"lane"}),
		Watermark: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watermark_block",
			Help:      "Next block each lane will read",
		}, []string{"task", "lane"}),
		Tasks: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks",
			Help:      "Supervised tasks by status",
		}, []string{"status"}),
		gatherer: reg,
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) LogReceived(lane string) {
	if m == nil {
		return
	}
	m.LogsReceived.WithLabelValues(lane).Inc()
}

func (m *Metrics) LogFiltered(reason string) {
	if m == nil {
		return
	}
	m.LogsFiltered.WithLabelValues(reason).Inc()
}

func (m *Metrics) DecodeFailed(kind string) {
	if m == nil {
		return
	}
	m.DecodeFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordPersisted() {
	if m == nil {
		return
	}
	m.RecordsPersisted.Inc()
}

func (m *Metrics) StoreFailed(store string) {
	if m == nil {
		return
	}
	m.StoreErrors.WithLabelValues(store).Inc()
}

func (m *Metrics) LaneFailed(lane string) {
	if m == nil {
		return
	}
	m.LaneFailures.WithLabelValues(lane).Inc()
}

func (m *Metrics) SetWatermark(task, lane string, block uint64) {
	if m == nil {
		return
	}
	m.Watermark.WithLabelValues(task, lane).Set(float64(block))
}

// SetTasks replaces the task gauge with the given status counts.
func (m *Metrics) SetTasks(counts map[string]int) {
	if m == nil {
		return
	}
	m.Tasks.Reset()
	for status, n := range counts {
		m.Tasks.WithLabelValues(status).Set(float64(n))
	}
}
