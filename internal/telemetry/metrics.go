// Package telemetry собирает метрики клиента и сервера предпросмотра в реестр Prometheus.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"voxio-chat/internal/core/reconciler"
)

const namespace = "voxio"

// Metrics реализует приемники метрик reconciler, realtime и preview.
type Metrics struct {
	registry *prometheus.Registry

	events       *prometheus.CounterVec
	merges       *prometheus.CounterVec
	failures     *prometheus.CounterVec
	cache        *prometheus.CounterVec
	fetchLatency *prometheus.HistogramVec
}

// New создает метрики в собственном реестре. Со withRuntime в реестр добавляются
// стандартные метрики процесса и Go.
func New(withRuntime bool) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "events_total",
			Help:      "Realtime channel events received, by kind.",
		}, []string{"kind"}),
		merges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "merges_total",
			Help:      "Remote inserts applied to the message list, by outcome.",
		}, []string{"outcome"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "failures_total",
			Help:      "Optimistic operations rolled back, by operation.",
		}, []string{"op"}),
		cache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "preview",
			Name:      "cache_requests_total",
			Help:      "Preview cache lookups, by result.",
		}, []string{"result"}),
		fetchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "preview",
			Name:      "fetch_duration_seconds",
			Help:      "Upstream preview fetch latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "result"}),
	}

	m.registry.MustRegister(m.events, m.merges, m.failures, m.cache, m.fetchLatency)
	if withRuntime {
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return m
}

// Registry возвращает реестр метрик.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler возвращает HTTP-обработчик для /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveEvent учитывает входящее событие канала.
func (m *Metrics) ObserveEvent(kind string) {
	m.events.WithLabelValues(kind).Inc()
}

// ObserveMerge учитывает результат слияния входящей вставки.
func (m *Metrics) ObserveMerge(outcome reconciler.MergeOutcome) {
	m.merges.WithLabelValues(string(outcome)).Inc()
}

// ObserveFailure учитывает откат оптимистичной операции.
func (m *Metrics) ObserveFailure(op string) {
	m.failures.WithLabelValues(op).Inc()
}

// ObserveCache учитывает попадание или промах кэша предпросмотров.
func (m *Metrics) ObserveCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cache.WithLabelValues(result).Inc()
}

// ObserveFetch учитывает длительность обращения к внешнему ресурсу.
func (m *Metrics) ObserveFetch(provider string, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.fetchLatency.WithLabelValues(provider, result).Observe(d.Seconds())
}
