// Package metrics holds the prometheus collectors for the pipeline and the
// HTTP surface.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "lexa"

	resultLabel = "result"
	stageLabel  = "stage"
	nameLabel   = "name"

	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Metrics groups every collector the service exports. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	uploads       *prometheus.CounterVec
	stageRuns     *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	aiCalls       *prometheus.CounterVec
	aiLatency     *prometheus.HistogramVec
	eventsDropped prometheus.Counter
	evicted       prometheus.Counter
	http          *Middleware
}

// New creates the collectors and registers them on reg. Passing a fresh
// prometheus.NewRegistry() keeps tests isolated from the default registry.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		gatherer: reg,
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Number of document uploads partitioned by result.",
		}, []string{resultLabel}),
		stageRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_stage_runs_total",
			Help:      "Number of pipeline stage runs partitioned by stage and result.",
		}, []string{stageLabel, resultLabel}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_stage_duration_seconds",
			Help:      "Time spent in a pipeline stage.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120},
		}, []string{stageLabel}),
		aiCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ai_calls_total",
			Help:      "Number of language model calls partitioned by prompt name and result.",
		}, []string{nameLabel, resultLabel}),
		aiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ai_call_duration_seconds",
			Help:      "Language model call latency partitioned by prompt name.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 60},
		}, []string{nameLabel}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "progress_events_dropped_total",
			Help:      "Progress events skipped because an observer buffer was full.",
		}),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_evicted_total",
			Help:      "Sessions removed by age-based cleanup.",
		}),
		http: NewMiddleware(),
	}

	reg.MustRegister(m.uploads, m.stageRuns, m.stageDuration, m.aiCalls, m.aiLatency, m.eventsDropped, m.evicted)
	reg.MustRegister(m.http.Collectors()...)
	return m
}

func result(err error) string {
	if err != nil {
		return ResultFailure
	}
	return ResultSuccess
}

func (m *Metrics) IncUploads(err error) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(result(err)).Inc()
}

// ObserveStage records one run of a pipeline stage.
func (m *Metrics) ObserveStage(stage string, took time.Duration, err error) {
	if m == nil {
		return
	}
	m.stageRuns.WithLabelValues(stage, result(err)).Inc()
	m.stageDuration.WithLabelValues(stage).Observe(took.Seconds())
}

// ObserveAICall records one language model call.
func (m *Metrics) ObserveAICall(name string, took time.Duration, err error) {
	if m == nil {
		return
	}
	m.aiCalls.WithLabelValues(name, result(err)).Inc()
	m.aiLatency.WithLabelValues(name).Observe(took.Seconds())
}

func (m *Metrics) IncEventsDropped() {
	if m == nil {
		return
	}
	m.eventsDropped.Inc()
}

func (m *Metrics) AddEvicted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.evicted.Add(float64(n))
}

// HTTP returns the request middleware, nil when m is nil.
func (m *Metrics) HTTP() *Middleware {
	if m == nil {
		return nil
	}
	return m.http
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
