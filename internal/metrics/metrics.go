package metrics

import (
	"net/http"
	"strconv"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "greenlight"

// Metrics holds the service collectors on a private registry. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry *prom.Registry

	llmRequests      *prom.CounterVec
	pipelineRuns     *prom.CounterVec
	pipelineDuration prom.Histogram
	chunksAnalyzed   prom.Counter
	patchesApplied   prom.Counter
	httpRequests     *prom.CounterVec
	signups          prom.Counter
}

func New() *Metrics {
	reg := prom.NewRegistry()
	m := &Metrics{
		registry: reg,
		llmRequests: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Completion requests by pipeline stage and outcome.",
		}, []string{"stage", "outcome"}),
		pipelineRuns: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Pipeline runs by time range and result.",
		}, []string{"time_range", "result"}),
		pipelineDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "Wall time of a full pipeline run.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		chunksAnalyzed: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_analyzed_total",
			Help:      "Chunks analyzed successfully.",
		}),
		patchesApplied: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "recency_patches_applied_total",
			Help:      "Comparable-title replacements applied by the recency validator.",
		}),
		httpRequests: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		signups: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "email_signups_total",
			Help:      "New newsletter signups stored.",
		}),
	}
	reg.MustRegister(
		m.llmRequests,
		m.pipelineRuns,
		m.pipelineDuration,
		m.chunksAnalyzed,
		m.patchesApplied,
		m.httpRequests,
		m.signups,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prom.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics disabled", http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) LLMRequest(stage, outcome string) {
	if m == nil {
		return
	}
	m.llmRequests.WithLabelValues(stage, outcome).Inc()
}

func (m *Metrics) PipelineRun(timeRange, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.pipelineRuns.WithLabelValues(timeRange, result).Inc()
	m.pipelineDuration.Observe(d.Seconds())
}

func (m *Metrics) ChunkAnalyzed() {
	if m == nil {
		return
	}
	m.chunksAnalyzed.Inc()
}

func (m *Metrics) PatchesApplied(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.patchesApplied.Add(float64(n))
}

func (m *Metrics) HTTPRequest(route string, code int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

func (m *Metrics) Signup() {
	if m == nil {
		return
	}
	m.signups.Inc()
}
