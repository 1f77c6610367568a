package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder 基于 Prometheus 的指标记录器，每个实例使用独立的 Registry
type Recorder struct {
	registry       *prometheus.Registry
	cacheHits      *prometheus.CounterVec
	fetches        *prometheus.CounterVec
	coalesced      *prometheus.CounterVec
	staleServed    *prometheus.CounterVec
	refreshLatency *prometheus.HistogramVec
	jobs           *prometheus.CounterVec
	httpLatency    *prometheus.HistogramVec
}

// New 创建指标记录器
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portfolio_cache_hits_total",
				Help: "Reads served from cache inside the TTL window",
			},
			[]string{"kind"},
		),
		fetches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portfolio_upstream_fetches_total",
				Help: "Upstream fetch attempts by outcome",
			},
			[]string{"kind", "result"},
		),
		coalesced: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portfolio_refresh_coalesced_total",
				Help: "Callers that shared an in-flight refresh",
			},
			[]string{"kind"},
		),
		staleServed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portfolio_stale_served_total",
				Help: "Reads answered with stale rows after a failed refresh",
			},
			[]string{"kind"},
		),
		refreshLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "portfolio_refresh_duration_seconds",
				Help:    "Duration of refresh flights",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		jobs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portfolio_batch_jobs_total",
				Help: "Finished batch refresh jobs by final status",
			},
			[]string{"status"},
		),
		httpLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "portfolio_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
	}
}

func (r *Recorder) CacheHit(kind string) {
	r.cacheHits.WithLabelValues(kind).Inc()
}

// FetchResult result 取值 success、error 或错误分类
func (r *Recorder) FetchResult(kind, result string) {
	r.fetches.WithLabelValues(kind, result).Inc()
}

func (r *Recorder) Coalesced(kind string) {
	r.coalesced.WithLabelValues(kind).Inc()
}

func (r *Recorder) StaleServed(kind string) {
	r.staleServed.WithLabelValues(kind).Inc()
}

func (r *Recorder) ObserveRefresh(kind string, d time.Duration) {
	r.refreshLatency.WithLabelValues(kind).Observe(d.Seconds())
}

func (r *Recorder) JobFinished(status string) {
	r.jobs.WithLabelValues(status).Inc()
}

func (r *Recorder) ObserveHTTP(method, route, status string, d time.Duration) {
	r.httpLatency.WithLabelValues(method, route, status).Observe(d.Seconds())
}

// Registry 暴露底层 Registry，测试中用于读取指标
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler 返回 /metrics 处理器
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
