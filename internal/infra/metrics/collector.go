// Package metrics holds the Prometheus collectors of the service.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector groups every metric the service exports. A nil *Collector is
// valid and records nothing.
type Collector struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpInFlight        prometheus.Gauge

	downloadsTotal    *prometheus.CounterVec
	downloadDuration  prometheus.Histogram
	analysesTotal     *prometheus.CounterVec
	inferencePolls    prometheus.Histogram
	modelFallbacks    *prometheus.CounterVec
	cacheLookups      *prometheus.CounterVec
	localFilesRemoved *prometheus.CounterVec
}

// NewCollector registers the collectors on reg under namespace.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		httpRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		httpRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.05, 0.25, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"method", "path"}),
		httpInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "HTTP requests currently being served",
		}),
		downloadsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_total",
			Help:      "Media downloads by outcome",
		}, []string{"outcome"}),
		downloadDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "download_duration_seconds",
			Help:      "Time spent in the extraction tool",
			Buckets:   []float64{1, 2, 5, 10, 20, 40, 80, 160},
		}),
		analysesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyses_total",
			Help:      "Analyze requests by source and outcome",
		}, []string{"source", "outcome"}),
		inferencePolls: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_poll_attempts",
			Help:      "Poll attempts spent waiting for remote file processing",
			Buckets:   prometheus.LinearBuckets(0, 1, 11),
		}),
		modelFallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_fallbacks_total",
			Help:      "Models skipped because the service did not know them",
		}, []string{"model"}),
		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Result cache lookups by outcome",
		}, []string{"outcome"}),
		localFilesRemoved: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "local_files_removed_total",
			Help:      "Temporary media files removed, by outcome",
		}, []string{"outcome"}),
	}
}

func (c *Collector) RecordHTTPRequest(method, path string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

func (c *Collector) InFlightInc() {
	if c != nil {
		c.httpInFlight.Inc()
	}
}

func (c *Collector) InFlightDec() {
	if c != nil {
		c.httpInFlight.Dec()
	}
}

func (c *Collector) RecordDownload(outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.downloadsTotal.WithLabelValues(outcome).Inc()
	c.downloadDuration.Observe(d.Seconds())
}

func (c *Collector) RecordAnalysis(source, outcome string) {
	if c != nil {
		c.analysesTotal.WithLabelValues(source, outcome).Inc()
	}
}

func (c *Collector) RecordPollAttempts(n int) {
	if c != nil {
		c.inferencePolls.Observe(float64(n))
	}
}

func (c *Collector) RecordModelFallback(model string) {
	if c != nil {
		c.modelFallbacks.WithLabelValues(model).Inc()
	}
}

func (c *Collector) RecordCacheLookup(hit bool) {
	if c == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	c.cacheLookups.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordLocalFileRemoval(err error) {
	if c == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.localFilesRemoved.WithLabelValues(outcome).Inc()
}
