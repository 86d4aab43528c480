// Package metrics defines the Prometheus metrics exported by qpackt:
// dispatcher-facing request metrics, write-pipeline health, and
// certificate-lifecycle gauges. Helpers below encapsulate label
// normalization and consistent observation patterns.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Dispatcher metrics (low-cardinality)
var (
	// dispatchRequestsTotal counts dispatched requests by method, status
	// and the version that served them.
	dispatchRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qpackt_dispatch_requests_total",
			Help: "Total dispatched requests by method, status and version",
		},
		[]string{"method", "status", "version"},
	)
	// dispatchDuration captures end-to-end dispatch latency, from
	// request arrival until the upstream response body has been streamed
	// back to the client.
	dispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "qpackt_dispatch_duration_seconds",
			Help:    "End-to-end dispatch duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
	// versionsPickedTotal counts how often each version is selected by
	// the strategy policy (requests without a cookie naming a live
	// version).
	versionsPickedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qpackt_versions_picked_total",
			Help: "Total times a version was selected by the strategy policy",
		},
		[]string{"version"},
	)
)

// Write-pipeline metrics
var (
	writePipelineDropsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qpackt_write_pipeline_drops_total",
			Help: "Total records dropped because the write-pipeline channel stayed full past the enqueue timeout",
		},
		[]string{"kind"},
	)
	writePipelineFlushSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "qpackt_write_pipeline_flush_size",
			Help:    "Number of records written per flush",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128, 256, 512, 1024},
		},
		[]string{"kind"},
	)
	writePipelineQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "qpackt_write_pipeline_queue_depth",
			Help: "Current depth of the write-pipeline channel",
		},
		[]string{"kind"},
	)
)

// Certificate-lifecycle metrics
var (
	certDaysUntilExpiry = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "qpackt_cert_days_until_expiry",
			Help: "Days remaining until the current TLS certificate expires",
		},
	)
	certRenewalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qpackt_cert_renewals_total",
			Help: "Total certificate renewal attempts by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		dispatchRequestsTotal,
		dispatchDuration,
		versionsPickedTotal,
		writePipelineDropsTotal,
		writePipelineFlushSize,
		writePipelineQueueDepth,
		certDaysUntilExpiry,
		certRenewalsTotal,
	)
}

// ObserveDispatch records a completed dispatch: the HTTP method, response
// status, version that served it (empty for reverse-proxy rule matches),
// and the time spent serving it.
func ObserveDispatch(method string, status int, version string, dur time.Duration) {
	if version == "" {
		version = "none"
	}
	dispatchRequestsTotal.WithLabelValues(method, strconv.Itoa(status), version).Inc()
	dispatchDuration.WithLabelValues(method).Observe(dur.Seconds())
}

// VersionPickedInc increments the pick counter for a version chosen by the
// strategy policy.
func VersionPickedInc(version string) { versionsPickedTotal.WithLabelValues(version).Inc() }

// WritePipelineDropsInc increments the drop counter for a write-pipeline
// kind ("request_log" or "event").
func WritePipelineDropsInc(kind string) { writePipelineDropsTotal.WithLabelValues(kind).Inc() }

// WritePipelineFlushSizeObserve records how many records a single flush
// wrote for the given pipeline kind.
func WritePipelineFlushSizeObserve(kind string, size int) {
	writePipelineFlushSize.WithLabelValues(kind).Observe(float64(size))
}

// WritePipelineQueueDepthSet reports the current channel depth for a
// pipeline kind, sampled by the batch actor after each batch is drained.
func WritePipelineQueueDepthSet(kind string, depth int) {
	writePipelineQueueDepth.WithLabelValues(kind).Set(float64(depth))
}

// CertDaysUntilExpirySet reports days remaining on the live certificate.
func CertDaysUntilExpirySet(days float64) { certDaysUntilExpiry.Set(days) }

// CertRenewalsInc increments the renewal-attempt counter for an outcome
// ("success" or "failure").
func CertRenewalsInc(outcome string) { certRenewalsTotal.WithLabelValues(outcome).Inc() }
