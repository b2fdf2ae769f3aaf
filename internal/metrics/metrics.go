// Package metrics exposes the gateway's Prometheus instrumentation:
// per-driver operation counters, governor throughput, search latency, and
// scan duration.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector bundles all gateway metrics behind one registerable type, the
// way a registerer-scoped collector wraps its registry.
type Collector struct {
	DriverOps       *prometheus.CounterVec
	DriverOpLatency *prometheus.HistogramVec
	DriverOpErrors  *prometheus.CounterVec

	GovernorBytesOut     prometheus.Counter
	GovernorRejections   prometheus.Counter
	GovernorActiveDownloads prometheus.Gauge

	SearchQueryLatency prometheus.Histogram
	SearchQueryErrors  prometheus.Counter

	ScanDuration  *prometheus.HistogramVec
	ScanFilesSeen *prometheus.CounterVec
}

// NewCollector constructs and registers all metrics against reg. Pass
// prometheus.NewRegistry() in tests to avoid colliding with the default
// global registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		DriverOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "driver",
			Name:      "operations_total",
			Help:      "Count of driver operations by driver name and operation.",
		}, []string{"driver", "operation"}),

		DriverOpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gateway",
			Subsystem: "driver",
			Name:      "operation_duration_seconds",
			Help:      "Driver operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"driver", "operation"}),

		DriverOpErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "driver",
			Name:      "operation_errors_total",
			Help:      "Count of driver operation failures by driver, operation, and error code.",
		}, []string{"driver", "operation", "code"}),

		GovernorBytesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "governor",
			Name:      "bytes_out_total",
			Help:      "Total bytes served through the traffic governor.",
		}),

		GovernorRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "governor",
			Name:      "rejections_total",
			Help:      "Downloads rejected by the concurrency gate or domain policy.",
		}),

		GovernorActiveDownloads: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gateway",
			Subsystem: "governor",
			Name:      "active_downloads",
			Help:      "Currently held concurrency-gate slots.",
		}),

		SearchQueryLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gateway",
			Subsystem: "search",
			Name:      "query_duration_seconds",
			Help:      "Search query latency.",
			Buckets:   prometheus.DefBuckets,
		}),

		SearchQueryErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "search",
			Name:      "query_errors_total",
			Help:      "Search query failures.",
		}),

		ScanDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gateway",
			Subsystem: "scanner",
			Name:      "scan_duration_seconds",
			Help:      "Full tree scan duration by driver.",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 3600},
		}, []string{"driver"}),

		ScanFilesSeen: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "scanner",
			Name:      "files_seen_total",
			Help:      "Files observed during scans by driver.",
		}, []string{"driver"}),
	}

	reg.MustRegister(
		c.DriverOps, c.DriverOpLatency, c.DriverOpErrors,
		c.GovernorBytesOut, c.GovernorRejections, c.GovernorActiveDownloads,
		c.SearchQueryLatency, c.SearchQueryErrors,
		c.ScanDuration, c.ScanFilesSeen,
	)
	return c
}

// ObserveDriverOp records one driver operation's outcome and latency.
func (c *Collector) ObserveDriverOp(driverName, operation string, start time.Time, errCode string) {
	c.DriverOps.WithLabelValues(driverName, operation).Inc()
	c.DriverOpLatency.WithLabelValues(driverName, operation).Observe(time.Since(start).Seconds())
	if errCode != "" {
		c.DriverOpErrors.WithLabelValues(driverName, operation, errCode).Inc()
	}
}

// ObserveScan records one completed scan's duration and file count.
func (c *Collector) ObserveScan(driverName string, duration time.Duration, filesSeen int) {
	c.ScanDuration.WithLabelValues(driverName).Observe(duration.Seconds())
	c.ScanFilesSeen.WithLabelValues(driverName).Add(float64(filesSeen))
}
