// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CloudMetrics holds all of the metrics needed to properly instrument the
// control plane.
type CloudMetrics struct {
	InstallDurationHist   prometheus.Histogram
	InstallFailuresCount  prometheus.Counter
	APIRequestsCount      prometheus.Counter
	APIEndpointDuration   *prometheus.HistogramVec
	ProcessesRunningGauge prometheus.Gauge
	ProcessRestartsCount  prometheus.Counter
	TunnelsActiveGauge    prometheus.Gauge
	TunnelProbeFailsCount prometheus.Counter
	CacheHitsCount        prometheus.Counter
	CacheMissesCount      prometheus.Counter
	CacheEvictionsCount   prometheus.Counter
	RecoveryAttemptsCount *prometheus.CounterVec
	HealthRestartsCount   prometheus.Counter
}

// New creates a new Prometheus-based Metrics object to be used throughout
// the control plane in order to record various performance metrics.
func New() *CloudMetrics {
	return &CloudMetrics{
		InstallDurationHist: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "pinokio_install_duration_seconds",
			Help:    "The duration of app install tasks",
			Buckets: prometheus.LinearBuckets(0, 30, 20),
		}),
		InstallFailuresCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pinokio_install_failures_total",
			Help: "The number of failed app installs",
		}),
		APIRequestsCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pinokio_api_requests_total",
			Help: "The number of API requests handled",
		}),
		APIEndpointDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pinokio_api_endpoint_duration_seconds",
			Help:    "The duration of API requests per endpoint",
			Buckets: prometheus.DefBuckets,
		}, []string{"handler", "method", "status"}),
		ProcessesRunningGauge: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pinokio_processes_running",
			Help: "The number of live supervised processes",
		}),
		ProcessRestartsCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pinokio_process_restarts_total",
			Help: "The number of supervised process restarts",
		}),
		TunnelsActiveGauge: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pinokio_tunnels_active",
			Help: "The number of active tunnels",
		}),
		TunnelProbeFailsCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pinokio_tunnel_probe_failures_total",
			Help: "The number of failed tunnel health probes",
		}),
		CacheHitsCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pinokio_cache_hits_total",
			Help: "The number of cache hits",
		}),
		CacheMissesCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pinokio_cache_misses_total",
			Help: "The number of cache misses",
		}),
		CacheEvictionsCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pinokio_cache_evictions_total",
			Help: "The number of cache evictions",
		}),
		RecoveryAttemptsCount: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pinokio_recovery_attempts_total",
			Help: "The number of recovery actions attempted",
		}, []string{"pattern", "succeeded"}),
		HealthRestartsCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pinokio_health_restarts_total",
			Help: "The number of restarts requested by the health monitor",
		}),
	}
}

// ObserveAPIEndpointDuration records one API request observation.
func (m *CloudMetrics) ObserveAPIEndpointDuration(handler, method string, statusCode int, elapsedSeconds float64) {
	m.APIEndpointDuration.
		WithLabelValues(handler, method, statusString(statusCode)).
		Observe(elapsedSeconds)
}

// IncrementAPIRequest counts one API request.
func (m *CloudMetrics) IncrementAPIRequest() {
	m.APIRequestsCount.Inc()
}

func statusString(code int) string {
	switch {
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
