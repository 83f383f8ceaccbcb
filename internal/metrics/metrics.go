package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Metrics holds all Prometheus metrics for arrsync
type Metrics struct {
	// Deployments
	DeploymentsTotal          *prometheus.CounterVec
	DeploymentDurationSeconds *prometheus.HistogramVec
	DeployItemsTotal          *prometheus.CounterVec
	UndeploysTotal            *prometheus.CounterVec

	// Scheduler
	SchedulerRunsTotal          *prometheus.CounterVec
	SchedulerRunDurationSeconds prometheus.Histogram
	SchedulerLastRunTimestamp   prometheus.Gauge
	TemplatesOutdated           prometheus.Gauge
	TemplatesNeedingAttention   prometheus.Gauge
	CacheRefreshTotal           *prometheus.CounterVec

	// Instances
	InstanceReachable *prometheus.GaugeVec

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec
	APIErrorsTotal            *prometheus.CounterVec

	// System metrics
	UptimeSeconds    prometheus.Gauge
	Goroutines       prometheus.Gauge
	StorageUsedBytes prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		DeploymentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arrsync_deployments_total",
				Help: "Total number of finished deployments",
			},
			[]string{"status", "trigger"},
		),
		DeploymentDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "arrsync_deployment_duration_seconds",
				Help:    "Deployment duration in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"trigger"},
		),
		DeployItemsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arrsync_deploy_items_total",
				Help: "Total number of deployment items by action and outcome",
			},
			[]string{"action", "result"},
		),
		UndeploysTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arrsync_undeploys_total",
				Help: "Total number of undeployed history entries",
			},
			[]string{"result"},
		),

		SchedulerRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arrsync_scheduler_runs_total",
				Help: "Total number of scheduler runs",
			},
			[]string{"trigger"},
		),
		SchedulerRunDurationSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "arrsync_scheduler_run_duration_seconds",
				Help:    "Scheduler run duration in seconds",
				Buckets: []float64{.5, 1, 5, 10, 30, 60, 120, 300, 600},
			},
		),
		SchedulerLastRunTimestamp: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "arrsync_scheduler_last_run_timestamp_seconds",
				Help: "Unix time of the last finished scheduler run",
			},
		),
		TemplatesOutdated: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "arrsync_templates_outdated",
				Help: "Upstream templates behind the latest upstream commit at the last run",
			},
		),
		TemplatesNeedingAttention: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "arrsync_templates_needing_attention",
				Help: "Outdated templates with notify mappings at the last run",
			},
		),
		CacheRefreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arrsync_cache_refresh_total",
				Help: "Total number of upstream catalog refreshes",
			},
			[]string{"result"},
		),

		InstanceReachable: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "arrsync_instance_reachable",
				Help: "Whether the instance answered its last status probe (1) or not (0)",
			},
			[]string{"instance"},
		),

		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arrsync_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "arrsync_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		APIErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arrsync_api_errors_total",
				Help: "Total number of API errors",
			},
			[]string{"error_type"},
		),

		UptimeSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "arrsync_uptime_seconds",
				Help: "Server uptime in seconds",
			},
		),
		Goroutines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "arrsync_goroutines",
				Help: "Number of active goroutines",
			},
		),
		StorageUsedBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "arrsync_storage_used_bytes",
				Help: "Database file size in bytes",
			},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.DeploymentsTotal,
		m.DeploymentDurationSeconds,
		m.DeployItemsTotal,
		m.UndeploysTotal,
		m.SchedulerRunsTotal,
		m.SchedulerRunDurationSeconds,
		m.SchedulerLastRunTimestamp,
		m.TemplatesOutdated,
		m.TemplatesNeedingAttention,
		m.CacheRefreshTotal,
		m.InstanceReachable,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		m.APIErrorsTotal,
		m.UptimeSeconds,
		m.Goroutines,
		m.StorageUsedBytes,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetGlobal sets the global metrics instance
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// ObserveSchedulerRun records a finished scheduler run
func ObserveSchedulerRun(trigger string, seconds float64, finishedUnix float64, outdated, attention int) {
	m := Global()
	if m != nil {
		m.SchedulerRunsTotal.WithLabelValues(trigger).Inc()
		m.SchedulerRunDurationSeconds.Observe(seconds)
		m.SchedulerLastRunTimestamp.Set(finishedUnix)
		m.TemplatesOutdated.Set(float64(outdated))
		m.TemplatesNeedingAttention.Set(float64(attention))
	}
}

// IncCacheRefresh counts a catalog refresh by outcome
func IncCacheRefresh(ok bool) {
	m := Global()
	if m != nil {
		result := "ok"
		if !ok {
			result = "failed"
		}
		m.CacheRefreshTotal.WithLabelValues(result).Inc()
	}
}
