package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for OpenConform.
type Metrics struct {
	config MetricsConfig

	// Compliance metrics
	complianceRuns   *prometheus.CounterVec
	diffDuration     *prometheus.HistogramVec
	driftDetections  *prometheus.CounterVec

	// Remediation metrics
	remediationRuns     *prometheus.CounterVec
	remediationCommands *prometheus.CounterVec

	// Plan metrics
	plansBuilt    *prometheus.CounterVec
	planEntries   *prometheus.HistogramVec

	// Deployment metrics
	deploysStarted   *prometheus.CounterVec
	deploysCompleted *prometheus.CounterVec
	deployDuration   *prometheus.HistogramVec
	jobsCompleted    *prometheus.CounterVec
	jobDuration      *prometheus.HistogramVec
	jobRetries       *prometheus.CounterVec

	// Driver metrics
	driverCalls    *prometheus.CounterVec
	driverDuration *prometheus.HistogramVec
	driverErrors   *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	// Inventory metrics
	devicesManaged *prometheus.GaugeVec

	// System metrics
	activeDeploys prometheus.Gauge
	activeWorkers prometheus.Gauge
	queuedJobs    prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	// Create a new registry
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		// Compliance metrics
		complianceRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "compliance_runs_total",
				Help:      "Total number of compliance diff runs by feature and resulting state",
			},
			[]string{"feature", "state"},
		),
		diffDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "diff_duration_seconds",
				Help:      "Duration of compliance diff computation in seconds",
				Buckets:   buckets,
			},
			[]string{"strategy"},
		),
		driftDetections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "drift_detections_total",
				Help:      "Total number of non-compliant diffs detected",
			},
			[]string{"feature", "platform"},
		),

		// Remediation metrics
		remediationRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remediation_runs_total",
				Help:      "Total number of remediation generations by outcome",
			},
			[]string{"platform", "status"},
		),
		remediationCommands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remediation_commands_generated_total",
				Help:      "Total number of remediation commands generated",
			},
			[]string{"platform"},
		),

		// Plan metrics
		plansBuilt: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plans_built_total",
				Help:      "Total number of config plans built by plan type",
			},
			[]string{"plan_type"},
		),
		planEntries: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "plan_entries",
				Help:      "Number of device entries per built plan",
				Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
			},
			[]string{"plan_type"},
		),

		// Deployment metrics
		deploysStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deploys_started_total",
				Help:      "Total number of plan deployments started",
			},
			[]string{"user"},
		),
		deploysCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deploys_completed_total",
				Help:      "Total number of plan deployments completed by outcome",
			},
			[]string{"outcome"},
		),
		deployDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "deploy_duration_seconds",
				Help:      "Duration of plan deployments in seconds",
				Buckets:   buckets,
			},
			[]string{"outcome"},
		),
		jobsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deployment_jobs_total",
				Help:      "Total number of per-device deployment jobs by terminal status",
			},
			[]string{"status"},
		),
		jobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "deployment_job_duration_seconds",
				Help:      "Duration of per-device deployment jobs in seconds",
				Buckets:   buckets,
			},
			[]string{"status", "platform"},
		),
		jobRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deployment_job_retries_total",
				Help:      "Total number of deployment job retry attempts",
			},
			[]string{"platform"},
		),

		// Driver metrics
		driverCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "driver_calls_total",
				Help:      "Total number of device driver calls",
			},
			[]string{"platform", "operation"},
		),
		driverDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "driver_call_duration_seconds",
				Help:      "Duration of device driver calls in seconds",
				Buckets:   buckets,
			},
			[]string{"platform", "operation"},
		),
		driverErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "driver_errors_total",
				Help:      "Total number of device driver errors",
			},
			[]string{"platform", "operation"},
		),

		// Error metrics
		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),

		// Inventory metrics
		devicesManaged: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "devices_managed",
				Help:      "Current number of devices in the inventory",
			},
			[]string{"platform", "status"},
		),

		// System metrics
		activeDeploys: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_deploys",
				Help:      "Current number of active plan deployments",
			},
		),
		activeWorkers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_deploy_workers",
				Help:      "Current number of busy deployment workers",
			},
		),
		queuedJobs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queued_deployment_jobs",
				Help:      "Current number of deployment jobs waiting for a worker",
			},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.complianceRuns,
		m.diffDuration,
		m.driftDetections,
		m.remediationRuns,
		m.remediationCommands,
		m.plansBuilt,
		m.planEntries,
		m.deploysStarted,
		m.deploysCompleted,
		m.deployDuration,
		m.jobsCompleted,
		m.jobDuration,
		m.jobRetries,
		m.driverCalls,
		m.driverDuration,
		m.driverErrors,
		m.errorsByClass,
		m.errorsByCode,
		m.devicesManaged,
		m.activeDeploys,
		m.activeWorkers,
		m.queuedJobs,
	)

	return m, nil
}

// Compliance Metrics

// RecordComplianceRun records a completed compliance diff with its state
// (compliant, non_compliant, missing) and duration.
func (m *Metrics) RecordComplianceRun(feature, state, strategy string, duration time.Duration) {
	if m.complianceRuns == nil {
		return
	}
	m.complianceRuns.WithLabelValues(feature, state).Inc()
	m.diffDuration.WithLabelValues(strategy).Observe(duration.Seconds())
}

// RecordDriftDetected records a non-compliant diff.
func (m *Metrics) RecordDriftDetected(feature, platform string) {
	if m.driftDetections == nil {
		return
	}
	m.driftDetections.WithLabelValues(feature, platform).Inc()
}

// Remediation Metrics

// RecordRemediation records a remediation generation and the number of
// commands it produced.
func (m *Metrics) RecordRemediation(platform, status string, commandCount int) {
	if m.remediationRuns == nil {
		return
	}
	m.remediationRuns.WithLabelValues(platform, status).Inc()
	if commandCount > 0 {
		m.remediationCommands.WithLabelValues(platform).Add(float64(commandCount))
	}
}

// Plan Metrics

// RecordPlanBuilt records a built config plan and its entry count.
func (m *Metrics) RecordPlanBuilt(planType string, entryCount int) {
	if m.plansBuilt == nil {
		return
	}
	m.plansBuilt.WithLabelValues(planType).Inc()
	m.planEntries.WithLabelValues(planType).Observe(float64(entryCount))
}

// Deployment Metrics

// RecordDeployStarted increments the counter for started deployments.
func (m *Metrics) RecordDeployStarted(user string) {
	if m.deploysStarted == nil {
		return
	}
	m.deploysStarted.WithLabelValues(user).Inc()
	m.activeDeploys.Inc()
}

// RecordDeployCompleted records a completed deployment with its outcome
// (succeeded, partial, failed, cancelled) and duration.
func (m *Metrics) RecordDeployCompleted(outcome string, duration time.Duration) {
	if m.deploysCompleted == nil {
		return
	}
	m.deploysCompleted.WithLabelValues(outcome).Inc()
	m.deployDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	m.activeDeploys.Dec()
}

// RecordJobCompleted records a per-device job reaching a terminal status.
func (m *Metrics) RecordJobCompleted(status, platform string, duration time.Duration) {
	if m.jobsCompleted == nil {
		return
	}
	m.jobsCompleted.WithLabelValues(status).Inc()
	m.jobDuration.WithLabelValues(status, platform).Observe(duration.Seconds())
}

// RecordJobRetry records a retry attempt for a per-device job.
func (m *Metrics) RecordJobRetry(platform string) {
	if m.jobRetries == nil {
		return
	}
	m.jobRetries.WithLabelValues(platform).Inc()
}

// Driver Metrics

// RecordDriverCall records a device driver call with its duration.
func (m *Metrics) RecordDriverCall(platform, operation string, duration time.Duration) {
	if m.driverCalls == nil {
		return
	}
	m.driverCalls.WithLabelValues(platform, operation).Inc()
	m.driverDuration.WithLabelValues(platform, operation).Observe(duration.Seconds())
}

// RecordDriverError records a device driver error.
func (m *Metrics) RecordDriverError(platform, operation string) {
	if m.driverErrors == nil {
		return
	}
	m.driverErrors.WithLabelValues(platform, operation).Inc()
}

// Error Metrics

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" && m.errorsByCode != nil {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// Inventory Metrics

// SetDeviceCount sets the current count of inventoried devices.
func (m *Metrics) SetDeviceCount(platform, status string, count float64) {
	if m.devicesManaged == nil {
		return
	}
	m.devicesManaged.WithLabelValues(platform, status).Set(count)
}

// System Metrics

// SetActiveWorkers sets the current number of busy deployment workers.
func (m *Metrics) SetActiveWorkers(count float64) {
	if m.activeWorkers == nil {
		return
	}
	m.activeWorkers.Set(count)
}

// SetQueuedJobs sets the current number of queued deployment jobs.
func (m *Metrics) SetQueuedJobs(count float64) {
	if m.queuedJobs == nil {
		return
	}
	m.queuedJobs.Set(count)
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Log error but don't fail the application
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
