package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	queueSize    *prometheus.GaugeVec
	enqueueTotal *prometheus.CounterVec
	dequeueTotal *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec

	turnTotal      *prometheus.CounterVec
	turnDuration   *prometheus.HistogramVec
	turnIterations prometheus.Histogram
	routeTotal     *prometheus.CounterVec
	rollbackTotal  prometheus.Counter

	modelCallTotal   *prometheus.CounterVec
	modelCooldown    *prometheus.GaugeVec
	toolExecTotal    *prometheus.CounterVec
	toolExecDuration *prometheus.HistogramVec

	providerConnected *prometheus.GaugeVec
	providerFailures  *prometheus.CounterVec
	manifestTools     prometheus.Gauge

	jobEventsTotal *prometheus.CounterVec
	jobsScheduled  prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			queueSize: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{Name: "deedee_queue_size", Help: "Pending tasks by lane."},
				[]string{"lane"},
			),
			enqueueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{Name: "deedee_queue_enqueue_total", Help: "Enqueue operations by lane."},
				[]string{"lane"},
			),
			dequeueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{Name: "deedee_queue_dequeue_total", Help: "Completed tasks by lane and status."},
				[]string{"lane", "status"},
			),
			taskDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{Name: "deedee_queue_task_duration_seconds", Help: "Task duration by lane.", Buckets: prometheus.DefBuckets},
				[]string{"lane"},
			),
			turnTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{Name: "deedee_turn_total", Help: "Turns by tier and outcome (completed, stuck, failed)."},
				[]string{"tier", "outcome"},
			),
			turnDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{Name: "deedee_turn_duration_seconds", Help: "Turn duration by tier.", Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300}},
				[]string{"tier"},
			),
			turnIterations: prometheus.NewHistogram(
				prometheus.HistogramOpts{Name: "deedee_turn_tool_iterations", Help: "Tool executions per turn.", Buckets: []float64{0, 1, 2, 3, 5, 8, 10}},
			),
			routeTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{Name: "deedee_route_total", Help: "Routing decisions by tier and whether the classifier failed."},
				[]string{"tier", "fallback"},
			),
			rollbackTotal: prometheus.NewCounter(
				prometheus.CounterOpts{Name: "deedee_turn_rollback_total", Help: "Turns rolled back after a failure."},
			),
			modelCallTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{Name: "deedee_model_call_total", Help: "Model calls by provider and status."},
				[]string{"provider", "status"},
			),
			modelCooldown: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{Name: "deedee_model_profile_cooldown", Help: "Auth profile cooldown (1 active)."},
				[]string{"profile"},
			),
			toolExecTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{Name: "deedee_tool_execution_total", Help: "Tool executions by tool, source and status."},
				[]string{"tool", "source", "status"},
			),
			toolExecDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{Name: "deedee_tool_execution_duration_seconds", Help: "Tool execution duration by source.", Buckets: prometheus.DefBuckets},
				[]string{"source"},
			),
			providerConnected: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{Name: "deedee_provider_connected", Help: "Tool provider connection state (1 connected)."},
				[]string{"provider", "transport"},
			),
			providerFailures: prometheus.NewCounterVec(
				prometheus.CounterOpts{Name: "deedee_provider_failures_total", Help: "Tool provider failures by stage (connect, list, call)."},
				[]string{"provider", "stage"},
			),
			manifestTools: prometheus.NewGauge(
				prometheus.GaugeOpts{Name: "deedee_manifest_tools", Help: "Federated tools in the current manifest."},
			),
			jobEventsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{Name: "deedee_job_events_total", Help: "Scheduler events by action."},
				[]string{"action"},
			),
			jobsScheduled: prometheus.NewGauge(
				prometheus.GaugeOpts{Name: "deedee_jobs_scheduled", Help: "Jobs currently known to the scheduler."},
			),
		}

		prometheus.MustRegister(
			m.queueSize,
			m.enqueueTotal,
			m.dequeueTotal,
			m.taskDuration,
			m.turnTotal,
			m.turnDuration,
			m.turnIterations,
			m.routeTotal,
			m.rollbackTotal,
			m.modelCallTotal,
			m.modelCooldown,
			m.toolExecTotal,
			m.toolExecDuration,
			m.providerConnected,
			m.providerFailures,
			m.manifestTools,
			m.jobEventsTotal,
			m.jobsScheduled,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordQueueEnqueue(lane string, queueSize int) {
	m := getMetrics()
	m.enqueueTotal.WithLabelValues(lane).Inc()
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func RecordQueueCompletion(lane string, duration time.Duration, success bool, queueSize int) {
	m := getMetrics()
	m.dequeueTotal.WithLabelValues(lane, statusLabel(success)).Inc()
	m.taskDuration.WithLabelValues(lane).Observe(duration.Seconds())
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

// RecordTurn records a finished turn. outcome is completed, stuck or failed.
func RecordTurn(tier, outcome string, duration time.Duration, iterations int) {
	m := getMetrics()
	m.turnTotal.WithLabelValues(tier, outcome).Inc()
	m.turnDuration.WithLabelValues(tier).Observe(duration.Seconds())
	m.turnIterations.Observe(float64(iterations))
	if outcome == "failed" {
		m.rollbackTotal.Inc()
	}
}

func RecordRoute(tier string, fallback bool) {
	label := "false"
	if fallback {
		label = "true"
	}
	getMetrics().routeTotal.WithLabelValues(tier, label).Inc()
}

func RecordModelCall(provider string, success bool) {
	getMetrics().modelCallTotal.WithLabelValues(provider, statusLabel(success)).Inc()
}

func SetProfileCooldown(profile string, active bool) {
	value := 0.0
	if active {
		value = 1.0
	}
	getMetrics().modelCooldown.WithLabelValues(profile).Set(value)
}

// RecordToolExecution records one execution. source is builtin or federated.
func RecordToolExecution(tool, source string, duration time.Duration, success bool) {
	m := getMetrics()
	m.toolExecTotal.WithLabelValues(tool, source, statusLabel(success)).Inc()
	m.toolExecDuration.WithLabelValues(source).Observe(duration.Seconds())
}

func SetProviderConnected(provider, transport string, connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	getMetrics().providerConnected.WithLabelValues(provider, transport).Set(value)
}

func RecordProviderFailure(provider, stage string) {
	getMetrics().providerFailures.WithLabelValues(provider, stage).Inc()
}

func SetManifestTools(count int) {
	getMetrics().manifestTools.Set(float64(count))
}

func RecordJobEvent(action string) {
	getMetrics().jobEventsTotal.WithLabelValues(action).Inc()
}

func SetJobsScheduled(count int) {
	getMetrics().jobsScheduled.Set(float64(count))
}
