package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "balatrollm"

type moduleMetrics struct {
	tasksTotal   *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec
	queueDepth   prometheus.Gauge
	activeTasks  prometheus.Gauge

	poolInstances      *prometheus.GaugeVec
	poolResetFailures  prometheus.Counter
	poolAcquireLatency prometheus.Histogram

	decisionAttempts *prometheus.CounterVec
	decisionDuration *prometheus.HistogramVec
	decisionTokens   *prometheus.CounterVec

	sessionFailures *prometheus.CounterVec
	sessionSteps    prometheus.Counter
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			tasksTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "tasks_total",
					Help:      "Finished tasks by outcome.",
				},
				[]string{"outcome"},
			),
			taskDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "task_duration_seconds",
					Help:      "Task wall time in seconds by outcome.",
					Buckets:   []float64{1, 10, 30, 60, 300, 900, 1800, 3600, 7200},
				},
				[]string{"outcome"},
			),
			queueDepth: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "queue_depth",
					Help:      "Tasks waiting to be dequeued.",
				},
			),
			activeTasks: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "active_tasks",
					Help:      "Tasks currently running.",
				},
			),
			poolInstances: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "pool_instances",
					Help:      "Pooled game instances by status.",
				},
				[]string{"status"},
			),
			poolResetFailures: prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "pool_reset_failures_total",
					Help:      "Instance resets that failed during release.",
				},
			),
			poolAcquireLatency: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "pool_acquire_seconds",
					Help:      "Time spent waiting for an idle instance.",
					Buckets:   prometheus.DefBuckets,
				},
			),
			decisionAttempts: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "decision_attempts_total",
					Help:      "Decision endpoint attempts by provider and result.",
				},
				[]string{"provider", "result"},
			),
			decisionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "decision_duration_seconds",
					Help:      "Decision endpoint attempt latency by provider.",
					Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 240},
				},
				[]string{"provider"},
			),
			decisionTokens: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "decision_tokens_total",
					Help:      "Tokens consumed by direction.",
				},
				[]string{"direction"},
			),
			sessionFailures: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "session_failures_total",
					Help:      "Session step failures by kind.",
				},
				[]string{"kind"},
			),
			sessionSteps: prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "session_steps_total",
					Help:      "Session steps executed.",
				},
			),
		}

		prometheus.MustRegister(
			m.tasksTotal,
			m.taskDuration,
			m.queueDepth,
			m.activeTasks,
			m.poolInstances,
			m.poolResetFailures,
			m.poolAcquireLatency,
			m.decisionAttempts,
			m.decisionDuration,
			m.decisionTokens,
			m.sessionFailures,
			m.sessionSteps,
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

func RecordTask(outcome string, duration time.Duration) {
	m := getMetrics()
	m.tasksTotal.WithLabelValues(outcome).Inc()
	m.taskDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func SetQueueDepth(depth int) {
	getMetrics().queueDepth.Set(float64(depth))
}

func SetActiveTasks(count int) {
	getMetrics().activeTasks.Set(float64(count))
}

func SetPoolInstances(idle, acquired, resetting int) {
	m := getMetrics()
	m.poolInstances.WithLabelValues("idle").Set(float64(idle))
	m.poolInstances.WithLabelValues("acquired").Set(float64(acquired))
	m.poolInstances.WithLabelValues("resetting").Set(float64(resetting))
}

func RecordPoolResetFailure() {
	getMetrics().poolResetFailures.Inc()
}

func RecordPoolAcquire(wait time.Duration) {
	getMetrics().poolAcquireLatency.Observe(wait.Seconds())
}

func RecordDecisionAttempt(provider, result string, duration time.Duration) {
	m := getMetrics()
	m.decisionAttempts.WithLabelValues(provider, result).Inc()
	m.decisionDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func RecordTokens(in, out int) {
	m := getMetrics()
	m.decisionTokens.WithLabelValues("in").Add(float64(in))
	m.decisionTokens.WithLabelValues("out").Add(float64(out))
}

func RecordSessionFailure(kind string) {
	getMetrics().sessionFailures.WithLabelValues(kind).Inc()
}

func RecordSessionStep() {
	getMetrics().sessionSteps.Inc()
}
