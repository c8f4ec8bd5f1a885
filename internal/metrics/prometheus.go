package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// PrometheusSink implements Sink using Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	logger *zap.Logger

	// Dispatcher metrics
	pollsTotal         prometheus.Counter
	pollErrorsTotal    prometheus.Counter
	tasksEnqueuedTotal prometheus.Counter
	pollDuration       prometheus.Histogram
	pollDrift          prometheus.Histogram

	// Worker metrics
	attemptsTotal   *prometheus.CounterVec
	outcomesTotal   *prometheus.CounterVec
	attemptDuration prometheus.Histogram
	tasksInFlight   prometheus.Gauge
	fireLatency     prometheus.Histogram

	// Extraction metrics
	fetchesTotal  *prometheus.CounterVec
	fetchDuration prometheus.Histogram

	// Notifier metrics
	wakeupsDroppedTotal prometheus.Counter

	// Supervisor metrics
	requeuedTotal     prometheus.Counter
	deadLetteredTotal prometheus.Counter
	queueDepth        prometheus.Gauge
	deadLetters       prometheus.Gauge

	// Leader election metrics
	isLeader            prometheus.Gauge
	leaderAcquiredTotal prometheus.Counter
	leaderLostTotal     *prometheus.CounterVec
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink;
// the unregistered collectors still accept updates but are never exported.
func NewPrometheusSink(reg prometheus.Registerer, logger *zap.Logger) *PrometheusSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &PrometheusSink{logger: logger}
	s.initDispatcherMetrics(reg)
	s.initWorkerMetrics(reg)
	s.initExtractMetrics(reg)
	s.initSupervisorMetrics(reg)
	s.initLeaderMetrics(reg)
	return s
}

func (s *PrometheusSink) initDispatcherMetrics(reg prometheus.Registerer) {
	s.pollsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scrapesched_dispatcher_polls_total",
		Help: "Total number of dispatcher polls processed.",
	})
	s.pollErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scrapesched_dispatcher_poll_errors_total",
		Help: "Total number of dispatcher polls that hit an error.",
	})
	s.tasksEnqueuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scrapesched_dispatcher_tasks_enqueued_total",
		Help: "Total number of tasks newly inserted by the dispatcher.",
	})
	s.pollDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "scrapesched_dispatcher_poll_duration_seconds",
		Help:    "Duration of each dispatcher poll in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	})
	s.pollDrift = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "scrapesched_dispatcher_poll_drift_seconds",
		Help:    "Difference between actual poll time and expected interval in seconds.",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})

	s.register(reg, s.pollsTotal, "scrapesched_dispatcher_polls_total")
	s.register(reg, s.pollErrorsTotal, "scrapesched_dispatcher_poll_errors_total")
	s.register(reg, s.tasksEnqueuedTotal, "scrapesched_dispatcher_tasks_enqueued_total")
	s.register(reg, s.pollDuration, "scrapesched_dispatcher_poll_duration_seconds")
	s.register(reg, s.pollDrift, "scrapesched_dispatcher_poll_drift_seconds")
}

func (s *PrometheusSink) initWorkerMetrics(reg prometheus.Registerer) {
	s.attemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scrapesched_worker_attempts_total",
		Help: "Total number of extraction attempts by result.",
	}, []string{"result"})

	s.outcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scrapesched_worker_task_outcomes_total",
		Help: "Total number of task outcomes as seen by workers.",
	}, []string{"outcome"})

	s.attemptDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "scrapesched_worker_attempt_duration_seconds",
		Help:    "Extraction attempt latency in seconds.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	s.tasksInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scrapesched_worker_tasks_in_flight",
		Help: "Number of tasks currently being extracted.",
	})

	s.fireLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "scrapesched_worker_fire_latency_seconds",
		Help:    "Time between a task's scheduled fire time and its completion.",
		Buckets: []float64{1, 5, 10, 30, 60, 300, 900, 3600},
	})

	s.register(reg, s.attemptsTotal, "scrapesched_worker_attempts_total")
	s.register(reg, s.outcomesTotal, "scrapesched_worker_task_outcomes_total")
	s.register(reg, s.attemptDuration, "scrapesched_worker_attempt_duration_seconds")
	s.register(reg, s.tasksInFlight, "scrapesched_worker_tasks_in_flight")
	s.register(reg, s.fireLatency, "scrapesched_worker_fire_latency_seconds")
}

func (s *PrometheusSink) initExtractMetrics(reg prometheus.Registerer) {
	s.fetchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scrapesched_extract_fetches_total",
		Help: "Total number of page fetches by status class.",
	}, []string{"status_class"})

	s.fetchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "scrapesched_extract_fetch_duration_seconds",
		Help:    "Page fetch latency in seconds.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	s.wakeupsDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scrapesched_notifier_wakeups_dropped_total",
		Help: "Total number of worker wake-ups dropped because one was already pending.",
	})

	s.register(reg, s.fetchesTotal, "scrapesched_extract_fetches_total")
	s.register(reg, s.fetchDuration, "scrapesched_extract_fetch_duration_seconds")
	s.register(reg, s.wakeupsDroppedTotal, "scrapesched_notifier_wakeups_dropped_total")
}

func (s *PrometheusSink) initSupervisorMetrics(reg prometheus.Registerer) {
	s.requeuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scrapesched_supervisor_requeued_total",
		Help: "Total number of tasks returned to pending by the requeue sweep.",
	})
	s.deadLetteredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scrapesched_supervisor_dead_lettered_total",
		Help: "Total number of tasks moved to dead_lettered.",
	})
	s.queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scrapesched_queue_depth",
		Help: "Number of pending and leased tasks.",
	})
	s.deadLetters = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scrapesched_queue_dead_letters",
		Help: "Number of dead-lettered tasks.",
	})

	s.register(reg, s.requeuedTotal, "scrapesched_supervisor_requeued_total")
	s.register(reg, s.deadLetteredTotal, "scrapesched_supervisor_dead_lettered_total")
	s.register(reg, s.queueDepth, "scrapesched_queue_depth")
	s.register(reg, s.deadLetters, "scrapesched_queue_dead_letters")
}

func (s *PrometheusSink) initLeaderMetrics(reg prometheus.Registerer) {
	s.isLeader = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scrapesched_leader_is_leader",
		Help: "1 while this instance holds the leader lock, 0 otherwise.",
	})
	s.leaderAcquiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scrapesched_leader_acquired_total",
		Help: "Total number of times leadership was acquired.",
	})
	s.leaderLostTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scrapesched_leader_lost_total",
		Help: "Total number of times leadership was lost, by reason.",
	}, []string{"reason"})

	s.register(reg, s.isLeader, "scrapesched_leader_is_leader")
	s.register(reg, s.leaderAcquiredTotal, "scrapesched_leader_acquired_total")
	s.register(reg, s.leaderLostTotal, "scrapesched_leader_lost_total")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		s.logger.Warn("metrics: failed to register collector", zap.String("name", name), zap.Error(err))
	}
}

// Dispatcher metrics implementation

func (s *PrometheusSink) PollStarted() {
	s.pollsTotal.Inc()
}

func (s *PrometheusSink) PollCompleted(duration time.Duration, tasksEnqueued int, err error) {
	s.pollDuration.Observe(duration.Seconds())
	s.tasksEnqueuedTotal.Add(float64(tasksEnqueued))
	if err != nil {
		s.pollErrorsTotal.Inc()
	}
}

func (s *PrometheusSink) PollDrift(drift time.Duration) {
	d := drift.Seconds()
	if d < 0 {
		d = -d
	}
	s.pollDrift.Observe(d)
}

// Worker metrics implementation

func (s *PrometheusSink) AttemptCompleted(result string, duration time.Duration) {
	s.attemptsTotal.WithLabelValues(result).Inc()
	s.attemptDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) TaskOutcome(outcome string) {
	s.outcomesTotal.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) TasksInFlightIncr() {
	s.tasksInFlight.Inc()
}

func (s *PrometheusSink) TasksInFlightDecr() {
	s.tasksInFlight.Dec()
}

func (s *PrometheusSink) FireLatencyObserve(latencySeconds float64) {
	s.fireLatency.Observe(latencySeconds)
}

// Extraction metrics implementation

func (s *PrometheusSink) FetchCompleted(statusClass string, duration time.Duration) {
	s.fetchesTotal.WithLabelValues(statusClass).Inc()
	s.fetchDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) WakeupDropped() {
	s.wakeupsDroppedTotal.Inc()
}

// Supervisor metrics implementation

func (s *PrometheusSink) RequeueCompleted(requeued, deadLettered int) {
	s.requeuedTotal.Add(float64(requeued))
	s.deadLetteredTotal.Add(float64(deadLettered))
}

func (s *PrometheusSink) QueueDepthUpdate(depth int) {
	s.queueDepth.Set(float64(depth))
}

func (s *PrometheusSink) DeadLettersUpdate(count int) {
	s.deadLetters.Set(float64(count))
}

// Leader election metrics implementation

func (s *PrometheusSink) LeaderStatusChanged(isLeader bool) {
	if isLeader {
		s.isLeader.Set(1)
		return
	}
	s.isLeader.Set(0)
}

func (s *PrometheusSink) LeaderAcquired() {
	s.leaderAcquiredTotal.Inc()
}

func (s *PrometheusSink) LeaderLost(reason string) {
	s.leaderLostTotal.WithLabelValues(reason).Inc()
}

var _ Sink = (*PrometheusSink)(nil)
