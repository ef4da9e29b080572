package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	xlog "github.com/texasrangers4/act-triggers/internal/log"
)

// PrometheusSink implements Sink using Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Worker pool metrics
	slots              prometheus.Gauge
	admittedTotal      prometheus.Counter
	admissionWait      prometheus.Histogram
	rejectedTotal      *prometheus.CounterVec
	tasksFinishedTotal *prometheus.CounterVec
	taskDuration       prometheus.Histogram
	tasksInFlight      prometheus.Gauge

	// Evaluator metrics
	evaluationRequestsTotal *prometheus.CounterVec
	evaluationDuration      prometheus.Histogram
	circuitRejectedTotal    prometheus.Counter

	// Scheduler metrics
	ticksTotal        prometheus.Counter
	tickErrorsTotal   prometheus.Counter
	scheduledTriggers prometheus.Counter
	tickDuration      prometheus.Histogram

	// Leader election metrics
	isLeader       prometheus.Gauge
	leaderAcquired prometheus.Counter
	leaderLost     *prometheus.CounterVec
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// Metrics that fail to register are still usable but not exported.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initWorkerMetrics(reg)
	s.initEvaluatorMetrics(reg)
	s.initSchedulerMetrics(reg)
	s.initLeaderMetrics(reg)
	return s
}

func (s *PrometheusSink) initWorkerMetrics(reg prometheus.Registerer) {
	s.slots = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "triggers_worker_slots",
		Help: "Number of configured worker slots.",
	})
	s.admittedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "triggers_worker_admitted_total",
		Help: "Total number of trigger events admitted to a worker slot.",
	})
	s.admissionWait = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "triggers_worker_admission_wait_seconds",
		Help:    "Time a submission waited for an idle worker slot.",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	})
	s.rejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "triggers_worker_rejected_total",
		Help: "Total number of refused submissions, by reason.",
	}, []string{"reason"})
	s.tasksFinishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "triggers_worker_tasks_finished_total",
		Help: "Total number of finished evaluation tasks, by outcome.",
	}, []string{"outcome"})
	s.taskDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "triggers_worker_task_duration_seconds",
		Help:    "Duration of a single evaluation task in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})
	s.tasksInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "triggers_worker_tasks_in_flight",
		Help: "Number of evaluation tasks currently executing.",
	})

	s.register(reg, s.slots, "triggers_worker_slots")
	s.register(reg, s.admittedTotal, "triggers_worker_admitted_total")
	s.register(reg, s.admissionWait, "triggers_worker_admission_wait_seconds")
	s.register(reg, s.rejectedTotal, "triggers_worker_rejected_total")
	s.register(reg, s.tasksFinishedTotal, "triggers_worker_tasks_finished_total")
	s.register(reg, s.taskDuration, "triggers_worker_task_duration_seconds")
	s.register(reg, s.tasksInFlight, "triggers_worker_tasks_in_flight")
}

func (s *PrometheusSink) initEvaluatorMetrics(reg prometheus.Registerer) {
	s.evaluationRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "triggers_evaluator_requests_total",
		Help: "Total number of evaluator webhook requests, by status class.",
	}, []string{"status_class"})
	s.evaluationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "triggers_evaluator_request_duration_seconds",
		Help:    "Evaluator webhook latency in seconds.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})
	s.circuitRejectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "triggers_evaluator_circuit_rejected_total",
		Help: "Total number of evaluations refused while the circuit breaker was open.",
	})

	s.register(reg, s.evaluationRequestsTotal, "triggers_evaluator_requests_total")
	s.register(reg, s.evaluationDuration, "triggers_evaluator_request_duration_seconds")
	s.register(reg, s.circuitRejectedTotal, "triggers_evaluator_circuit_rejected_total")
}

func (s *PrometheusSink) initSchedulerMetrics(reg prometheus.Registerer) {
	s.ticksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "triggers_scheduler_ticks_total",
		Help: "Total number of scheduler ticks processed.",
	})
	s.tickErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "triggers_scheduler_tick_errors_total",
		Help: "Total number of scheduler ticks with at least one failed submission.",
	})
	s.scheduledTriggers = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "triggers_scheduler_submitted_total",
		Help: "Total number of scheduled trigger events accepted by the worker.",
	})
	s.tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "triggers_scheduler_tick_duration_seconds",
		Help:    "Duration of each scheduler tick in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	})

	s.register(reg, s.ticksTotal, "triggers_scheduler_ticks_total")
	s.register(reg, s.tickErrorsTotal, "triggers_scheduler_tick_errors_total")
	s.register(reg, s.scheduledTriggers, "triggers_scheduler_submitted_total")
	s.register(reg, s.tickDuration, "triggers_scheduler_tick_duration_seconds")
}

func (s *PrometheusSink) initLeaderMetrics(reg prometheus.Registerer) {
	s.isLeader = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "triggers_leader_is_leader",
		Help: "1 if this instance currently runs scheduled triggers, 0 otherwise.",
	})
	s.leaderAcquired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "triggers_leader_acquired_total",
		Help: "Total number of times leadership was acquired.",
	})
	s.leaderLost = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "triggers_leader_lost_total",
		Help: "Total number of times leadership was lost, by reason.",
	}, []string{"reason"})

	s.register(reg, s.isLeader, "triggers_leader_is_leader")
	s.register(reg, s.leaderAcquired, "triggers_leader_acquired_total")
	s.register(reg, s.leaderLost, "triggers_leader_lost_total")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		logger := xlog.WithComponent("metrics")
		logger.Warn().Err(err).Str("metric", name).Msg("failed to register collector")
	}
}

// Worker pool metrics implementation

func (s *PrometheusSink) SlotsConfigured(slots int) {
	s.slots.Set(float64(slots))
}

func (s *PrometheusSink) TaskAdmitted(wait time.Duration) {
	s.admittedTotal.Inc()
	s.admissionWait.Observe(wait.Seconds())
}

func (s *PrometheusSink) AdmissionRejected(reason string) {
	s.rejectedTotal.WithLabelValues(reason).Inc()
}

func (s *PrometheusSink) TaskFinished(duration time.Duration, failed bool) {
	outcome := "completed"
	if failed {
		outcome = "failed"
	}
	s.tasksFinishedTotal.WithLabelValues(outcome).Inc()
	s.taskDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) TasksInFlightIncr() {
	s.tasksInFlight.Inc()
}

func (s *PrometheusSink) TasksInFlightDecr() {
	s.tasksInFlight.Dec()
}

// Evaluator metrics implementation

func (s *PrometheusSink) EvaluationRequestCompleted(statusClass string, duration time.Duration) {
	s.evaluationRequestsTotal.WithLabelValues(statusClass).Inc()
	s.evaluationDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) CircuitRejected() {
	s.circuitRejectedTotal.Inc()
}

// Scheduler metrics implementation

func (s *PrometheusSink) TickCompleted(duration time.Duration, triggersSubmitted int, err error) {
	s.ticksTotal.Inc()
	s.tickDuration.Observe(duration.Seconds())
	s.scheduledTriggers.Add(float64(triggersSubmitted))
	if err != nil {
		s.tickErrorsTotal.Inc()
	}
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
	s.leaderAcquired.Inc()
}

func (s *PrometheusSink) LeaderLost(reason string) {
	s.leaderLost.WithLabelValues(reason).Inc()
}
