package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/texasrangers4/act-triggers/internal/domain"
	xlog "github.com/texasrangers4/act-triggers/internal/log"
	"github.com/texasrangers4/act-triggers/internal/metrics"
	"github.com/texasrangers4/act-triggers/internal/submission"
)

// MetricsGroup names the worker's counters in Metrics.
const MetricsGroup = "inMemoryQueueWorker"

// EngineMetricsGroup names the evaluation engine's counters in Metrics.
const EngineMetricsGroup = "ruleEvaluationEngine"

const (
	metricTotalCompletedTasks = "totalCompletedTasks"
	metricTotalFailedTasks    = "totalFailedTasks"
)

var (
	// ErrNotRunning is wrapped by the NotRunning submission fault.
	ErrNotRunning = errors.New("worker is not running")

	// ErrInvalidConfig is returned by Start when Validate reports problems.
	ErrInvalidConfig = errors.New("invalid worker configuration")
)

// InMemoryQueueWorker admits trigger events into a fixed number of worker
// slots and evaluates them asynchronously.
type InMemoryQueueWorker struct {
	admin     AdministrationService
	engine    RuleEvaluationEngine
	analytics AnalyticsSink // optional, nil = disabled
	metrics   metrics.Sink
	logger    zerolog.Logger

	mu    sync.RWMutex
	cfg   Config
	state State
	slots *slotSet

	// draining holds retired slot sets that may still have work in flight.
	// Guarded by mu; pruned once a set's finished channel is closed.
	draining []*slotSet

	completed atomic.Int64
	failed    atomic.Int64
}

// slotSet is one generation of worker goroutines started by Start.
type slotSet struct {
	size    int
	handoff chan domain.TriggerEvent // unbuffered: a send succeeds only when a slot is idle
	done     chan struct{}
	finished chan struct{} // closed once every slot goroutine has returned
}

// New creates a worker with the default configuration. The administration
// service is kept for collaborators and is not invoked by the worker.
func New(admin AdministrationService) *InMemoryQueueWorker {
	return &InMemoryQueueWorker{
		admin:   admin,
		metrics: metrics.NewNoopSink(),
		logger:  xlog.WithComponent("worker"),
		cfg:     DefaultConfig(),
		state:   StateNotStarted,
	}
}

// WithRuleEvaluationEngine sets the engine events are evaluated against.
func (w *InMemoryQueueWorker) WithRuleEvaluationEngine(engine RuleEvaluationEngine) *InMemoryQueueWorker {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.engine = engine
	return w
}

// WithAnalytics attaches an analytics sink that sees every evaluated event.
func (w *InMemoryQueueWorker) WithAnalytics(sink AnalyticsSink) *InMemoryQueueWorker {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.analytics = sink
	return w
}

// WithMetrics attaches a metrics sink.
func (w *InMemoryQueueWorker) WithMetrics(sink metrics.Sink) *InMemoryQueueWorker {
	w.mu.Lock()
	defer w.mu.Unlock()
	if sink == nil {
		sink = metrics.NewNoopSink()
	}
	w.metrics = sink
	return w
}

// WithLogger replaces the component logger.
func (w *InMemoryQueueWorker) WithLogger(logger zerolog.Logger) *InMemoryQueueWorker {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.logger = logger
	return w
}

// SetNumberOfWorkerThreads sets the slot count used by the next Start.
func (w *InMemoryQueueWorker) SetNumberOfWorkerThreads(n int) *InMemoryQueueWorker {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cfg.NumberOfWorkerThreads = n
	return w
}

// SetSubmissionWaitTimeSeconds sets the admission wait budget. It applies
// from the next submission on.
func (w *InMemoryQueueWorker) SetSubmissionWaitTimeSeconds(s int) *InMemoryQueueWorker {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cfg.SubmissionWaitTimeSeconds = s
	return w
}

// Config returns the current configuration.
func (w *InMemoryQueueWorker) Config() Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cfg
}

// AdministrationService returns the service supplied at construction.
func (w *InMemoryQueueWorker) AdministrationService() AdministrationService {
	return w.admin
}

// State returns the current lifecycle state.
func (w *InMemoryQueueWorker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// Validate records configuration problems in vctx. It does not change state.
func (w *InMemoryQueueWorker) Validate(vctx *ValidationContext) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	w.cfg.validate(vctx)
	if w.engine == nil {
		vctx.AddError("ruleEvaluationEngine", "required")
	}
}

// Start allocates the configured number of slots and begins accepting
// submissions. Calling Start while running replaces the slot set with one
// built from the current configuration; events already executing on the
// old set run to completion.
func (w *InMemoryQueueWorker) Start() error {
	var vctx ValidationContext
	w.Validate(&vctx)
	if err := vctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	old := w.slots
	w.slots = w.startSlots(w.cfg.NumberOfWorkerThreads)
	w.state = StateRunning
	w.metrics.SlotsConfigured(w.cfg.NumberOfWorkerThreads)

	if old != nil {
		close(old.done)
		w.retire(old)
		w.logger.Info().
			Int("previous_slots", old.size).
			Int("slots", w.cfg.NumberOfWorkerThreads).
			Int("wait_seconds", w.cfg.SubmissionWaitTimeSeconds).
			Msg("worker restarted")
		return nil
	}

	w.logger.Info().
		Int("slots", w.cfg.NumberOfWorkerThreads).
		Int("wait_seconds", w.cfg.SubmissionWaitTimeSeconds).
		Msg("worker started")
	return nil
}

// Stop refuses new submissions and waits for in-flight evaluations to finish.
func (w *InMemoryQueueWorker) Stop() {
	_ = w.Shutdown(context.Background())
}

// Shutdown is Stop bounded by ctx. It returns ctx.Err() if in-flight
// evaluations are still running when ctx is done; they are not cancelled.
func (w *InMemoryQueueWorker) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	if w.state != StateRunning {
		w.mu.Unlock()
		return nil
	}
	w.state = StateStopped
	close(w.slots.done)
	w.retire(w.slots)
	w.slots = nil
	pending := append([]*slotSet(nil), w.draining...)
	logger := w.logger
	w.mu.Unlock()

	logger.Info().Msg("worker stopping, waiting for in-flight evaluations")

	for _, set := range pending {
		select {
		case <-set.finished:
		case <-ctx.Done():
			logger.Warn().Err(ctx.Err()).Msg("worker stop timed out with evaluations in flight")
			return ctx.Err()
		}
	}
	logger.Info().Msg("worker stopped")
	return nil
}

// retire records a slot set whose done channel is closed so a later
// Shutdown waits for it. Must be called with w.mu held.
func (w *InMemoryQueueWorker) retire(set *slotSet) {
	kept := w.draining[:0]
	for _, s := range w.draining {
		select {
		case <-s.finished:
		default:
			kept = append(kept, s)
		}
	}
	w.draining = append(kept, set)
}

// Submit validates event and waits up to the submission wait budget for an
// idle slot. It returns as soon as the event is admitted; evaluation happens
// asynchronously and its outcome is only visible through Metrics.
func (w *InMemoryQueueWorker) Submit(event *domain.TriggerEvent) error {
	return w.SubmitContext(context.Background(), event)
}

// SubmitContext is Submit with a caller context that can abandon the
// admission wait early.
func (w *InMemoryQueueWorker) SubmitContext(ctx context.Context, event *domain.TriggerEvent) error {
	w.mu.RLock()
	state := w.state
	slots := w.slots
	wait := time.Duration(w.cfg.SubmissionWaitTimeSeconds) * time.Second
	sink := w.metrics
	logger := w.logger
	w.mu.RUnlock()

	if state != StateRunning {
		sink.AdmissionRejected(metrics.ReasonNotRunning)
		return &submission.Error{
			Code:    submission.NotRunning,
			Message: fmt.Sprintf("worker state is %s", state),
			Err:     ErrNotRunning,
		}
	}

	if err := submission.Validate(event); err != nil {
		sink.AdmissionRejected(metrics.ReasonValidation)
		return err
	}

	return w.admit(ctx, slots, *event, wait, sink, logger)
}

// admit hands event to an idle slot, waiting at most wait. An idle slot
// admits immediately whatever the budget. If a restart retires the slot set
// mid-wait, the remaining budget is spent on its replacement.
func (w *InMemoryQueueWorker) admit(ctx context.Context, slots *slotSet, event domain.TriggerEvent, wait time.Duration, sink metrics.Sink, logger zerolog.Logger) error {
	start := time.Now()
	select {
	case slots.handoff <- event:
		sink.TaskAdmitted(time.Since(start))
		return nil
	default:
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case slots.handoff <- event:
			sink.TaskAdmitted(time.Since(start))
			return nil
		case <-slots.done:
			next := w.currentSlots()
			if next == nil || next == slots {
				return stopping(sink)
			}
			slots = next
		case <-timer.C:
			sink.AdmissionRejected(metrics.ReasonNoResources)
			logger.Warn().
				Str("event_id", event.ID.String()).
				Str("service", event.Service).
				Str("event", event.Event).
				Dur("waited", time.Since(start)).
				Msg("no worker slot became available")
			return &submission.Error{
				Code:    submission.NoResourcesAvailable,
				Message: fmt.Sprintf("no worker available within %s", wait),
			}
		case <-ctx.Done():
			sink.AdmissionRejected(metrics.ReasonNoResources)
			return &submission.Error{
				Code:    submission.NoResourcesAvailable,
				Message: "submission abandoned while waiting for a worker",
				Err:     ctx.Err(),
			}
		}
	}
}

func (w *InMemoryQueueWorker) currentSlots() *slotSet {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.slots
}

func stopping(sink metrics.Sink) error {
	sink.AdmissionRejected(metrics.ReasonPoolStopping)
	return &submission.Error{
		Code:    submission.NotRunning,
		Message: "worker is stopping",
		Err:     ErrNotRunning,
	}
}

// startSlots must be called with w.mu held.
func (w *InMemoryQueueWorker) startSlots(n int) *slotSet {
	s := &slotSet{
		size:     n,
		handoff:  make(chan domain.TriggerEvent),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	engine := w.engine
	analytics := w.analytics
	sink := w.metrics
	logger := w.logger

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			for {
				// A retired slot takes nothing new even when a sender is ready.
				select {
				case <-s.done:
					return
				default:
				}
				select {
				case <-s.done:
					return
				case event := <-s.handoff:
					w.execute(engine, analytics, sink, logger.With().Int("slot", slot).Logger(), event)
				}
			}
		}(i)
	}
	go func() {
		wg.Wait()
		close(s.finished)
	}()
	return s
}

// execute runs a single evaluation. Failures stay inside the slot.
func (w *InMemoryQueueWorker) execute(engine RuleEvaluationEngine, analytics AnalyticsSink, sink metrics.Sink, logger zerolog.Logger, event domain.TriggerEvent) {
	sink.TasksInFlightIncr()
	defer sink.TasksInFlightDecr()

	ctx := context.Background()
	start := time.Now()
	err := evaluate(ctx, engine, event)
	duration := time.Since(start)

	// completed first: readers load failed before completed.
	w.completed.Add(1)
	outcome := domain.OutcomeCompleted
	if err != nil {
		w.failed.Add(1)
		outcome = domain.OutcomeFailed
		logger.Warn().
			Err(err).
			Str("event_id", event.ID.String()).
			Str("service", event.Service).
			Str("event", event.Event).
			Dur("duration", duration).
			Msg("rule evaluation failed")
	} else {
		logger.Debug().
			Str("event_id", event.ID.String()).
			Dur("duration", duration).
			Msg("rule evaluation completed")
	}
	sink.TaskFinished(duration, err != nil)

	if analytics != nil {
		analytics.Record(ctx, event, outcome)
	}
}

// evaluate calls the engine, turning a panic into an error.
func evaluate(ctx context.Context, engine RuleEvaluationEngine, event domain.TriggerEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rule evaluation panicked: %v", r)
		}
	}()
	return engine.Evaluate(ctx, event)
}

// Metrics returns a snapshot of the worker counters under MetricsGroup and
// the engine's own metrics under EngineMetricsGroup.
func (w *InMemoryQueueWorker) Metrics() metrics.Data {
	failed := w.failed.Load()
	completed := w.completed.Load()

	data := metrics.NewData().WithSub(MetricsGroup, metrics.NewData().
		With(metricTotalCompletedTasks, completed).
		With(metricTotalFailedTasks, failed))

	w.mu.RLock()
	engine := w.engine
	w.mu.RUnlock()
	if engine != nil {
		data = data.WithSub(EngineMetricsGroup, engine.Metrics())
	}
	return data
}
