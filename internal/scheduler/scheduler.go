// Package scheduler turns cron-scheduled triggers into trigger event
// submissions.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/texasrangers4/act-triggers/internal/domain"
	xlog "github.com/texasrangers4/act-triggers/internal/log"
	"github.com/texasrangers4/act-triggers/internal/submission"
)

// eventNamespace seeds the deterministic IDs of scheduled events so every
// instance derives the same ID for the same (schedule, fire time).
var eventNamespace = uuid.MustParse("6f1d6a43-5b19-4d5e-9a57-6c0b3f1de2a4")

// Context keys added to every scheduled event.
const (
	ContextSchedule    = "schedule"
	ContextScheduledAt = "scheduled_at"
)

type Source interface {
	Schedules(ctx context.Context) ([]domain.ScheduledTrigger, error)
}

// Submitter is the worker's submission entry point.
type Submitter interface {
	SubmitContext(ctx context.Context, event *domain.TriggerEvent) error
}

type CronParser interface {
	Parse(expression string, timezone string) (CronSchedule, error)
}

type CronSchedule interface {
	Next(after time.Time) time.Time
}

// MetricsSink defines the interface for recording scheduler metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	TickCompleted(duration time.Duration, triggersSubmitted int, err error)
}

type Config struct {
	TickInterval time.Duration
}

type Scheduler struct {
	config    Config
	source    Source
	parser    CronParser
	submitter Submitter
	metrics   MetricsSink // optional, nil = disabled
	logger    zerolog.Logger
	clock     func() time.Time
	lastTick  time.Time

	// lastFired is the latest fire time submitted per schedule name.
	lastFired map[string]time.Time
}

func New(config Config, source Source, parser CronParser, submitter Submitter) *Scheduler {
	return &Scheduler{
		config:    config,
		source:    source,
		parser:    parser,
		submitter: submitter,
		logger:    xlog.WithComponent("scheduler"),
		clock:     time.Now,
		lastFired: make(map[string]time.Time),
	}
}

// WithMetrics attaches a metrics sink to the scheduler.
func (s *Scheduler) WithMetrics(sink MetricsSink) *Scheduler {
	s.metrics = sink
	return s
}

func (s *Scheduler) WithLogger(logger zerolog.Logger) *Scheduler {
	s.logger = logger
	return s
}

// WithClock replaces the time source. Intended for tests.
func (s *Scheduler) WithClock(clock func() time.Time) *Scheduler {
	s.clock = clock
	return s
}

// Run ticks until ctx is cancelled. Fire times that fall between two ticks
// are submitted on the later tick.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	s.logger.Info().Dur("tick", s.config.TickInterval).Msg("scheduler started")
	s.lastTick = s.clock().UTC()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.processTick(ctx); err != nil {
				s.logger.Error().Err(err).Msg("tick error")
			}
		}
	}
}

func (s *Scheduler) processTick(ctx context.Context) (err error) {
	start := time.Now()
	submitted := 0
	defer func() {
		if s.metrics != nil {
			s.metrics.TickCompleted(time.Since(start), submitted, err)
		}
	}()

	now := s.clock().UTC()

	schedules, err := s.source.Schedules(ctx)
	if err != nil {
		return fmt.Errorf("get schedules: %w", err)
	}

	for _, st := range schedules {
		n, err := s.processSchedule(ctx, st, s.lastTick, now)
		submitted += n
		if err != nil {
			s.logger.Warn().Err(err).Str("schedule", st.Name).Msg("schedule skipped")
		}
	}

	s.lastTick = now
	return nil
}

func (s *Scheduler) processSchedule(ctx context.Context, st domain.ScheduledTrigger, lastTick, now time.Time) (int, error) {
	tz := st.Timezone
	if tz == "" {
		tz = "UTC"
	}

	loc, err := time.LoadLocation(tz)
	if err != nil {
		return 0, fmt.Errorf("load tz %s: %w", tz, err)
	}

	cronSched, err := s.parser.Parse(st.CronExpression, tz)
	if err != nil {
		return 0, fmt.Errorf("parse cron: %w", err)
	}

	// Loop through all due times since last tick
	const maxIterations = 1000
	submitted := 0
	t := cronSched.Next(lastTick.In(loc))
	nowInTZ := now.In(loc)

	for i := 0; i < maxIterations && !t.After(nowInTZ); i++ {
		scheduledAt := t.UTC().Truncate(time.Minute)

		if last, ok := s.lastFired[st.Name]; ok && !scheduledAt.After(last) {
			t = cronSched.Next(t)
			continue
		}

		err := s.submit(ctx, st, scheduledAt)
		// Refused fire times are not retried.
		s.lastFired[st.Name] = scheduledAt
		if err != nil {
			if submission.CodeOf(err) == submission.NotRunning {
				return submitted, err
			}
			s.logger.Warn().
				Err(err).
				Str("schedule", st.Name).
				Time("scheduled_at", scheduledAt).
				Msg("scheduled trigger refused")
		} else {
			submitted++
		}

		t = cronSched.Next(t)
	}

	return submitted, nil
}

func (s *Scheduler) submit(ctx context.Context, st domain.ScheduledTrigger, scheduledAt time.Time) error {
	event := EventFor(st, scheduledAt)

	if err := s.submitter.SubmitContext(ctx, &event); err != nil {
		var serr *submission.Error
		if errors.As(err, &serr) && serr.IsValidation() {
			return fmt.Errorf("invalid scheduled trigger: %w", err)
		}
		return fmt.Errorf("submit: %w", err)
	}

	s.logger.Info().
		Str("schedule", st.Name).
		Str("event_id", event.ID.String()).
		Time("scheduled_at", scheduledAt).
		Msg("scheduled trigger submitted")
	return nil
}

// EventFor builds the trigger event for one fire time of st. The ID is
// derived from the schedule name and fire time.
func EventFor(st domain.ScheduledTrigger, scheduledAt time.Time) domain.TriggerEvent {
	ctx := make(map[string]string, len(st.Context)+2)
	for k, v := range st.Context {
		ctx[k] = v
	}
	ctx[ContextSchedule] = st.Name
	ctx[ContextScheduledAt] = scheduledAt.UTC().Format(time.RFC3339)

	return domain.TriggerEvent{
		ID:           eventID(st.Name, scheduledAt),
		Timestamp:    scheduledAt.UnixMilli(),
		Service:      st.Service,
		Event:        st.Event,
		Organization: st.Organization,
		AccessMode:   st.AccessMode,
		Context:      ctx,
	}
}

func eventID(name string, scheduledAt time.Time) uuid.UUID {
	return uuid.NewSHA1(eventNamespace, []byte(name+":"+strconv.FormatInt(scheduledAt.Unix(), 10)))
}
