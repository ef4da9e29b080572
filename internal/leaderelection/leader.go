// Package leaderelection provides Postgres advisory lock-based leader election.
//
// A single Postgres session-scoped advisory lock determines the leader.
// The lock is held for the lifetime of the dedicated database connection;
// there is no renewal or TTL. If the connection dies, Postgres automatically
// releases the lock server-side (timing depends on TCP keepalive settings).
//
// The heartbeat ping exists solely to detect local connection death so the
// leader can stop its duties promptly. It does NOT renew the lock.
package leaderelection

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	xlog "github.com/texasrangers4/act-triggers/internal/log"
)

// Reasons passed to MetricsSink.LeaderLost.
const (
	ReasonShutdown = "shutdown"
	ReasonConnLost = "conn_lost"
)

// MetricsSink defines the interface for recording leader election metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	LeaderStatusChanged(isLeader bool)
	LeaderAcquired()
	LeaderLost(reason string)
}

// Locker acquires the leadership lock.
type Locker interface {
	// TryLock returns acquired=false without error when another instance
	// holds the lock. The session is only non-nil when acquired.
	TryLock(ctx context.Context) (session Session, acquired bool, err error)
}

// Session is a held lock.
type Session interface {
	// Ping reports whether the lock is still held.
	Ping(ctx context.Context) error
	// Close releases the lock.
	Close() error
}

// Elector runs onElected while this instance holds the lock.
type Elector struct {
	locker            Locker
	retryInterval     time.Duration // follower: how often to attempt lock acquisition
	heartbeatInterval time.Duration // leader: how often to ping the session
	onElected         func(ctx context.Context)
	onDemoted         func()
	metrics           MetricsSink // optional, nil = disabled
	logger            zerolog.Logger
}

// New creates a new Elector.
//
// onElected is called in a new goroutine when this instance acquires the lock.
// The provided context is cancelled when leadership is lost.
// onElected should start leader duties (the scheduler) and return quickly.
//
// onDemoted is called synchronously when leadership is lost.
// It should stop leader duties and block until they are fully stopped.
// It must be idempotent.
func New(
	locker Locker,
	retryInterval, heartbeatInterval time.Duration,
	onElected func(ctx context.Context),
	onDemoted func(),
) *Elector {
	return &Elector{
		locker:            locker,
		retryInterval:     retryInterval,
		heartbeatInterval: heartbeatInterval,
		onElected:         onElected,
		onDemoted:         onDemoted,
		logger:            xlog.WithComponent("leader"),
	}
}

// WithMetrics attaches a metrics sink to the elector.
func (e *Elector) WithMetrics(sink MetricsSink) *Elector {
	e.metrics = sink
	return e
}

func (e *Elector) WithLogger(logger zerolog.Logger) *Elector {
	e.logger = logger
	return e
}

// Run starts the leader election loop. It blocks until ctx is cancelled.
func (e *Elector) Run(ctx context.Context) {
	e.logger.Info().
		Dur("retry", e.retryInterval).
		Dur("heartbeat", e.heartbeatInterval).
		Msg("starting election loop")
	defer e.logger.Info().Msg("election loop stopped")

	retry := time.NewTimer(0)
	defer retry.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-retry.C:
		}

		reason := e.runOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if reason != "" {
			e.logger.Warn().
				Str("reason", reason).
				Dur("retry_in", e.retryInterval).
				Msg("lost leadership")
		}
		retry.Reset(e.retryInterval)
	}
}

// runOnce attempts to acquire the lock and hold it.
// Returns the reason leadership was lost ("" if the lock was not acquired).
func (e *Elector) runOnce(ctx context.Context) string {
	session, acquired, err := e.locker.TryLock(ctx)
	if err != nil {
		if ctx.Err() == nil {
			e.logger.Error().Err(err).Msg("lock attempt failed")
		}
		return ""
	}
	if !acquired {
		e.logger.Debug().Dur("retry_in", e.retryInterval).Msg("lock held by another instance")
		return ""
	}
	defer func() {
		if err := session.Close(); err != nil {
			e.logger.Warn().Err(err).Msg("releasing lock failed")
		}
	}()

	e.logger.Info().Msg("acquired leadership")
	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(true)
		e.metrics.LeaderAcquired()
	}

	leaderCtx, cancelLeader := context.WithCancel(ctx)

	go e.onElected(leaderCtx)

	reason := e.holdLock(ctx, session)

	cancelLeader()
	e.onDemoted()

	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(false)
		e.metrics.LeaderLost(reason)
	}

	e.logger.Info().Str("reason", reason).Msg("released leadership")
	return reason
}

// holdLock blocks while pinging the session.
// Returns the reason the lock was lost.
func (e *Elector) holdLock(ctx context.Context, session Session) string {
	ticker := time.NewTicker(e.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ReasonShutdown
		case <-ticker.C:
			if err := session.Ping(ctx); err != nil {
				if ctx.Err() != nil {
					return ReasonShutdown
				}
				e.logger.Error().Err(err).Msg("lock session ping failed")
				return ReasonConnLost
			}
		}
	}
}
