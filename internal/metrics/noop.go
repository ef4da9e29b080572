package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) SlotsConfigured(slots int)                                              {}
func (n *NoopSink) TaskAdmitted(wait time.Duration)                                        {}
func (n *NoopSink) AdmissionRejected(reason string)                                        {}
func (n *NoopSink) TaskFinished(duration time.Duration, failed bool)                       {}
func (n *NoopSink) TasksInFlightIncr()                                                     {}
func (n *NoopSink) TasksInFlightDecr()                                                     {}
func (n *NoopSink) EvaluationRequestCompleted(statusClass string, d time.Duration)         {}
func (n *NoopSink) CircuitRejected()                                                       {}
func (n *NoopSink) TickCompleted(duration time.Duration, triggersSubmitted int, err error) {}
func (n *NoopSink) LeaderStatusChanged(isLeader bool)                                      {}
func (n *NoopSink) LeaderAcquired()                                                        {}
func (n *NoopSink) LeaderLost(reason string)                                               {}
