package metrics

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"
)

// Sink defines the interface for recording Prometheus-style metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
type Sink interface {
	// Worker pool metrics
	SlotsConfigured(slots int)
	TaskAdmitted(wait time.Duration)
	AdmissionRejected(reason string)
	TaskFinished(duration time.Duration, failed bool)
	TasksInFlightIncr()
	TasksInFlightDecr()

	// Evaluator metrics
	EvaluationRequestCompleted(statusClass string, duration time.Duration)
	CircuitRejected()

	// Scheduler metrics
	TickCompleted(duration time.Duration, triggersSubmitted int, err error)

	// Leader election metrics
	LeaderStatusChanged(isLeader bool)
	LeaderAcquired()
	LeaderLost(reason string)
}

// Reason constants for AdmissionRejected.
const (
	ReasonValidation   = "validation"
	ReasonNoResources  = "no_resources"
	ReasonNotRunning   = "not_running"
	ReasonPoolStopping = "stopping"
)

// StatusClass constants for EvaluationRequestCompleted.
const (
	StatusClass2xx             = "2xx"
	StatusClass4xx             = "4xx"
	StatusClass5xx             = "5xx"
	StatusClassTimeout         = "timeout"
	StatusClassConnectionError = "connection_error"
	StatusClassOtherError      = "other_error"
)

// ClassifyStatus maps an evaluation outcome to a bounded status class.
// Transport errors are classified before the status code is considered.
func ClassifyStatus(statusCode int, err error) string {
	if err != nil {
		return classifyError(err)
	}

	switch {
	case statusCode >= 200 && statusCode < 300:
		return StatusClass2xx
	case statusCode >= 400 && statusCode < 500:
		return StatusClass4xx
	case statusCode >= 500 && statusCode < 600:
		return StatusClass5xx
	default:
		return StatusClassOtherError
	}
}

func classifyError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return StatusClassTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return StatusClassTimeout
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return StatusClassConnectionError
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return StatusClassConnectionError
	}

	// Fallback for errors flattened with %v.
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "deadline exceeded"), strings.Contains(msg, "timeout"):
		return StatusClassTimeout
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "no such host"):
		return StatusClassConnectionError
	default:
		return StatusClassOtherError
	}
}
