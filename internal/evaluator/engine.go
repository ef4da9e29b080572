// Package evaluator hands admitted trigger events to an external rule
// evaluation service over HTTP.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/texasrangers4/act-triggers/internal/circuitbreaker"
	"github.com/texasrangers4/act-triggers/internal/domain"
	xlog "github.com/texasrangers4/act-triggers/internal/log"
	"github.com/texasrangers4/act-triggers/internal/metrics"
)

// MetricsGroup names the engine's counters in Metrics.
const MetricsGroup = "webhookEngine"

const (
	metricTotalRequests          = "totalRequests"
	metricTotalFailedRequests    = "totalFailedRequests"
	metricTotalRejectedByBreaker = "totalRejectedByBreaker"
)

// ErrUnexpectedStatus is wrapped by StatusError.
var ErrUnexpectedStatus = errors.New("unexpected evaluator status")

// StatusError reports a non-2xx response from the evaluator.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("evaluator responded %d", e.StatusCode)
}

func (e *StatusError) Unwrap() error {
	return ErrUnexpectedStatus
}

type Sender interface {
	Send(ctx context.Context, req Request) Result
}

type Request struct {
	URL       string
	Secret    string
	Timeout   time.Duration
	Payload   Payload
	RequestID string
}

// Payload is the JSON body posted to the evaluator.
type Payload struct {
	EventID      string            `json:"event_id"`
	Timestamp    int64             `json:"timestamp"`
	OccurredAt   string            `json:"occurred_at"`
	Service      string            `json:"service"`
	Event        string            `json:"event"`
	Organization string            `json:"organization"`
	AccessMode   string            `json:"access_mode"`
	Context      map[string]string `json:"context,omitempty"`
}

type Result struct {
	StatusCode int
	Error      error
	Duration   time.Duration
}

func (r Result) IsSuccess() bool {
	return r.Error == nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Err returns the failure described by r, or nil on success.
func (r Result) Err() error {
	if r.Error != nil {
		return r.Error
	}
	if r.IsSuccess() {
		return nil
	}
	return &StatusError{StatusCode: r.StatusCode}
}

// WebhookEngine evaluates each event with a single signed POST to the
// configured URL. It does not retry; the worker counts the failure.
type WebhookEngine struct {
	url     string
	secret  string
	timeout time.Duration

	sender  Sender
	breaker *circuitbreaker.CircuitBreaker // optional, nil = disabled
	metrics metrics.Sink
	logger  zerolog.Logger

	totalRequests          atomic.Int64
	totalFailedRequests    atomic.Int64
	totalRejectedByBreaker atomic.Int64
}

func NewWebhookEngine(url, secret string, timeout time.Duration, sender Sender) *WebhookEngine {
	return &WebhookEngine{
		url:     url,
		secret:  secret,
		timeout: timeout,
		sender:  sender,
		metrics: metrics.NewNoopSink(),
		logger:  xlog.WithComponent("evaluator"),
	}
}

func (e *WebhookEngine) WithCircuitBreaker(cb *circuitbreaker.CircuitBreaker) *WebhookEngine {
	e.breaker = cb
	return e
}

// WithMetrics attaches a metrics sink to the engine.
func (e *WebhookEngine) WithMetrics(sink metrics.Sink) *WebhookEngine {
	if sink != nil {
		e.metrics = sink
	}
	return e
}

func (e *WebhookEngine) WithLogger(logger zerolog.Logger) *WebhookEngine {
	e.logger = logger
	return e
}

// URL returns the evaluator endpoint.
func (e *WebhookEngine) URL() string {
	return e.url
}

// Evaluate posts event to the evaluator. While the breaker for the URL is
// open it fails fast with an error wrapping circuitbreaker.ErrCircuitOpen.
func (e *WebhookEngine) Evaluate(ctx context.Context, event domain.TriggerEvent) error {
	if e.breaker != nil {
		if err := e.breaker.Allow(e.url); err != nil {
			e.totalRejectedByBreaker.Add(1)
			e.metrics.CircuitRejected()
			e.logger.Warn().
				Str("event_id", event.ID.String()).
				Str("url", e.url).
				Msg("circuit open, skipping evaluation")
			return fmt.Errorf("evaluate %s: %w", event.ID, err)
		}
	}

	req := Request{
		URL:       e.url,
		Secret:    e.secret,
		Timeout:   e.timeout,
		Payload:   payloadFor(event),
		RequestID: uuid.NewString(),
	}

	e.totalRequests.Add(1)
	result := e.sender.Send(ctx, req)
	e.metrics.EvaluationRequestCompleted(metrics.ClassifyStatus(result.StatusCode, result.Error), result.Duration)

	if err := result.Err(); err != nil {
		e.totalFailedRequests.Add(1)
		if e.breaker != nil {
			e.breaker.RecordFailure(e.url)
		}
		e.logger.Warn().
			Err(err).
			Str("event_id", event.ID.String()).
			Str("request_id", req.RequestID).
			Int("status", result.StatusCode).
			Dur("duration", result.Duration).
			Msg("evaluation request failed")
		return fmt.Errorf("evaluate %s: %w", event.ID, err)
	}

	if e.breaker != nil {
		e.breaker.RecordSuccess(e.url)
	}
	e.logger.Debug().
		Str("event_id", event.ID.String()).
		Str("request_id", req.RequestID).
		Int("status", result.StatusCode).
		Dur("duration", result.Duration).
		Msg("evaluation request succeeded")
	return nil
}

// Metrics returns the engine's request counters under MetricsGroup.
func (e *WebhookEngine) Metrics() metrics.Data {
	return metrics.NewData().WithSub(MetricsGroup, metrics.NewData().
		With(metricTotalRequests, e.totalRequests.Load()).
		With(metricTotalFailedRequests, e.totalFailedRequests.Load()).
		With(metricTotalRejectedByBreaker, e.totalRejectedByBreaker.Load()))
}

func payloadFor(event domain.TriggerEvent) Payload {
	return Payload{
		EventID:      event.ID.String(),
		Timestamp:    event.Timestamp,
		OccurredAt:   event.Time().UTC().Format(time.RFC3339Nano),
		Service:      event.Service,
		Event:        event.Event,
		Organization: event.Organization.String(),
		AccessMode:   string(event.AccessMode),
		Context:      event.Context,
	}
}
