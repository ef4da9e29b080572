package worker

import (
	"context"

	"github.com/texasrangers4/act-triggers/internal/domain"
	"github.com/texasrangers4/act-triggers/internal/metrics"
)

// RuleEvaluationEngine evaluates the rules registered for an event.
// Any returned error is counted as a failed task.
type RuleEvaluationEngine interface {
	Evaluate(ctx context.Context, event domain.TriggerEvent) error
	// Metrics is attached opaquely to the worker's own metrics.
	Metrics() metrics.Data
}

// AdministrationService supplies trigger metadata to the surrounding system.
// The worker only holds on to it.
type AdministrationService interface {
	GetTriggerEventDefinition(ctx context.Context, service, event string) (domain.TriggerEventDefinition, error)
}

// AnalyticsSink records evaluated events. Implementations must be
// best-effort and never block evaluation for long.
type AnalyticsSink interface {
	Record(ctx context.Context, event domain.TriggerEvent, outcome domain.Outcome)
}
