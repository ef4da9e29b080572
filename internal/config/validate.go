package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors

	// EVALUATOR_URL is required and must be absolute http(s)
	if cfg.EvaluatorURL == "" {
		errs = append(errs, ValidationError{
			Field:   "EVALUATOR_URL",
			Message: "required",
		})
	} else if u, err := url.Parse(cfg.EvaluatorURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, ValidationError{
			Field:   "EVALUATOR_URL",
			Message: fmt.Sprintf("must be an absolute http(s) URL, got %q", cfg.EvaluatorURL),
		})
	}

	if cfg.WorkerThreads <= 0 {
		errs = append(errs, ValidationError{
			Field:   "WORKER_THREADS",
			Message: "must be positive",
		})
	}
	if cfg.SubmissionWaitSeconds <= 0 {
		errs = append(errs, ValidationError{
			Field:   "SUBMISSION_WAIT_SECONDS",
			Message: "must be positive",
		})
	}

	durations := []struct {
		field string
		value string
	}{
		{"HTTP_SHUTDOWN_TIMEOUT", cfg.HTTPShutdownTimeoutStr},
		{"EVALUATOR_TIMEOUT", cfg.EvaluatorTimeoutStr},
		{"CIRCUIT_BREAKER_COOLDOWN", cfg.CircuitBreakerCooldownStr},
		{"ANALYTICS_WINDOW", cfg.AnalyticsWindowStr},
		{"ANALYTICS_RETENTION", cfg.AnalyticsRetentionStr},
		{"DB_OP_TIMEOUT", cfg.DBOpTimeoutStr},
		{"DB_CONN_MAX_LIFETIME", cfg.DBConnMaxLifetimeStr},
		{"TICK_INTERVAL", cfg.TickIntervalStr},
		{"LEADER_RETRY_INTERVAL", cfg.LeaderRetryIntervalStr},
		{"LEADER_HEARTBEAT_INTERVAL", cfg.LeaderHeartbeatIntervalStr},
	}
	for _, d := range durations {
		if err := validateDuration(d.field, d.value); err != nil {
			errs = append(errs, *err)
		}
	}

	// Buckets must outlive their window or counts vanish before they are read.
	if cfg.AnalyticsWindow > 0 && cfg.AnalyticsRetention > 0 && cfg.AnalyticsRetention < cfg.AnalyticsWindow {
		errs = append(errs, ValidationError{
			Field:   "ANALYTICS_RETENTION",
			Message: fmt.Sprintf("must be at least ANALYTICS_WINDOW (%s)", cfg.AnalyticsWindowStr),
		})
	}

	// A lost connection must be noticed before another instance can take over.
	if cfg.LeaderHeartbeatInterval > 0 && cfg.LeaderRetryInterval > 0 && cfg.LeaderHeartbeatInterval >= cfg.LeaderRetryInterval {
		errs = append(errs, ValidationError{
			Field:   "LEADER_HEARTBEAT_INTERVAL",
			Message: fmt.Sprintf("must be less than LEADER_RETRY_INTERVAL (%s)", cfg.LeaderRetryIntervalStr),
		})
	}

	if cfg.MetricsPort <= 0 || cfg.MetricsPort > 65535 {
		errs = append(errs, ValidationError{
			Field:   "METRICS_PORT",
			Message: fmt.Sprintf("must be between 1 and 65535, got %d", cfg.MetricsPort),
		})
	}

	if _, err := zerolog.ParseLevel(cfg.LogLevel); err != nil {
		errs = append(errs, ValidationError{
			Field:   "LOG_LEVEL",
			Message: fmt.Sprintf("unknown level %q", cfg.LogLevel),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateDuration(field, value string) *ValidationError {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return &ValidationError{Field: field, Message: fmt.Sprintf("invalid duration: %v", err)}
	}
	if d <= 0 {
		return &ValidationError{Field: field, Message: "must be positive"}
	}
	return nil
}

// Warnings returns non-fatal observations about the configuration that an
// operator probably wants to see at startup.
func Warnings(cfg Config) []string {
	var out []string
	if cfg.EvaluatorSecret == "" {
		out = append(out, "EVALUATOR_SECRET is not set; evaluation requests will be unsigned")
	}
	if cfg.SchedulesFile != "" && cfg.DatabaseURL == "" {
		out = append(out, "SCHEDULES_FILE is set without DATABASE_URL; every instance will fire scheduled triggers")
	}
	if cfg.CircuitBreakerThreshold == 0 {
		out = append(out, "CIRCUIT_BREAKER_THRESHOLD=0 disables the circuit breaker")
	}
	if cfg.SubmitRateLimit == 0 {
		out = append(out, "SUBMIT_RATE_LIMIT=0 disables submission rate limiting")
	}
	return out
}
