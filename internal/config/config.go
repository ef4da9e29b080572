package config

import (
	"encoding/json"
	"os"
	"strconv"
	"time"

	xlog "github.com/texasrangers4/act-triggers/internal/log"
)

// Config holds all configuration for the act-triggers pipeline.
// Values are loaded from environment variables; see printUsage() in
// cmd/pipeline for the full list.
type Config struct {
	HTTPAddr string `json:"http_addr"`

	HTTPShutdownTimeout    time.Duration `json:"-"`
	HTTPShutdownTimeoutStr string        `json:"http_shutdown_timeout"`

	// SubmitRateLimit is requests per minute per client IP on POST /events. 0 disables.
	SubmitRateLimit int `json:"submit_rate_limit"`

	WorkerThreads         int `json:"worker_threads"`
	SubmissionWaitSeconds int `json:"submission_wait_seconds"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path"`
	MetricsPort    int    `json:"metrics_port"`

	EvaluatorURL        string        `json:"evaluator_url"`
	EvaluatorSecret     string        `json:"-"`
	EvaluatorTimeout    time.Duration `json:"-"`
	EvaluatorTimeoutStr string        `json:"evaluator_timeout"`

	// CircuitBreakerThreshold: 0 disables the circuit breaker.
	CircuitBreakerThreshold   int           `json:"circuit_breaker_threshold"`
	CircuitBreakerCooldown    time.Duration `json:"-"`
	CircuitBreakerCooldownStr string        `json:"circuit_breaker_cooldown"`

	// RedisAddr enables the analytics sink when set.
	RedisAddr             string        `json:"redis_addr,omitempty"`
	AnalyticsWindow       time.Duration `json:"-"`
	AnalyticsWindowStr    string        `json:"analytics_window"`
	AnalyticsRetention    time.Duration `json:"-"`
	AnalyticsRetentionStr string        `json:"analytics_retention"`

	// DatabaseURL enables the administration store and leader election when set.
	DatabaseURL          string        `json:"database_url,omitempty"`
	DBOpTimeout          time.Duration `json:"-"`
	DBOpTimeoutStr       string        `json:"db_op_timeout"`
	DBMaxOpenConns       int           `json:"db_max_open_conns"`
	DBMaxIdleConns       int           `json:"db_max_idle_conns"`
	DBConnMaxLifetime    time.Duration `json:"-"`
	DBConnMaxLifetimeStr string        `json:"db_conn_max_lifetime"`

	SchedulesFile   string        `json:"schedules_file,omitempty"`
	TickInterval    time.Duration `json:"-"`
	TickIntervalStr string        `json:"tick_interval"`

	// LeaderLockKey: all instances sharing the same database must use the same key.
	LeaderLockKey int64 `json:"leader_lock_key"`

	// LeaderRetryInterval determines the maximum failover gap.
	LeaderRetryInterval    time.Duration `json:"-"`
	LeaderRetryIntervalStr string        `json:"leader_retry_interval"`

	// LeaderHeartbeatInterval pings the dedicated connection to detect local
	// connection death. It does not renew the advisory lock.
	LeaderHeartbeatInterval    time.Duration `json:"-"`
	LeaderHeartbeatIntervalStr string        `json:"leader_heartbeat_interval"`

	LogLevel string `json:"log_level"`
}

// Load reads configuration from environment variables with defaults.
// Malformed numeric values fall back to their default with a warning;
// malformed durations are left for Validate to report.
func Load() Config {
	cfg := Config{
		HTTPAddr:                   os.Getenv("HTTP_ADDR"),
		HTTPShutdownTimeoutStr:     os.Getenv("HTTP_SHUTDOWN_TIMEOUT"),
		MetricsEnabled:             os.Getenv("METRICS_ENABLED") == "true",
		MetricsPath:                os.Getenv("METRICS_PATH"),
		EvaluatorURL:               os.Getenv("EVALUATOR_URL"),
		EvaluatorSecret:            os.Getenv("EVALUATOR_SECRET"),
		EvaluatorTimeoutStr:        os.Getenv("EVALUATOR_TIMEOUT"),
		CircuitBreakerCooldownStr:  os.Getenv("CIRCUIT_BREAKER_COOLDOWN"),
		RedisAddr:                  os.Getenv("REDIS_ADDR"),
		AnalyticsWindowStr:         os.Getenv("ANALYTICS_WINDOW"),
		AnalyticsRetentionStr:      os.Getenv("ANALYTICS_RETENTION"),
		DatabaseURL:                os.Getenv("DATABASE_URL"),
		DBOpTimeoutStr:             os.Getenv("DB_OP_TIMEOUT"),
		DBConnMaxLifetimeStr:       os.Getenv("DB_CONN_MAX_LIFETIME"),
		SchedulesFile:              os.Getenv("SCHEDULES_FILE"),
		TickIntervalStr:            os.Getenv("TICK_INTERVAL"),
		LeaderRetryIntervalStr:     os.Getenv("LEADER_RETRY_INTERVAL"),
		LeaderHeartbeatIntervalStr: os.Getenv("LEADER_HEARTBEAT_INTERVAL"),
		LogLevel:                   os.Getenv("LOG_LEVEL"),
	}

	cfg.WorkerThreads = positiveInt("WORKER_THREADS", 10)
	cfg.SubmissionWaitSeconds = positiveInt("SUBMISSION_WAIT_SECONDS", 10)
	cfg.MetricsPort = positiveInt("METRICS_PORT", 9090)
	cfg.DBMaxOpenConns = positiveInt("DB_MAX_OPEN_CONNS", 25)
	cfg.DBMaxIdleConns = positiveInt("DB_MAX_IDLE_CONNS", 5)
	cfg.LeaderLockKey = int64(positiveInt("LEADER_LOCK_KEY", 728379))

	// Zero is meaningful for these two, so only a parse failure falls back.
	cfg.SubmitRateLimit = nonNegativeInt("SUBMIT_RATE_LIMIT", 600)
	cfg.CircuitBreakerThreshold = nonNegativeInt("CIRCUIT_BREAKER_THRESHOLD", 5)

	// Support Railway's PORT variable as fallback for HTTP_ADDR.
	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	defaultString(&cfg.HTTPShutdownTimeoutStr, "10s")
	defaultString(&cfg.EvaluatorTimeoutStr, "30s")
	defaultString(&cfg.CircuitBreakerCooldownStr, "2m")
	defaultString(&cfg.AnalyticsWindowStr, "1m")
	defaultString(&cfg.AnalyticsRetentionStr, "24h")
	defaultString(&cfg.DBOpTimeoutStr, "5s")
	defaultString(&cfg.DBConnMaxLifetimeStr, "30m")
	defaultString(&cfg.TickIntervalStr, "30s")
	defaultString(&cfg.LeaderRetryIntervalStr, "5s")
	defaultString(&cfg.LeaderHeartbeatIntervalStr, "2s")

	// Parse durations; validation is handled separately by Validate().
	parseDuration(cfg.HTTPShutdownTimeoutStr, &cfg.HTTPShutdownTimeout)
	parseDuration(cfg.EvaluatorTimeoutStr, &cfg.EvaluatorTimeout)
	parseDuration(cfg.CircuitBreakerCooldownStr, &cfg.CircuitBreakerCooldown)
	parseDuration(cfg.AnalyticsWindowStr, &cfg.AnalyticsWindow)
	parseDuration(cfg.AnalyticsRetentionStr, &cfg.AnalyticsRetention)
	parseDuration(cfg.DBOpTimeoutStr, &cfg.DBOpTimeout)
	parseDuration(cfg.DBConnMaxLifetimeStr, &cfg.DBConnMaxLifetime)
	parseDuration(cfg.TickIntervalStr, &cfg.TickInterval)
	parseDuration(cfg.LeaderRetryIntervalStr, &cfg.LeaderRetryInterval)
	parseDuration(cfg.LeaderHeartbeatIntervalStr, &cfg.LeaderHeartbeatInterval)

	return cfg
}

func positiveInt(name string, def int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		logger := xlog.WithComponent("config")
		logger.Warn().
			Str("variable", name).
			Str("value", raw).
			Int("default", def).
			Msg("invalid value (must be a positive integer), using default")
		return def
	}
	return n
}

func nonNegativeInt(name string, def int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		logger := xlog.WithComponent("config")
		logger.Warn().
			Str("variable", name).
			Str("value", raw).
			Int("default", def).
			Msg("invalid value (must be a non-negative integer), using default")
		return def
	}
	return n
}

func defaultString(s *string, def string) {
	if *s == "" {
		*s = def
	}
}

func parseDuration(s string, dst *time.Duration) {
	if d, err := time.ParseDuration(s); err == nil {
		*dst = d
	}
}

// LeaderElectionEnabled reports whether scheduled triggers must be guarded
// by the database advisory lock.
func (c Config) LeaderElectionEnabled() bool {
	return c.DatabaseURL != ""
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := struct {
		Config
		EvaluatorSecret string `json:"evaluator_secret,omitempty"`
		DatabaseURL     string `json:"database_url,omitempty"`
	}{
		Config:          c,
		EvaluatorSecret: maskSecret(c.EvaluatorSecret),
		DatabaseURL:     maskSecret(c.DatabaseURL),
	}
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if len(s) >= len(scheme) && s[:len(scheme)] == scheme {
			return scheme + "***"
		}
	}
	return "***"
}
