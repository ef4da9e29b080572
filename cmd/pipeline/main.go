package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/texasrangers4/act-triggers/internal/analytics"
	"github.com/texasrangers4/act-triggers/internal/api"
	"github.com/texasrangers4/act-triggers/internal/circuitbreaker"
	"github.com/texasrangers4/act-triggers/internal/config"
	"github.com/texasrangers4/act-triggers/internal/cron"
	"github.com/texasrangers4/act-triggers/internal/domain"
	"github.com/texasrangers4/act-triggers/internal/evaluator"
	"github.com/texasrangers4/act-triggers/internal/leaderelection"
	xlog "github.com/texasrangers4/act-triggers/internal/log"
	"github.com/texasrangers4/act-triggers/internal/metrics"
	"github.com/texasrangers4/act-triggers/internal/scheduler"
	"github.com/texasrangers4/act-triggers/internal/store/postgres"
	"github.com/texasrangers4/act-triggers/internal/worker"

	_ "github.com/lib/pq"
)

// cronParserAdapter adapts internal/cron.Parser to scheduler.CronParser interface.
type cronParserAdapter struct {
	parser *cron.Parser
}

func (a *cronParserAdapter) Parse(expression string, timezone string) (scheduler.CronSchedule, error) {
	sched, err := a.parser.Parse(expression, timezone)
	if err != nil {
		return nil, err
	}
	return &cronScheduleAdapter{sched: sched}, nil
}

// cronScheduleAdapter adapts internal/cron.Schedule to scheduler.CronSchedule interface.
type cronScheduleAdapter struct {
	sched cron.Schedule
}

func (a *cronScheduleAdapter) Next(after time.Time) time.Time {
	return a.sched.Next(after)
}

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	cmd := os.Args[1]

	switch cmd {
	case "serve":
		os.Exit(runServe())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "migrate":
		os.Exit(runMigrate())
	case "define":
		os.Exit(runDefine(os.Args[2:]))
	case "modes":
		os.Exit(runModes(os.Args[2:]))
	case "undefine":
		os.Exit(runUndefine(os.Args[2:]))
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`pipeline - admission-controlled trigger event worker

Usage:
  pipeline <command>

Commands:
  serve      Start the worker pool, submission API and scheduled triggers
  validate   Validate configuration and schedules file (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  migrate    Create the trigger event definitions table
  define     Register a trigger event definition: define <service> <event> [access_mode...]
  modes      Replace a definition's access modes: modes <service> <event> [access_mode...]
  undefine   Remove a trigger event definition: undefine <service> <event>
  version    Print version information

Environment Variables:
  EVALUATOR_URL              Rule evaluator endpoint (required)
  EVALUATOR_SECRET           HMAC secret for evaluation requests (optional)
  EVALUATOR_TIMEOUT          Evaluation request timeout (default: "30s")
  CIRCUIT_BREAKER_THRESHOLD  Consecutive failures before opening, 0 disables (default: "5")
  CIRCUIT_BREAKER_COOLDOWN   Open state duration (default: "2m")

  WORKER_THREADS             Number of worker slots (default: "10")
  SUBMISSION_WAIT_SECONDS    Admission wait budget (default: "10")

  HTTP_ADDR                  HTTP server address (default: ":8080", or ":$PORT")
  HTTP_SHUTDOWN_TIMEOUT      Graceful shutdown timeout (default: "10s")
  SUBMIT_RATE_LIMIT          POST /events requests per minute per IP, 0 disables (default: "600")

  REDIS_ADDR                 Redis address for analytics (optional)
  ANALYTICS_WINDOW           Analytics bucket size (default: "1m")
  ANALYTICS_RETENTION        Analytics key TTL (default: "24h")

  DATABASE_URL               PostgreSQL connection string (optional)
  DB_OP_TIMEOUT              Database operation timeout (default: "5s")
  DB_MAX_OPEN_CONNS          Max open database connections (default: "25")
  DB_MAX_IDLE_CONNS          Max idle database connections (default: "5")
  DB_CONN_MAX_LIFETIME       Max connection lifetime (default: "30m")

  SCHEDULES_FILE             YAML file of scheduled triggers (optional)
  TICK_INTERVAL              Scheduler tick interval (default: "30s")
  LEADER_LOCK_KEY            Advisory lock key (default: "728379")
  LEADER_RETRY_INTERVAL      Lock acquisition retry (default: "5s")
  LEADER_HEARTBEAT_INTERVAL  Leader connection ping (default: "2s")

  METRICS_ENABLED            Enable Prometheus metrics (default: "false")
  METRICS_PATH               Metrics endpoint path (default: "/metrics")
  METRICS_PORT               Metrics server port (default: "9090")

  LOG_LEVEL                  Log level (default: "info")`)
}

// logConfigWarnings logs non-fatal configuration observations at startup.
func logConfigWarnings(logger zerolog.Logger, cfg config.Config) {
	for _, w := range config.Warnings(cfg) {
		logger.Warn().Msg(w)
	}
}

func openDB(cfg config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DBOpTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return db, nil
}

func runServe() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	xlog.Configure(xlog.Config{Level: cfg.LogLevel})
	logger := xlog.WithComponent("pipeline")
	logConfigWarnings(logger, cfg)

	var triggers []domain.ScheduledTrigger
	if cfg.SchedulesFile != "" {
		var err error
		triggers, err = scheduler.LoadFile(cfg.SchedulesFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "schedules error: %v\n", err)
			return exitInvalidConfig
		}
		logger.Info().Str("file", cfg.SchedulesFile).Int("schedules", len(triggers)).Msg("schedules loaded")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var sink metrics.Sink = metrics.NewNoopSink()
	var metricsServer *http.Server
	if cfg.MetricsEnabled {
		sink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)

		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.MetricsPath, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		logger.Info().Int("port", cfg.MetricsPort).Str("path", cfg.MetricsPath).Msg("metrics enabled")
	} else {
		logger.Info().Msg("METRICS_ENABLED not set; metrics disabled")
	}

	var (
		db    *sql.DB
		store *postgres.Store
		admin worker.AdministrationService
	)
	if cfg.DatabaseURL != "" {
		var err error
		db, err = openDB(cfg)
		if err != nil {
			logger.Error().Err(err).Msg("database unavailable")
			return exitRuntimeError
		}
		defer db.Close()
		logger.Info().
			Int("max_open", cfg.DBMaxOpenConns).
			Int("max_idle", cfg.DBMaxIdleConns).
			Dur("max_lifetime", cfg.DBConnMaxLifetime).
			Msg("db pool configured")

		store = postgres.New(db, cfg.DBOpTimeout)
		admin = store
	} else {
		logger.Info().Msg("DATABASE_URL not set; definition checks and leader election disabled")
	}

	breaker := circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown)
	engine := evaluator.NewWebhookEngine(cfg.EvaluatorURL, cfg.EvaluatorSecret, cfg.EvaluatorTimeout, evaluator.NewHTTPSender()).
		WithCircuitBreaker(breaker).
		WithMetrics(sink)

	pool := worker.New(admin).
		WithRuleEvaluationEngine(engine).
		WithMetrics(sink).
		SetNumberOfWorkerThreads(cfg.WorkerThreads).
		SetSubmissionWaitTimeSeconds(cfg.SubmissionWaitSeconds)

	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		pool.WithAnalytics(analytics.NewRedisSink(redisClient, domain.AnalyticsConfig{
			Enabled:   true,
			Window:    cfg.AnalyticsWindow,
			Retention: cfg.AnalyticsRetention,
		}))
		logger.Info().Str("redis", cfg.RedisAddr).Msg("analytics enabled")
	} else {
		logger.Info().Msg("REDIS_ADDR not set; analytics disabled")
	}

	if err := pool.Start(); err != nil {
		logger.Error().Err(err).Msg("worker failed to start")
		return exitRuntimeError
	}

	handler := api.NewHandler(pool).WithRateLimit(cfg.SubmitRateLimit)
	if store != nil {
		handler = handler.WithDefinitions(store).WithHealthChecker(db)
	}
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return shutdownServer(httpServer, cfg.HTTPShutdownTimeout)
	})

	if metricsServer != nil {
		g.Go(func() error {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			return shutdownServer(metricsServer, cfg.HTTPShutdownTimeout)
		})
	}

	if len(triggers) > 0 {
		sched := scheduler.New(
			scheduler.Config{TickInterval: cfg.TickInterval},
			scheduler.StaticSource(triggers),
			&cronParserAdapter{parser: cron.NewParser()},
			pool,
		).WithMetrics(sink)

		if cfg.LeaderElectionEnabled() {
			elector := newSchedulerElector(cfg, db, sched, sink)
			g.Go(func() error {
				elector.Run(gctx)
				return nil
			})
		} else {
			g.Go(func() error {
				return ignoreCanceled(sched.Run(gctx))
			})
		}
	}

	logger.Info().
		Int("slots", cfg.WorkerThreads).
		Int("wait_seconds", cfg.SubmissionWaitSeconds).
		Str("evaluator", cfg.EvaluatorURL).
		Msg("started")

	exit := exitSuccess
	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("shutting down after error")
		exit = exitRuntimeError
	} else {
		logger.Info().Msg("received signal, shutting down")
	}

	// Scheduler and HTTP servers are stopped; let admitted events finish.
	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer cancel()
	if err := pool.Shutdown(drainCtx); err != nil {
		logger.Warn().Err(err).Msg("worker did not drain before timeout")
	}

	logger.Info().Msg("stopped")
	return exit
}

// newSchedulerElector runs sched only while this instance holds the
// advisory lock.
func newSchedulerElector(cfg config.Config, db *sql.DB, sched *scheduler.Scheduler, sink metrics.Sink) *leaderelection.Elector {
	var (
		mu     sync.Mutex
		cancel context.CancelFunc
		done   chan struct{}
	)

	onElected := func(ctx context.Context) {
		mu.Lock()
		defer mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		schedCtx, schedCancel := context.WithCancel(ctx)
		cancel = schedCancel
		done = make(chan struct{})
		go func(done chan struct{}) {
			defer close(done)
			_ = sched.Run(schedCtx)
		}(done)
	}

	onDemoted := func() {
		mu.Lock()
		defer mu.Unlock()
		if cancel == nil {
			return
		}
		cancel()
		<-done
		cancel = nil
	}

	return leaderelection.New(
		leaderelection.NewPostgresLocker(db, cfg.LeaderLockKey),
		cfg.LeaderRetryInterval,
		cfg.LeaderHeartbeatInterval,
		onElected,
		onDemoted,
	).WithMetrics(sink)
}

func shutdownServer(srv *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown %s: %w", srv.Addr, err)
	}
	return nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runValidate() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	if cfg.SchedulesFile != "" {
		triggers, err := scheduler.LoadFile(cfg.SchedulesFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return exitInvalidConfig
		}
		if err := checkSchedules(triggers, &cronParserAdapter{parser: cron.NewParser()}); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return exitInvalidConfig
		}
	}

	for _, w := range config.Warnings(cfg) {
		fmt.Println("warning: " + w)
	}
	fmt.Println("configuration valid")
	return exitSuccess
}

// checkSchedules parses every cron expression so validate reports them
// before serve would.
func checkSchedules(triggers []domain.ScheduledTrigger, parser scheduler.CronParser) error {
	var problems []string
	for _, t := range triggers {
		if _, err := parser.Parse(t.CronExpression, t.Timezone); err != nil {
			problems = append(problems, fmt.Sprintf("schedule %q: %v", t.Name, err))
		}
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

func runConfig() int {
	cfg := config.Load()

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(string(data))
	return exitSuccess
}

func runMigrate() int {
	return withStore(func(ctx context.Context, store *postgres.Store) error {
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		fmt.Println("schema up to date")
		return nil
	})
}

func runDefine(args []string) int {
	def, err := parseDefinitionArgs(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	return withStore(func(ctx context.Context, store *postgres.Store) error {
		created, err := store.CreateTriggerEventDefinition(ctx, def)
		if err != nil {
			return err
		}
		fmt.Printf("defined %s/%s (%s)\n", created.Service, created.Event, created.ID)
		return nil
	})
}

func runModes(args []string) int {
	def, err := parseDefinitionArgs(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	return withStore(func(ctx context.Context, store *postgres.Store) error {
		if err := store.SetAccessModes(ctx, def.Service, def.Event, def.AccessModes); err != nil {
			return err
		}
		fmt.Printf("updated %s/%s access modes: %v\n", def.Service, def.Event, def.AccessModes)
		return nil
	})
}

func runUndefine(args []string) int {
	service, event, err := parseDefinitionKey(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	return withStore(func(ctx context.Context, store *postgres.Store) error {
		if err := store.DeleteTriggerEventDefinition(ctx, service, event); err != nil {
			return err
		}
		fmt.Printf("removed %s/%s\n", service, event)
		return nil
	})
}

// withStore opens the definitions store from the environment and runs fn
// against it, mapping failures to exit codes.
func withStore(fn func(ctx context.Context, store *postgres.Store) error) int {
	cfg := config.Load()
	if cfg.DatabaseURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		return exitInvalidConfig
	}

	db, err := openDB(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitRuntimeError
	}
	defer db.Close()

	if err := fn(context.Background(), postgres.New(db, cfg.DBOpTimeout)); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitRuntimeError
	}
	return exitSuccess
}

// parseDefinitionKey parses "<service> <event>".
func parseDefinitionKey(args []string) (service, event string, err error) {
	if len(args) != 2 {
		return "", "", errors.New("usage: pipeline undefine <service> <event>")
	}
	if args[0] == "" || args[1] == "" {
		return "", "", errors.New("service and event must not be empty")
	}
	return args[0], args[1], nil
}

// parseDefinitionArgs parses "<service> <event> [access_mode...]".
func parseDefinitionArgs(args []string) (domain.TriggerEventDefinition, error) {
	if len(args) < 2 {
		return domain.TriggerEventDefinition{}, errors.New("usage: pipeline define|modes <service> <event> [access_mode...]")
	}
	def := domain.TriggerEventDefinition{Service: args[0], Event: args[1]}
	if def.Service == "" || def.Event == "" {
		return domain.TriggerEventDefinition{}, errors.New("service and event must not be empty")
	}
	for _, raw := range args[2:] {
		mode := domain.AccessMode(raw)
		if !mode.Valid() {
			return domain.TriggerEventDefinition{}, fmt.Errorf("unknown access mode %q", raw)
		}
		def.AccessModes = append(def.AccessModes, mode)
	}
	return def, nil
}

func runVersion() int {
	fmt.Printf("pipeline version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
