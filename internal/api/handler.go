// Package api exposes the worker pool over HTTP: event submission, pool
// metrics and health.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/texasrangers4/act-triggers/internal/domain"
	xlog "github.com/texasrangers4/act-triggers/internal/log"
	"github.com/texasrangers4/act-triggers/internal/metrics"
	"github.com/texasrangers4/act-triggers/internal/submission"
	"github.com/texasrangers4/act-triggers/internal/worker"
)

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

// retryAfterSeconds is advertised on 503 responses when no worker was free.
const retryAfterSeconds = "1"

// Pool is the subset of the worker pool the handler needs.
type Pool interface {
	SubmitContext(ctx context.Context, event *domain.TriggerEvent) error
	Metrics() metrics.Data
	State() worker.State
}

// Definitions looks up administration metadata. Optional: without it every
// (service, event) pair is accepted.
type Definitions interface {
	GetTriggerEventDefinition(ctx context.Context, service, event string) (domain.TriggerEventDefinition, error)
	ListTriggerEventDefinitions(ctx context.Context, limit, offset int) ([]domain.TriggerEventDefinition, error)
}

// HealthChecker provides database health status for the /health endpoint.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

type Handler struct {
	pool        Pool
	definitions Definitions
	db          HealthChecker
	rateLimit   int
	logger      zerolog.Logger
}

func NewHandler(pool Pool) *Handler {
	return &Handler{pool: pool, logger: xlog.WithComponent("api")}
}

// WithDefinitions enables the definition pre-check on POST /events and the
// GET /definitions listing.
func (h *Handler) WithDefinitions(defs Definitions) *Handler {
	h.definitions = defs
	return h
}

// WithHealthChecker sets the database health checker for verbose /health responses.
func (h *Handler) WithHealthChecker(db HealthChecker) *Handler {
	h.db = db
	return h
}

// WithRateLimit limits POST /events to n requests per minute per client IP.
func (h *Handler) WithRateLimit(n int) *Handler {
	h.rateLimit = n
	return h
}

func (h *Handler) WithLogger(logger zerolog.Logger) *Handler {
	h.logger = logger
	return h
}

// Router builds the HTTP routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)

	r.Get("/health", h.health)
	r.Get("/metrics/pool", h.poolMetrics)
	r.Get("/definitions", h.listDefinitions)
	r.With(rateLimit(h.rateLimit, time.Minute)).Post("/events", h.submitEvent)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "", "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "", "method not allowed")
	})
	return r
}

func (h *Handler) submitEvent(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "", "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "", "invalid json")
		return
	}

	event, err := toEvent(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "", err.Error())
		return
	}

	// Structural faults are reported before the definition lookup so the
	// store is never queried for a malformed event.
	if err := submission.Validate(event); err != nil {
		writeSubmissionError(w, err)
		return
	}

	if h.definitions != nil {
		def, err := h.definitions.GetTriggerEventDefinition(r.Context(), event.Service, event.Event)
		if errors.Is(err, domain.ErrDefinitionNotFound) {
			writeError(w, http.StatusUnprocessableEntity, "UnknownDefinition", "no definition for "+event.Service+"/"+event.Event)
			return
		}
		if err != nil {
			h.logger.Error().Err(err).Str("service", event.Service).Str("event", event.Event).Msg("definition lookup failed")
			writeError(w, http.StatusInternalServerError, "", "definition lookup failed")
			return
		}
		if !def.Allows(event.AccessMode) {
			writeError(w, http.StatusUnprocessableEntity, "AccessModeNotAllowed", "access mode "+string(event.AccessMode)+" not allowed for "+event.Service+"/"+event.Event)
			return
		}
	}

	if err := h.pool.SubmitContext(r.Context(), event); err != nil {
		if submission.CodeOf(err) == submission.NotRunning {
			h.logger.Error().Err(err).Msg("submission while worker not running")
		}
		writeSubmissionError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, EventAcceptedResponse{ID: event.ID.String(), Status: "accepted"})
}

func writeSubmissionError(w http.ResponseWriter, err error) {
	var se *submission.Error
	if !errors.As(err, &se) {
		writeError(w, http.StatusInternalServerError, "", "submission failed")
		return
	}

	switch {
	case se.IsValidation():
		writeError(w, http.StatusBadRequest, string(se.Code), se.Message)
	case se.Retryable():
		w.Header().Set("Retry-After", retryAfterSeconds)
		writeError(w, http.StatusServiceUnavailable, string(se.Code), se.Message)
	default:
		writeError(w, http.StatusInternalServerError, string(se.Code), se.Message)
	}
}

func (h *Handler) poolMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.pool.Metrics())
}

func (h *Handler) listDefinitions(w http.ResponseWriter, r *http.Request) {
	if h.definitions == nil {
		writeError(w, http.StatusNotFound, "", "definitions store not configured")
		return
	}

	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "", err.Error())
		return
	}

	defs, err := h.definitions.ListTriggerEventDefinitions(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error().Err(err).Msg("list definitions failed")
		writeError(w, http.StatusInternalServerError, "", "failed to list definitions")
		return
	}

	resp := ListDefinitionsResponse{Definitions: make([]DefinitionResponse, len(defs))}
	for i, def := range defs {
		resp.Definitions[i] = toDefinitionResponse(def)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	state := h.pool.State()
	resp := HealthResponse{Status: "ok", Worker: state.String()}
	if state != worker.StateRunning {
		resp.Status = "unavailable"
	}

	if r.URL.Query().Get("verbose") == "true" && h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		resp.Components = make(map[string]string)
		if err := h.db.PingContext(ctx); err != nil {
			if resp.Status == "ok" {
				resp.Status = "degraded"
			}
			resp.Components["database"] = "unhealthy: " + err.Error()
		} else {
			resp.Components["database"] = "healthy"
		}
	}

	statusCode := http.StatusOK
	if resp.Status != "ok" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger := xlog.WithComponent("api")
		logger.Error().Err(err).Msg("json encode failed")
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg, Code: code})
}
