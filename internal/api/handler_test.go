package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/texasrangers4/act-triggers/internal/domain"
	"github.com/texasrangers4/act-triggers/internal/metrics"
	"github.com/texasrangers4/act-triggers/internal/submission"
	"github.com/texasrangers4/act-triggers/internal/testutil"
	"github.com/texasrangers4/act-triggers/internal/worker"
)

type fakePool struct {
	mu        sync.Mutex
	state     worker.State
	submitErr error
	submitted []*domain.TriggerEvent
}

func (p *fakePool) SubmitContext(ctx context.Context, event *domain.TriggerEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.submitErr != nil {
		return p.submitErr
	}
	p.submitted = append(p.submitted, event)
	return nil
}

func (p *fakePool) Metrics() metrics.Data {
	return metrics.NewData().WithSub(worker.MetricsGroup, metrics.NewData().
		With("totalCompletedTasks", 7).
		With("totalFailedTasks", 2))
}

func (p *fakePool) State() worker.State {
	return p.state
}

func (p *fakePool) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.submitted)
}

type fakeDefinitions struct {
	defs    map[string]domain.TriggerEventDefinition
	err     error
	lookups int
}

func (f *fakeDefinitions) GetTriggerEventDefinition(ctx context.Context, service, event string) (domain.TriggerEventDefinition, error) {
	f.lookups++
	if f.err != nil {
		return domain.TriggerEventDefinition{}, f.err
	}
	def, ok := f.defs[service+"/"+event]
	if !ok {
		return domain.TriggerEventDefinition{}, domain.ErrDefinitionNotFound
	}
	return def, nil
}

func (f *fakeDefinitions) ListTriggerEventDefinitions(ctx context.Context, limit, offset int) ([]domain.TriggerEventDefinition, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []domain.TriggerEventDefinition
	for _, d := range f.defs {
		out = append(out, d)
	}
	return out, nil
}

type fakeHealthChecker struct {
	err error
}

func (f fakeHealthChecker) PingContext(ctx context.Context) error {
	return f.err
}

func newTestHandler(pool Pool) *Handler {
	return NewHandler(pool).WithLogger(zerolog.Nop())
}

func validBody() string {
	ev := testutil.NewTriggerEvent()
	req := EventRequest{
		ID:           ev.ID.String(),
		Timestamp:    ev.Timestamp,
		Service:      ev.Service,
		Event:        ev.Event,
		Organization: ev.Organization.String(),
		AccessMode:   string(ev.AccessMode),
		Context:      map[string]string{"invoice": "inv_1"},
	}
	b, _ := json.Marshal(req)
	return string(b)
}

func postEvent(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestSubmitEvent_Accepted(t *testing.T) {
	pool := &fakePool{state: worker.StateRunning}
	rec := postEvent(t, newTestHandler(pool).Router(), validBody())

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp EventAcceptedResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "accepted", resp.Status)

	require.Equal(t, 1, pool.count())
	ev := pool.submitted[0]
	assert.Equal(t, resp.ID, ev.ID.String())
	assert.Equal(t, testutil.TestOrganization, ev.Organization)
	assert.Equal(t, "inv_1", ev.Context["invoice"])
}

func TestSubmitEvent_InvalidJSON(t *testing.T) {
	pool := &fakePool{state: worker.StateRunning}
	rec := postEvent(t, newTestHandler(pool).Router(), "{not json")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid json", decodeError(t, rec).Error)
	assert.Zero(t, pool.count())
}

func TestSubmitEvent_BodyTooLarge(t *testing.T) {
	pool := &fakePool{state: worker.StateRunning}
	body := `{"service":"` + strings.Repeat("a", maxRequestBodySize+1) + `"}`
	rec := postEvent(t, newTestHandler(pool).Router(), body)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestSubmitEvent_MalformedIdentifiers(t *testing.T) {
	pool := &fakePool{state: worker.StateRunning}
	h := newTestHandler(pool).Router()

	rec := postEvent(t, h, `{"id":"not-a-uuid","timestamp":1,"service":"s","event":"e","organization":"`+uuid.NewString()+`","access_mode":"Public"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeError(t, rec).Error, "invalid id")

	rec = postEvent(t, h, `{"id":"`+uuid.NewString()+`","timestamp":1,"service":"s","event":"e","organization":"nope","access_mode":"Public"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeError(t, rec).Error, "invalid organization")
}

func TestSubmitEvent_ValidationFaults(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*EventRequest)
		code   submission.ErrorCode
	}{
		{"missing id", func(r *EventRequest) { r.ID = "" }, submission.MissingIdentifier},
		{"zero timestamp", func(r *EventRequest) { r.Timestamp = 0 }, submission.InvalidTimestamp},
		{"missing service", func(r *EventRequest) { r.Service = "" }, submission.MissingService},
		{"missing event", func(r *EventRequest) { r.Event = "" }, submission.MissingEventType},
		{"missing organization", func(r *EventRequest) { r.Organization = "" }, submission.MissingOrganization},
		{"unknown access mode", func(r *EventRequest) { r.AccessMode = "Private" }, submission.MissingAccessMode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req EventRequest
			require.NoError(t, json.Unmarshal([]byte(validBody()), &req))
			tt.mutate(&req)
			body, _ := json.Marshal(req)

			defs := &fakeDefinitions{}
			pool := &fakePool{state: worker.StateRunning}
			rec := postEvent(t, newTestHandler(pool).WithDefinitions(defs).Router(), string(body))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, string(tt.code), decodeError(t, rec).Code)
			assert.Zero(t, pool.count())
			assert.Zero(t, defs.lookups, "store must not be queried for malformed events")
		})
	}
}

func TestSubmitEvent_NoResourcesAvailable(t *testing.T) {
	pool := &fakePool{
		state:     worker.StateRunning,
		submitErr: &submission.Error{Code: submission.NoResourcesAvailable, Message: "no worker became idle within 1s"},
	}
	rec := postEvent(t, newTestHandler(pool).Router(), validBody())

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, retryAfterSeconds, rec.Header().Get("Retry-After"))
	assert.Equal(t, string(submission.NoResourcesAvailable), decodeError(t, rec).Code)
}

func TestSubmitEvent_NotRunning(t *testing.T) {
	pool := &fakePool{
		state:     worker.StateStopped,
		submitErr: &submission.Error{Code: submission.NotRunning, Message: "worker state is stopped", Err: worker.ErrNotRunning},
	}
	rec := postEvent(t, newTestHandler(pool).Router(), validBody())

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, string(submission.NotRunning), decodeError(t, rec).Code)
	assert.Empty(t, rec.Header().Get("Retry-After"))
}

func TestSubmitEvent_UnclassifiedError(t *testing.T) {
	pool := &fakePool{state: worker.StateRunning, submitErr: errors.New("boom")}
	rec := postEvent(t, newTestHandler(pool).Router(), validBody())

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestSubmitEvent_Definitions(t *testing.T) {
	ev := testutil.NewTriggerEvent()
	key := ev.Service + "/" + ev.Event

	t.Run("unknown definition", func(t *testing.T) {
		pool := &fakePool{state: worker.StateRunning}
		defs := &fakeDefinitions{defs: map[string]domain.TriggerEventDefinition{}}
		rec := postEvent(t, newTestHandler(pool).WithDefinitions(defs).Router(), validBody())

		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, "UnknownDefinition", decodeError(t, rec).Code)
		assert.Zero(t, pool.count())
	})

	t.Run("access mode not allowed", func(t *testing.T) {
		pool := &fakePool{state: worker.StateRunning}
		defs := &fakeDefinitions{defs: map[string]domain.TriggerEventDefinition{
			key: {Service: ev.Service, Event: ev.Event, AccessModes: []domain.AccessMode{domain.AccessModeExplicit}},
		}}
		rec := postEvent(t, newTestHandler(pool).WithDefinitions(defs).Router(), validBody())

		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, "AccessModeNotAllowed", decodeError(t, rec).Code)
	})

	t.Run("defined", func(t *testing.T) {
		pool := &fakePool{state: worker.StateRunning}
		defs := &fakeDefinitions{defs: map[string]domain.TriggerEventDefinition{
			key: {Service: ev.Service, Event: ev.Event},
		}}
		rec := postEvent(t, newTestHandler(pool).WithDefinitions(defs).Router(), validBody())

		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Equal(t, 1, pool.count())
	})

	t.Run("store failure", func(t *testing.T) {
		pool := &fakePool{state: worker.StateRunning}
		defs := &fakeDefinitions{err: errors.New("connection refused")}
		rec := postEvent(t, newTestHandler(pool).WithDefinitions(defs).Router(), validBody())

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Zero(t, pool.count())
	})
}

func TestSubmitEvent_RateLimit(t *testing.T) {
	pool := &fakePool{state: worker.StateRunning}
	h := newTestHandler(pool).WithRateLimit(2).Router()

	assert.Equal(t, http.StatusAccepted, postEvent(t, h, validBody()).Code)
	assert.Equal(t, http.StatusAccepted, postEvent(t, h, validBody()).Code)

	rec := postEvent(t, h, validBody())
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, 2, pool.count())
}

func TestPoolMetrics(t *testing.T) {
	h := newTestHandler(&fakePool{state: worker.StateRunning}).Router()
	req := httptest.NewRequest(http.MethodGet, "/metrics/pool", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var data metrics.Data
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&data))
	group, ok := data.SubMetrics(worker.MetricsGroup)
	require.True(t, ok)
	assert.Equal(t, int64(7), group.Get("totalCompletedTasks"))
	assert.Equal(t, int64(2), group.Get("totalFailedTasks"))
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		state      worker.State
		db         HealthChecker
		query      string
		wantCode   int
		wantStatus string
	}{
		{"running", worker.StateRunning, nil, "", http.StatusOK, "ok"},
		{"stopped", worker.StateStopped, nil, "", http.StatusServiceUnavailable, "unavailable"},
		{"verbose healthy db", worker.StateRunning, fakeHealthChecker{}, "?verbose=true", http.StatusOK, "ok"},
		{"verbose failing db", worker.StateRunning, fakeHealthChecker{err: errors.New("down")}, "?verbose=true", http.StatusServiceUnavailable, "degraded"},
		{"non-verbose ignores db", worker.StateRunning, fakeHealthChecker{err: errors.New("down")}, "", http.StatusOK, "ok"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(&fakePool{state: tt.state})
			if tt.db != nil {
				h.WithHealthChecker(tt.db)
			}
			req := httptest.NewRequest(http.MethodGet, "/health"+tt.query, nil)
			rec := httptest.NewRecorder()
			h.Router().ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			var resp HealthResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Equal(t, tt.state.String(), resp.Worker)
		})
	}
}

func TestListDefinitions(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	def := domain.TriggerEventDefinition{
		ID:          uuid.New(),
		Service:     "billing",
		Event:       "invoice.paid",
		AccessModes: []domain.AccessMode{domain.AccessModePublic},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	defs := &fakeDefinitions{defs: map[string]domain.TriggerEventDefinition{"billing/invoice.paid": def}}
	h := newTestHandler(&fakePool{state: worker.StateRunning}).WithDefinitions(defs).Router()

	req := httptest.NewRequest(http.MethodGet, "/definitions", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp ListDefinitionsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Definitions, 1)
	assert.Equal(t, def.ID.String(), resp.Definitions[0].ID)
	assert.Equal(t, []string{"Public"}, resp.Definitions[0].AccessModes)
	assert.Equal(t, "2026-01-02T03:04:05Z", resp.Definitions[0].CreatedAt)

	req = httptest.NewRequest(http.MethodGet, "/definitions?limit=5000", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListDefinitions_NotConfigured(t *testing.T) {
	h := newTestHandler(&fakePool{state: worker.StateRunning}).Router()
	req := httptest.NewRequest(http.MethodGet, "/definitions", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_NotFoundAndMethod(t *testing.T) {
	h := newTestHandler(&fakePool{state: worker.StateRunning}).Router()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestWriteJSON_EncodeFailureKeepsStatus(t *testing.T) {
	rec := httptest.NewRecorder()

	writeJSON(rec, http.StatusOK, map[string]any{"bad": make(chan int)})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}
