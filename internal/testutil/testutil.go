// Package testutil provides shared test helpers for act-triggers.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/texasrangers4/act-triggers/internal/domain"
)

// FakeClock provides deterministic time for testing.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
}

// NewFakeClock creates a FakeClock set to the given time.
func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{current: t}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

// Set moves the clock to t.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = t
}

// TestContext returns a context with a 5-second timeout.
// The context is cancelled when the test completes.
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// MustParseUUID parses a UUID string and panics on error.
// Only for use in tests.
func MustParseUUID(s string) uuid.UUID {
	id, err := uuid.Parse(s)
	if err != nil {
		panic("testutil.MustParseUUID: " + err.Error())
	}
	return id
}

// TestOrganization is the organization used by NewTriggerEvent.
var TestOrganization = MustParseUUID("0b7c8a52-6e1d-4f7a-9d3e-2c4b5a6f7e81")

// NewTriggerEvent returns a structurally valid event with a fresh ID.
// Callers mutate the result to build invalid variants.
func NewTriggerEvent() *domain.TriggerEvent {
	return &domain.TriggerEvent{
		ID:           uuid.New(),
		Timestamp:    time.Now().UnixMilli(),
		Service:      "billing",
		Event:        "invoice.paid",
		Organization: TestOrganization,
		AccessMode:   domain.AccessModePublic,
	}
}
