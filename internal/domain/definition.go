package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrDefinitionNotFound is returned by administration lookups for an
// unregistered (service, event) pair.
var ErrDefinitionNotFound = errors.New("trigger event definition not found")

// TriggerEventDefinition is administration metadata describing an event type
// a service is allowed to submit.
type TriggerEventDefinition struct {
	ID      uuid.UUID
	Service string
	Event   string

	// AccessModes lists the modes rules for this event may run under.
	AccessModes []AccessMode

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Allows reports whether events with the given access mode are permitted.
// An empty list permits every mode.
func (d TriggerEventDefinition) Allows(mode AccessMode) bool {
	if len(d.AccessModes) == 0 {
		return true
	}
	for _, m := range d.AccessModes {
		if m == mode {
			return true
		}
	}
	return false
}
