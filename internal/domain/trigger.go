package domain

import (
	"time"

	"github.com/google/uuid"
)

// AccessMode controls who may see the objects produced by rules fired for an event.
type AccessMode string

const (
	AccessModePublic    AccessMode = "Public"
	AccessModeRoleBased AccessMode = "RoleBased"
	AccessModeExplicit  AccessMode = "Explicit"
)

// Valid reports whether m is one of the known access modes.
func (m AccessMode) Valid() bool {
	switch m {
	case AccessModePublic, AccessModeRoleBased, AccessModeExplicit:
		return true
	default:
		return false
	}
}

// TriggerEvent is one unit of work submitted to the pipeline.
// It is immutable once submitted.
type TriggerEvent struct {
	ID           uuid.UUID
	Timestamp    int64 // unix millis, must be > 0
	Service      string
	Event        string
	Organization uuid.UUID
	AccessMode   AccessMode

	// Context carries optional event payload forwarded to the evaluator as-is.
	Context map[string]string
}

// Time returns the event timestamp as a UTC time.
func (e TriggerEvent) Time() time.Time {
	return time.UnixMilli(e.Timestamp).UTC()
}
