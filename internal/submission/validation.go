package submission

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/texasrangers4/act-triggers/internal/domain"
)

// Validate checks the structural well-formedness of an event and returns the
// first failing condition.
func Validate(event *domain.TriggerEvent) error {
	if event == nil {
		return newError(MissingEvent, "event is required")
	}
	if event.ID == uuid.Nil {
		return newError(MissingIdentifier, "id is required")
	}
	if event.Timestamp <= 0 {
		return newError(InvalidTimestamp, fmt.Sprintf("timestamp must be positive, got %d", event.Timestamp))
	}
	if event.Service == "" {
		return newError(MissingService, "service is required")
	}
	if event.Event == "" {
		return newError(MissingEventType, "event is required")
	}
	if event.Organization == uuid.Nil {
		return newError(MissingOrganization, "organization is required")
	}
	if event.AccessMode == "" {
		return newError(MissingAccessMode, "access mode is required")
	}
	if !event.AccessMode.Valid() {
		return newError(MissingAccessMode, fmt.Sprintf("unknown access mode %q", event.AccessMode))
	}
	return nil
}
