package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/texasrangers4/act-triggers/internal/domain"
)

// Pagination defaults and limits.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// toEvent converts the request body to a domain event. Empty identifiers map
// to uuid.Nil so the worker's validation reports them as missing; only
// malformed identifiers are rejected here.
func toEvent(req EventRequest) (*domain.TriggerEvent, error) {
	id, err := parseOptionalUUID(req.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid id: %w", err)
	}
	org, err := parseOptionalUUID(req.Organization)
	if err != nil {
		return nil, fmt.Errorf("invalid organization: %w", err)
	}

	return &domain.TriggerEvent{
		ID:           id,
		Timestamp:    req.Timestamp,
		Service:      req.Service,
		Event:        req.Event,
		Organization: org,
		AccessMode:   domain.AccessMode(req.AccessMode),
		Context:      req.Context,
	}, nil
}

func parseOptionalUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, nil
	}
	return uuid.Parse(s)
}

func toDefinitionResponse(def domain.TriggerEventDefinition) DefinitionResponse {
	modes := make([]string, len(def.AccessModes))
	for i, m := range def.AccessModes {
		modes[i] = string(m)
	}
	return DefinitionResponse{
		ID:          def.ID.String(),
		Service:     def.Service,
		Event:       def.Event,
		AccessModes: modes,
		CreatedAt:   formatTime(def.CreatedAt),
		UpdatedAt:   formatTime(def.UpdatedAt),
	}
}

// parsePagination extracts and validates limit/offset query parameters.
// Returns DefaultLimit if limit is not specified, and 0 for offset if not specified.
func parsePagination(r *http.Request) (limit, offset int, err error) {
	limit = DefaultLimit

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid limit: %w", err)
		}
		if limit < 0 {
			return 0, 0, fmt.Errorf("limit must not be negative")
		}
		if limit > MaxLimit {
			return 0, 0, fmt.Errorf("limit exceeds maximum of %d", MaxLimit)
		}
		if limit == 0 {
			limit = DefaultLimit
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		offset, err = strconv.Atoi(offsetStr)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid offset: %w", err)
		}
		if offset < 0 {
			return 0, 0, fmt.Errorf("offset must not be negative")
		}
	}

	return limit, offset, nil
}
