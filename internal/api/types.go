package api

import "time"

// EventRequest is the body of POST /events.
type EventRequest struct {
	ID           string            `json:"id"`
	Timestamp    int64             `json:"timestamp"` // unix millis
	Service      string            `json:"service"`
	Event        string            `json:"event"`
	Organization string            `json:"organization"`
	AccessMode   string            `json:"access_mode"`
	Context      map[string]string `json:"context,omitempty"`
}

type EventAcceptedResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type DefinitionResponse struct {
	ID          string   `json:"id"`
	Service     string   `json:"service"`
	Event       string   `json:"event"`
	AccessModes []string `json:"access_modes"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at"`
}

type ListDefinitionsResponse struct {
	Definitions []DefinitionResponse `json:"definitions"`
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Worker     string            `json:"worker"`
	Components map[string]string `json:"components,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
