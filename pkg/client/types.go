package client

import "time"

// Service is one tracked service as reported by the daemon.
type Service struct {
	DisplayName string    `json:"display_name"`
	Service     string    `json:"service"`
	Status      string    `json:"status"`
	Since       time.Time `json:"since"`
}

// ServicesResponse is the body of GET /services and POST /refresh.
type ServicesResponse struct {
	At          time.Time `json:"at"`
	ConfigError string    `json:"config_error,omitempty"`
	Services    []Service `json:"services"`
}

// ToggleResponse reports a toggle. OK is false when the command failed; the
// request itself still succeeded.
type ToggleResponse struct {
	Name   string `json:"name"`
	Action string `json:"action"`
	Before string `json:"before"`
	After  string `json:"after"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
}

// BulkItem is the outcome of one command in a bulk run.
type BulkItem struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// BulkResponse is the body of POST /start-all and /stop-all.
type BulkResponse struct {
	Action    string     `json:"action"`
	Total     int        `json:"total"`
	Succeeded int        `json:"succeeded"`
	Items     []BulkItem `json:"items"`
}

// ErrorResponse represents an error response from the API
type ErrorResponse struct {
	Error string `json:"error"`
}
