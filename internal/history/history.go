package history

import (
	"context"
	"time"
)

// EventType defines the kind of history event.
type EventType string

const (
	// EventStatusChange is emitted when a tracked service changes status between polls.
	EventStatusChange EventType = "status_change"
	// EventCommand is emitted for every start/stop command issued.
	EventCommand EventType = "command"
	// EventConfigError is emitted when the service list could not be read.
	EventConfigError EventType = "config_error"
)

// Table is the relational table and default index/table name used by sinks.
const Table = "service_history"

// Event represents a monitor event to be exported to external systems.
type Event struct {
	Type        EventType `json:"type"`
	OccurredAt  time.Time `json:"occurred_at"`
	DisplayName string    `json:"display_name,omitempty"`
	Service     string    `json:"service,omitempty"`
	From        string    `json:"from,omitempty"`
	To          string    `json:"to,omitempty"`
	Action      string    `json:"action,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Nullable returns nil for an empty string so SQL sinks store NULL.
func Nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
