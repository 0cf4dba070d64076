package audit

import (
	"context"
	"time"
)

// Event is a single audit record for a mutating action on an account or payment.
type Event struct {
	ID         string         `json:"id"`
	EntityType string         `json:"entityType"`
	EntityID   string         `json:"entityId"`
	Action     string         `json:"action"`
	Details    map[string]any `json:"details,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Publisher delivers audit events to their destination.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}
