package auditlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/efojunior25/payment-system/internal/audit"
)

const schema = `
	CREATE TABLE IF NOT EXISTS audit_events (
		id String,
		entity_type LowCardinality(String),
		entity_id String,
		action LowCardinality(String),
		details String,
		timestamp DateTime64(3, 'UTC'),
		created_at DateTime DEFAULT now()
	) ENGINE = MergeTree()
	ORDER BY (entity_type, entity_id, timestamp)
`

// Repository stores audit events in ClickHouse.
type Repository struct {
	db *Client
}

func NewRepository(db *Client) *Repository {
	return &Repository{db: db}
}

// EnsureSchema creates the audit_events table if it does not exist.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if err := r.db.Conn().Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create audit_events table: %w", err)
	}
	return nil
}

// InsertEvent appends one event. Details are stored as a JSON document.
func (r *Repository) InsertEvent(ctx context.Context, event audit.Event) error {
	details := "{}"
	if len(event.Details) > 0 {
		b, err := json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal details of event %s: %w", event.ID, err)
		}
		details = string(b)
	}

	query := `
		INSERT INTO audit_events (id, entity_type, entity_id, action, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	err := r.db.Conn().Exec(ctx, query,
		event.ID,
		event.EntityType,
		event.EntityID,
		event.Action,
		details,
		event.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event %s: %w", event.ID, err)
	}
	return nil
}

// ListByEntity returns the events of one entity, most recent first.
// limit <= 0 returns all of them.
func (r *Repository) ListByEntity(ctx context.Context, entityType, entityID string, limit int) ([]audit.Event, error) {
	query := `
		SELECT id, entity_type, entity_id, action, details, timestamp
		FROM audit_events
		WHERE entity_type = ? AND entity_id = ?
		ORDER BY timestamp DESC
	`
	args := []any{entityType, entityID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.Conn().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events for %s %s: %w", entityType, entityID, err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var e audit.Event
		var details string
		if err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.Action, &details, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan audit event row: %w", err)
		}
		if details != "" && details != "{}" {
			if err := json.Unmarshal([]byte(details), &e.Details); err != nil {
				return nil, fmt.Errorf("failed to decode details of event %s: %w", e.ID, err)
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit event rows: %w", err)
	}
	return events, nil
}

// CountActionsSince counts events with the given action recorded at or after since.
func (r *Repository) CountActionsSince(ctx context.Context, action string, since time.Time) (uint64, error) {
	query := `SELECT count() FROM audit_events WHERE action = ? AND timestamp >= ?`

	var count uint64
	if err := r.db.Conn().QueryRow(ctx, query, action, since.UTC()).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count %s actions: %w", action, err)
	}
	return count, nil
}
