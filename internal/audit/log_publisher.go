package audit

import (
	"context"

	"go.uber.org/zap"
)

// LogPublisher writes audit events to the process log.
// Used when no message broker is configured.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	if logger == nil {
		logger = zap.L()
	}
	return &LogPublisher{logger: logger.Named("audit")}
}

func (p *LogPublisher) Publish(_ context.Context, event Event) error {
	p.logger.Info("Audit event",
		zap.String("event_id", event.ID),
		zap.String("entity_type", event.EntityType),
		zap.String("entity_id", event.EntityID),
		zap.String("action", event.Action),
		zap.Any("details", event.Details),
		zap.Time("timestamp", event.Timestamp),
	)
	return nil
}
