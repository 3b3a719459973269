package sink

import (
	"context"

	"go.uber.org/zap"

	"civic-issue-tracker/services/report-service/lifecycle"
)

// Log writes one debug line per committed event.
type Log struct {
	Logger *zap.Logger
}

func (l Log) Emit(_ context.Context, evs []lifecycle.Event) {
	for _, ev := range evs {
		fields := []zap.Field{
			zap.String("action", string(ev.Audit.Action)),
			zap.String("resource_type", ev.Audit.ResourceType),
			zap.Int64("resource_id", ev.Audit.ResourceID),
		}
		if ev.ToStatus != "" {
			fields = append(fields, zap.String("from", string(ev.FromStatus)), zap.String("to", string(ev.ToStatus)))
		}
		l.Logger.Debug("lifecycle event", fields...)
	}
}
