package audit

import (
	"context"

	"go.uber.org/zap"
)

// LogRecorder writes audit events to the structured log. It is the default
// recorder wired by the orchestrator when no platform recorder is supplied.
type LogRecorder struct {
	logger *zap.SugaredLogger
}

// NewLogRecorder creates a recorder backed by the given logger.
func NewLogRecorder(logger *zap.SugaredLogger) *LogRecorder {
	return &LogRecorder{logger: logger.Named("audit")}
}

func (r *LogRecorder) Record(ctx context.Context, jobID string, kind EventKind, payload any) error {
	r.logger.Infow("Audit event",
		"job_id", jobID,
		"kind", kind,
		"payload", payload,
	)
	return nil
}
