package sinks

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/corpus-reconciler/internal/progress"
)

// LogSink emits one structured log line per event. Useful during development
// or audits where the run store is unavailable.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", uuid.UUID(evt.RunID).String()),
			zap.String("stage", string(evt.Stage)),
			zap.String("phase", string(evt.Phase)),
			zap.String("category", evt.Category),
			zap.Duration("dur", evt.Dur),
		}
		if evt.Stage == progress.StagePageDone || evt.Stage == progress.StagePageFailed {
			fields = append(fields, zap.Int("page", evt.Page), zap.Int64("items", evt.Items))
		}
		if evt.DocID != "" {
			fields = append(fields, zap.String("doc_id", evt.DocID))
		}
		if evt.Attempts > 0 {
			fields = append(fields, zap.Int("attempts", evt.Attempts))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Debug("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
