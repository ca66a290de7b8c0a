package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/docpipe/docpipe/internal/progress"
)

// LogSink emits structured logs for debugging progress streams. It is useful
// during development or audits where a metrics backend is unavailable.
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
			zap.String("locator", evt.Locator),
			zap.String("milestone", string(evt.Milestone)),
			zap.Int64("bytes", evt.Bytes),
			zap.Int("images", evt.Images),
			zap.Duration("dur", evt.Dur),
			zap.String("note", evt.Note),
		}
		if evt.Failed() {
			s.logger.Warn("pipeline event", fields...)
			continue
		}
		s.logger.Info("pipeline event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
