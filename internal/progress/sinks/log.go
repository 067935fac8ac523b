package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/runwatch/internal/progress"
)

// LogSink emits structured logs for every tracker transition. It is useful
// during development or when no metrics backend is scraping the process.
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

// Consume logs each event in the batch using structured fields. Fetch
// failures are logged at warn level, everything else at info.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.Int64("run_id", evt.RunID),
			zap.String("stage", string(evt.Stage)),
			zap.String("status", string(evt.Status)),
			zap.Int("step", evt.Step),
			zap.Duration("elapsed", evt.Elapsed),
		}
		if evt.Resource != "" {
			fields = append(fields, zap.String("resource", evt.Resource))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		level := zapcore.InfoLevel
		if evt.Stage == progress.StageFetchFailed {
			level = zapcore.WarnLevel
		}
		s.logger.Log(level, "progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
