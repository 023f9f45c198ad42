package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/review-harvester/internal/progress"
)

// LogSink writes each progress event as a structured log line.
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

// Consume logs each event in the batch. Error stages log at Warn.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("stage", string(evt.Stage)),
		}
		if evt.Slug != "" {
			fields = append(fields,
				zap.String("slug", evt.Slug),
				zap.String("restaurant", evt.Restaurant),
				zap.String("place_id", evt.PlaceID),
			)
		}
		if evt.Stage == progress.StageRecoveryDone {
			fields = append(fields, zap.Int64("records", evt.Records), zap.Int64("dropped", evt.Dropped))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		switch evt.Stage {
		case progress.StageEntityError, progress.StageRunFailed:
			s.logger.Warn("progress event", fields...)
		default:
			s.logger.Info("progress event", fields...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
