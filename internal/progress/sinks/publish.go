package sinks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/runwatch/internal/progress"
	"github.com/JakeFAU/runwatch/internal/runs"
)

// RunFinished is the notification payload published when a run is observed
// reaching a terminal status.
type RunFinished struct {
	RunID          int64       `json:"run_id"`
	Status         runs.Status `json:"status"`
	ObservedAt     time.Time   `json:"observed_at"`
	ElapsedSeconds float64     `json:"elapsed_seconds,omitempty"`
}

// PublishSink forwards terminal transitions to a Publisher. Other stages are
// ignored; downstream consumers only care about finished runs.
type PublishSink struct {
	publisher runs.Publisher
	topic     string
	logger    *zap.Logger
}

// NewPublishSink builds a sink publishing to topic.
func NewPublishSink(publisher runs.Publisher, topic string, logger *zap.Logger) (*PublishSink, error) {
	if publisher == nil {
		return nil, errors.New("publisher is required")
	}
	if topic == "" {
		return nil, errors.New("topic is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublishSink{publisher: publisher, topic: topic, logger: logger}, nil
}

// Consume publishes one message per terminal event and returns the first error.
func (s *PublishSink) Consume(ctx context.Context, batch []progress.Event) error {
	var firstErr error
	for _, evt := range batch {
		if evt.Stage != progress.StageRunTerminal {
			continue
		}
		msg := RunFinished{
			RunID:      evt.RunID,
			Status:     evt.Status,
			ObservedAt: evt.TS.UTC(),
		}
		if evt.Elapsed > 0 {
			msg.ElapsedSeconds = evt.Elapsed.Seconds()
		}
		id, err := s.publisher.Publish(ctx, s.topic, msg)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("publish run %d: %w", evt.RunID, err)
			}
			continue
		}
		s.logger.Debug("published run notification", zap.Int64("run_id", evt.RunID), zap.String("message_id", id))
	}
	return firstErr
}

// Close implements the Sink interface; it performs no action.
func (s *PublishSink) Close(context.Context) error {
	return nil
}
