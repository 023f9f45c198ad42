package sinks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/review-harvester/internal/collect"
	"github.com/JakeFAU/review-harvester/internal/progress"
)

// Notification is the JSON payload published for completed entities and runs.
type Notification struct {
	RunID      string    `json:"run_id"`
	Stage      string    `json:"stage"`
	Slug       string    `json:"slug,omitempty"`
	Restaurant string    `json:"restaurant,omitempty"`
	PlaceID    string    `json:"place_id,omitempty"`
	Records    int64     `json:"records,omitempty"`
	Note       string    `json:"note,omitempty"`
	At         time.Time `json:"at"`
}

// NotifySink publishes downstream notifications when a restaurant's document
// is ready (ENTITY_DONE, RECOVERY_DONE) and when a run ends.
type NotifySink struct {
	pub    collect.Publisher
	topic  string
	logger *zap.Logger
}

// NewNotifySink builds a sink publishing to topic through pub.
func NewNotifySink(pub collect.Publisher, topic string, logger *zap.Logger) *NotifySink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotifySink{pub: pub, topic: topic, logger: logger}
}

// Consume publishes one message per notable event. Every event is attempted;
// failures are joined.
func (s *NotifySink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.pub == nil {
		return nil
	}
	var errs []error
	for _, evt := range batch {
		if !notable(evt.Stage) {
			continue
		}
		msg := Notification{
			RunID:      evt.RunUUID().String(),
			Stage:      string(evt.Stage),
			Slug:       evt.Slug,
			Restaurant: evt.Restaurant,
			PlaceID:    evt.PlaceID,
			Records:    evt.Records,
			Note:       evt.Note,
			At:         evt.TS,
		}
		id, err := s.pub.Publish(ctx, s.topic, msg)
		if err != nil {
			errs = append(errs, fmt.Errorf("publish %s %s: %w", evt.Stage, evt.Slug, err))
			continue
		}
		s.logger.Debug("notification published", zap.String("id", id), zap.String("stage", string(evt.Stage)))
	}
	return errors.Join(errs...)
}

func notable(stage progress.Stage) bool {
	switch stage {
	case progress.StageEntityDone, progress.StageRecoveryDone,
		progress.StageRunDone, progress.StageRunInterrupted, progress.StageRunFailed:
		return true
	}
	return false
}

// Close implements the Sink interface; it performs no action.
func (s *NotifySink) Close(context.Context) error {
	return nil
}
