package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/review-harvester/internal/progress"
	"github.com/JakeFAU/review-harvester/internal/store"
)

// StoreSink persists entity lifecycle rows via a store.EntityRunRepository.
type StoreSink struct {
	repo   store.EntityRunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.EntityRunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume applies entity events in order and stops at the first repository
// error. Run-level events are not persisted.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	for _, evt := range batch {
		if err := s.apply(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

func (s *StoreSink) apply(ctx context.Context, evt progress.Event) error {
	runID := evt.RunUUID()
	switch evt.Stage {
	case progress.StageEntityStart:
		err := s.repo.StartEntity(ctx, store.EntityRun{
			RunID:      runID,
			Slug:       evt.Slug,
			Restaurant: evt.Restaurant,
			PlaceID:    evt.PlaceID,
			StartedAt:  evt.TS,
		})
		if err != nil {
			return fmt.Errorf("start entity %s: %w", evt.Slug, err)
		}
	case progress.StageEntityDone:
		return s.complete(ctx, evt, store.RunSuccess)
	case progress.StageEntityError:
		return s.complete(ctx, evt, store.RunError)
	case progress.StageRecoveryDone:
		return s.complete(ctx, evt, store.RunRecovered)
	}
	return nil
}

func (s *StoreSink) complete(ctx context.Context, evt progress.Event, status store.RunStatus) error {
	var note *string
	if status == store.RunError && evt.Note != "" {
		msg := evt.Note
		note = &msg
	}
	err := s.repo.CompleteEntity(ctx, evt.RunUUID(), evt.Slug, evt.TS, status, evt.Records, note)
	if err != nil {
		return fmt.Errorf("complete entity %s: %w", evt.Slug, err)
	}
	s.logger.Debug("entity run persisted", zap.String("slug", evt.Slug), zap.String("status", string(status)))
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
