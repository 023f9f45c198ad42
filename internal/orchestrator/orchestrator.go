package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/review-harvester/internal/clock/system"
	"github.com/JakeFAU/review-harvester/internal/collect"
	idgen "github.com/JakeFAU/review-harvester/internal/id/uuid"
	"github.com/JakeFAU/review-harvester/internal/progress"
	"github.com/JakeFAU/review-harvester/internal/slug"
)

// Config holds the run-level switches.
type Config struct {
	Layout collect.Layout
	// IncludeInFlight also recovers the restaurant whose worker was running
	// when the interruption arrived.
	IncludeInFlight bool
	// SkipExisting skips restaurants whose result document already exists.
	SkipExisting bool
	// Limit processes only the first N restaurants; 0 means all.
	Limit int
}

// Orchestrator wires the materializer, worker runner and recovery manager.
type Orchestrator struct {
	cfg          Config
	materializer collect.Materializer
	runner       collect.Runner
	persister    collect.Persister
	emitter      progress.Emitter
	clock        collect.Clock
	ids          collect.IDGenerator
	logger       *zap.Logger
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithEmitter sends lifecycle events to e.
func WithEmitter(e progress.Emitter) Option {
	return func(o *Orchestrator) {
		if e != nil {
			o.emitter = e
		}
	}
}

// WithClock overrides the time source.
func WithClock(c collect.Clock) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithIDGenerator overrides the run id source.
func WithIDGenerator(g collect.IDGenerator) Option {
	return func(o *Orchestrator) {
		if g != nil {
			o.ids = g
		}
	}
}

// New validates dependencies and returns an Orchestrator.
func New(
	cfg Config,
	materializer collect.Materializer,
	runner collect.Runner,
	persister collect.Persister,
	logger *zap.Logger,
	opts ...Option,
) (*Orchestrator, error) {
	switch {
	case materializer == nil:
		return nil, errors.New("orchestrator: materializer is required")
	case runner == nil:
		return nil, errors.New("orchestrator: runner is required")
	case persister == nil:
		return nil, errors.New("orchestrator: persister is required")
	case cfg.Limit < 0:
		return nil, errors.New("orchestrator: limit must be >= 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		cfg:          cfg,
		materializer: materializer,
		runner:       runner,
		persister:    persister,
		emitter:      progress.NopEmitter{},
		clock:        system.New(),
		ids:          idgen.New(),
		logger:       logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// run is the state of one orchestration pass.
type run struct {
	id        string
	eventID   [16]byte
	started   time.Time
	collected []string
	seen      map[string]struct{}
	inFlight  *collect.RunConfig
	summary   collect.Summary
	logger    *zap.Logger
}

// Run processes entities sequentially. ConfigError and WorkerFailure end the
// run immediately with no recovery. Cancelling ctx stops the loop and runs
// recovery over the CollectedSet; the summary is then marked Interrupted and
// the error is nil unless persisting failed.
func (o *Orchestrator) Run(ctx context.Context, entities []collect.Entity) (collect.Summary, error) {
	r, err := o.newRun()
	if err != nil {
		return collect.Summary{}, err
	}
	if o.cfg.Limit > 0 && len(entities) > o.cfg.Limit {
		entities = entities[:o.cfg.Limit]
	}
	r.logger.Info("run started", zap.Int("restaurants", len(entities)))
	o.emit(r, progress.Event{Stage: progress.StageRunStart, Note: fmt.Sprintf("%d restaurants", len(entities))})

	for _, entity := range entities {
		if ctx.Err() != nil {
			return o.interrupted(ctx, r)
		}
		err := o.process(ctx, r, entity)
		switch {
		case err == nil:
		case errors.Is(err, collect.ErrInterrupted):
			return o.interrupted(ctx, r)
		default:
			return o.failed(r, err)
		}
	}

	r.summary.Duration = o.elapsed(r.started)
	r.logger.Info("End of the scraping",
		zap.Int("attempted", r.summary.Attempted),
		zap.Int("skipped", r.summary.Skipped),
		zap.Duration("duration", r.summary.Duration),
	)
	o.emit(r, progress.Event{Stage: progress.StageRunDone, Dur: r.summary.Duration})
	return o.finish(r), nil
}

func (o *Orchestrator) newRun() (*run, error) {
	id, err := o.ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}
	eventID, err := progress.ParseRunID(id)
	if err != nil {
		eventID = progress.UUIDToBytes(uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)))
	}
	return &run{
		id:      id,
		eventID: eventID,
		started: o.clock.Now(),
		seen:    make(map[string]struct{}),
		summary: collect.Summary{RunID: id},
		logger:  o.logger.With(zap.String("run_id", id)),
	}, nil
}

// process handles one entity. A nil error means the loop continues.
func (o *Orchestrator) process(ctx context.Context, r *run, entity collect.Entity) error {
	s := slug.Make(entity.Name)
	logger := r.logger.With(
		zap.String("slug", s),
		zap.String("restaurant", entity.Name),
		zap.String("place_id", entity.ExternalID),
	)
	if _, dup := r.seen[s]; dup && s != "" {
		logger.Warn("duplicate slug in dataset; output directory is shared")
	}
	r.seen[s] = struct{}{}

	if o.cfg.SkipExisting && s != "" && o.documentExists(s) {
		r.summary.Skipped++
		logger.Info("result document exists; skipping")
		o.emit(r, entityEvent(progress.StageEntitySkipped, s, entity))
		return nil
	}

	rc, err := o.materializer.Materialize(entity)
	if err != nil {
		return fmt.Errorf("materialize %q: %w", entity.Name, err)
	}

	r.summary.Attempted++
	r.inFlight = &rc
	o.emit(r, entityEvent(progress.StageEntityStart, rc.Slug, entity))
	logger.Info("starting worker", zap.String("config_path", rc.Path))

	start := o.clock.Now()
	err = o.runner.Run(ctx, rc)
	dur := o.elapsed(start)
	if err != nil {
		if errors.Is(err, collect.ErrInterrupted) {
			return err
		}
		evt := entityEvent(progress.StageEntityError, rc.Slug, entity)
		evt.Dur = dur
		evt.Note = err.Error()
		o.emit(r, evt)
		return err
	}

	r.inFlight = nil
	r.collected = append(r.collected, rc.Slug)
	logger.Info(fmt.Sprintf("Successfully scraped %s", entity.Name), zap.Duration("dur", dur))
	evt := entityEvent(progress.StageEntityDone, rc.Slug, entity)
	evt.Dur = dur
	o.emit(r, evt)
	return nil
}

func (o *Orchestrator) documentExists(s string) bool {
	_, err := os.Stat(o.cfg.Layout.DocumentPath(s))
	return err == nil
}

func (o *Orchestrator) failed(r *run, err error) (collect.Summary, error) {
	r.summary.Duration = o.elapsed(r.started)
	r.logger.Error("run aborted", zap.Error(err))
	o.emit(r, progress.Event{Stage: progress.StageRunFailed, Dur: r.summary.Duration, Note: err.Error()})
	return o.finish(r), err
}

// interrupted runs recovery over the CollectedSet with a context that is no
// longer cancelled, so persistence is not cut short by the same signal.
func (o *Orchestrator) interrupted(ctx context.Context, r *run) (collect.Summary, error) {
	r.summary.Interrupted = true
	if r.inFlight != nil {
		r.summary.InFlight = r.inFlight.Slug
	}
	r.logger.Info("Already collected restaurants",
		zap.Strings("collected", r.collected),
		zap.String("in_flight", r.summary.InFlight),
	)

	targets := append([]string(nil), r.collected...)
	if o.cfg.IncludeInFlight && r.summary.InFlight != "" && !slices.Contains(targets, r.summary.InFlight) {
		targets = append(targets, r.summary.InFlight)
	}

	rctx := context.WithoutCancel(ctx)
	var errs []error
	for _, s := range targets {
		res, err := o.persister.Persist(rctx, s)
		if err != nil {
			r.logger.Error("recovery failed", zap.String("slug", s), zap.Error(err))
			errs = append(errs, fmt.Errorf("recover %s: %w", s, err))
			continue
		}
		r.summary.Recovered = append(r.summary.Recovered, res)
		r.logger.Info("recovered",
			zap.String("slug", s),
			zap.Int("kept", res.Kept),
			zap.Int("read", res.Read),
			zap.Bool("backed_up", res.BackedUp),
		)
		o.emit(r, progress.Event{
			Stage:   progress.StageRecoveryDone,
			Slug:    s,
			Records: int64(res.Kept),
			Dropped: int64(res.MissingKey + res.Duplicates),
			Note:    res.ArchiveURI,
		})
	}

	r.summary.Duration = o.elapsed(r.started)
	o.emit(r, progress.Event{Stage: progress.StageRunInterrupted, Dur: r.summary.Duration})
	return o.finish(r), errors.Join(errs...)
}

func (o *Orchestrator) finish(r *run) collect.Summary {
	r.summary.Collected = append([]string(nil), r.collected...)
	return r.summary
}

func (o *Orchestrator) emit(r *run, evt progress.Event) {
	evt.RunID = r.eventID
	evt.TS = o.clock.Now()
	o.emitter.Emit(evt)
}

func (o *Orchestrator) elapsed(start time.Time) time.Duration {
	d := o.clock.Now().Sub(start)
	if d < 0 {
		return 0
	}
	return d
}

func entityEvent(stage progress.Stage, s string, entity collect.Entity) progress.Event {
	return progress.Event{
		Stage:      stage,
		Slug:       s,
		Restaurant: entity.Name,
		PlaceID:    entity.ExternalID,
	}
}
