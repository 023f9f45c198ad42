// Package app builds and owns the long-lived services behind one CLI
// invocation: progress hub and sinks, archive backend, entity run store,
// publisher, metrics listener and the orchestrator itself.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/JakeFAU/review-harvester/internal/collect"
	"github.com/JakeFAU/review-harvester/internal/config"
	"github.com/JakeFAU/review-harvester/internal/dataset"
	"github.com/JakeFAU/review-harvester/internal/hash/sha256"
	"github.com/JakeFAU/review-harvester/internal/metrics"
	"github.com/JakeFAU/review-harvester/internal/orchestrator"
	"github.com/JakeFAU/review-harvester/internal/progress"
	progresssinks "github.com/JakeFAU/review-harvester/internal/progress/sinks"
	gcppublisher "github.com/JakeFAU/review-harvester/internal/publisher/pubsub"
	"github.com/JakeFAU/review-harvester/internal/recovery"
	"github.com/JakeFAU/review-harvester/internal/runconfig"
	gcsstorage "github.com/JakeFAU/review-harvester/internal/storage/gcs"
	localstorage "github.com/JakeFAU/review-harvester/internal/storage/local"
	memorystorage "github.com/JakeFAU/review-harvester/internal/storage/memory"
	pgstore "github.com/JakeFAU/review-harvester/internal/storage/postgres"
	"github.com/JakeFAU/review-harvester/internal/store"
	"github.com/JakeFAU/review-harvester/internal/worker"
)

var (
	// ErrNoRunStore is returned by RunStatus when progress.postgres_dsn is unset.
	ErrNoRunStore = errors.New("entity run store not configured (progress.postgres_dsn)")
	// ErrUnknownSlug marks a slug named for recovery that has no result directory.
	ErrUnknownSlug = errors.New("no result directory for slug")
)

type entityRunStore interface {
	store.EntityRunRepository
	Close()
}

// App contains the dependencies of one harvester invocation.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	layout   collect.Layout
	registry *prometheus.Registry

	hub          *progress.Hub
	archiver     collect.Archiver
	gcs          *gcsstorage.BlobStore
	runStore     entityRunStore
	publisher    *gcppublisher.Publisher
	recovery     *recovery.Manager
	orchestrator *orchestrator.Orchestrator

	metricsStop func()
	metricsDone chan error
}

// Build wires every service described by cfg. On error, anything already
// opened is closed.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		layout: collect.Layout{
			OutputDir:  cfg.Paths.OutputDir,
			ConfigsDir: cfg.Paths.ConfigsDir,
		},
	}
	defer func() {
		if err != nil {
			a.closeInfrastructure(context.Background())
		}
	}()

	a.logger.Info("building harvester",
		zap.String("dataset", cfg.Paths.Dataset),
		zap.String("template", cfg.Paths.Template),
		zap.String("output_dir", cfg.Paths.OutputDir),
		zap.Strings("worker", cfg.Worker.Command),
	)
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if err = setupArchive(ctx, a); err != nil {
		return nil, err
	}
	if err = setupProgress(ctx, a); err != nil {
		return nil, err
	}
	if err = setupOrchestrator(a); err != nil {
		return nil, err
	}
	if err = setupMetrics(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Registry exposes the run's Prometheus registry.
func (a *App) Registry() *prometheus.Registry {
	return a.registry
}

// Collect loads the dataset and runs the orchestrator over it.
func (a *App) Collect(ctx context.Context) (collect.Summary, error) {
	res, err := dataset.Load(a.cfg.Paths.Dataset, dataset.Options{
		NameColumn: a.cfg.Dataset.NameColumn,
		IDColumn:   a.cfg.Dataset.IDColumn,
		Delimiter:  a.cfg.Dataset.DelimiterRune(),
	})
	if err != nil {
		return collect.Summary{}, err
	}
	if res.Skipped > 0 {
		a.logger.Warn("dataset rows skipped for missing name or id", zap.Int("skipped", res.Skipped))
	}
	a.logger.Info("dataset loaded", zap.Int("restaurants", len(res.Entities)))
	return a.orchestrator.Run(ctx, res.Entities)
}

// Recover persists the named slugs, or every slug directory holding a result
// document when slugs is empty. A named slug without a result directory is
// reported as ErrUnknownSlug and nothing is written for it. All slugs are
// attempted; errors are joined.
func (a *App) Recover(ctx context.Context, slugs []string) ([]collect.PersistResult, error) {
	named := len(slugs) > 0
	if !named {
		found, err := a.discoverSlugs()
		if err != nil {
			return nil, err
		}
		slugs = found
	}
	var (
		results []collect.PersistResult
		errs    []error
	)
	for _, s := range slugs {
		if named {
			if info, err := os.Stat(a.layout.Dir(s)); err != nil || !info.IsDir() {
				errs = append(errs, fmt.Errorf("recover %s: %w", s, ErrUnknownSlug))
				continue
			}
		}
		res, err := a.recovery.Persist(ctx, s)
		if err != nil {
			errs = append(errs, fmt.Errorf("recover %s: %w", s, err))
			continue
		}
		a.logger.Info("recovered", zap.String("slug", s), zap.Int("kept", res.Kept), zap.Bool("backed_up", res.BackedUp))
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

// RunStatus reads the entity rows recorded for runID: every row of the run
// when slugs is empty, otherwise the named rows in order.
func (a *App) RunStatus(ctx context.Context, runID uuid.UUID, slugs []string) ([]store.EntityRun, error) {
	if a.runStore == nil {
		return nil, ErrNoRunStore
	}
	if len(slugs) == 0 {
		runs, err := a.runStore.ListRun(ctx, runID)
		if err != nil {
			return nil, fmt.Errorf("list run %s: %w", runID, err)
		}
		return runs, nil
	}
	runs := make([]store.EntityRun, 0, len(slugs))
	for _, s := range slugs {
		run, err := a.runStore.GetEntity(ctx, runID, s)
		if err != nil {
			return runs, fmt.Errorf("entity %s in run %s: %w", s, runID, err)
		}
		runs = append(runs, run)
	}
	return runs, nil
}

func (a *App) discoverSlugs() ([]string, error) {
	entries, err := os.ReadDir(a.layout.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("list output dir: %w", err)
	}
	var slugs []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(a.layout.DocumentPath(e.Name())); err == nil {
			slugs = append(slugs, e.Name())
		}
	}
	return slugs, nil
}

// Close flushes progress, writes the metrics textfile and releases clients.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			errs = append(errs, err)
		}
		a.hub = nil
	}
	if a.cfg.Metrics.Textfile != "" {
		if err := metrics.WriteTextfile(a.cfg.Metrics.Textfile, a.registry); err != nil {
			errs = append(errs, err)
		} else {
			a.logger.Info("metrics textfile written", zap.String("path", a.cfg.Metrics.Textfile))
		}
	}
	a.closeInfrastructure(ctx)
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	return errors.Join(errs...)
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
		a.hub = nil
	}
	if a.metricsStop != nil {
		a.metricsStop()
		if err := <-a.metricsDone; err != nil {
			a.logger.Warn("metrics listener stopped with error", zap.Error(err))
		}
		a.metricsStop = nil
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
		}
		a.publisher = nil
	}
	if a.runStore != nil {
		a.runStore.Close()
		a.runStore = nil
	}
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
		a.gcs = nil
	}
}

func setupArchive(ctx context.Context, a *App) error {
	archive := a.cfg.Recovery.Archive
	var err error
	switch archive.Provider {
	case config.ArchiveGCS:
		a.gcs, err = gcsstorage.Open(ctx, gcsstorage.Config{Bucket: archive.GCSBucket})
		if err != nil {
			return fmt.Errorf("gcs archive init failed: %w", err)
		}
		a.archiver = a.gcs
		a.logger.Info("archiving recovered documents to GCS", zap.String("bucket", archive.GCSBucket))
	case config.ArchiveLocal:
		a.archiver, err = localstorage.New(localstorage.Config{BaseDir: archive.BaseDir})
		if err != nil {
			return fmt.Errorf("local archive init failed: %w", err)
		}
		a.logger.Info("archiving recovered documents locally", zap.String("path", archive.BaseDir))
	case config.ArchiveMemory:
		a.archiver = memorystorage.NewBlobStore()
		a.logger.Debug("archiving recovered documents in memory")
	default:
		a.logger.Debug("recovery archive disabled")
	}

	var opts []recovery.Option
	if a.archiver != nil {
		opts = append(opts, recovery.WithArchiver(a.archiver, archive.Prefix))
	}
	a.recovery = recovery.New(a.layout, a.logger.Named("recovery"), opts...)
	return nil
}

func setupProgress(ctx context.Context, a *App) error {
	promSink, err := progresssinks.NewPrometheusSink(a.registry)
	if err != nil {
		return fmt.Errorf("prometheus sink init failed: %w", err)
	}
	sinkList := []progress.Sink{promSink}

	if a.cfg.Progress.LogEvents {
		sinkList = append(sinkList, progresssinks.NewLogSink(a.logger.Named("progress_log")))
	}
	if dsn := a.cfg.Progress.PostgresDSN; dsn != "" {
		pg, err := pgstore.Open(ctx, pgstore.Config{DSN: dsn})
		if err != nil {
			return fmt.Errorf("entity run store init failed: %w", err)
		}
		a.runStore = pg
		if err := pg.EnsureSchema(ctx); err != nil {
			return err
		}
		sinkList = append(sinkList, progresssinks.NewStoreSink(a.runStore, a.logger.Named("progress_store")))
		a.logger.Info("entity run store initialized")
	}
	if project := a.cfg.Progress.PubSubProject; project != "" {
		a.publisher, err = gcppublisher.Open(ctx, project, a.cfg.Progress.PubSubTopic)
		if err != nil {
			return fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		sinkList = append(sinkList, progresssinks.NewNotifySink(
			a.publisher, a.cfg.Progress.PubSubTopic, a.logger.Named("progress_notify")))
		a.logger.Info("Pub/Sub notifications enabled",
			zap.String("project", project),
			zap.String("topic", a.cfg.Progress.PubSubTopic),
		)
	}

	a.hub = progress.NewHub(progress.Config{
		BaseContext: context.WithoutCancel(ctx),
		Logger:      a.logger.Named("progress_hub"),
	}, sinkList...)
	return nil
}

func setupOrchestrator(a *App) error {
	mat, err := runconfig.New(runconfig.Config{
		TemplatePath: a.cfg.Paths.Template,
		URLPattern:   a.cfg.Target.URLPattern,
		Layout:       a.layout,
	}, sha256.New(), a.logger.Named("runconfig"))
	if err != nil {
		return err
	}
	sup, err := worker.New(worker.Config{
		Command:           a.cfg.Worker.Command,
		ConfigFlag:        a.cfg.Worker.ConfigFlag,
		Env:               a.cfg.Worker.Env,
		SignalOnInterrupt: a.cfg.Worker.SignalOnInterrupt,
		InterruptGrace:    a.cfg.Worker.InterruptGrace(),
	}, a.logger.Named("worker"))
	if err != nil {
		return err
	}
	a.orchestrator, err = orchestrator.New(orchestrator.Config{
		Layout:          a.layout,
		IncludeInFlight: a.cfg.Recovery.IncludeInFlight,
		SkipExisting:    a.cfg.Run.SkipExisting,
		Limit:           a.cfg.Run.Limit,
	}, mat, sup, a.recovery, a.logger.Named("orchestrator"), orchestrator.WithEmitter(a.hub))
	return err
}

func setupMetrics(ctx context.Context, a *App) error {
	addr := a.cfg.Metrics.ListenAddr
	if addr == "" {
		return nil
	}
	srv, err := metrics.NewServer(a.registry, a.logger.Named("metrics"))
	if err != nil {
		return err
	}
	mctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.metricsStop = cancel
	a.metricsDone = make(chan error, 1)
	go func() {
		a.metricsDone <- srv.ListenAndServe(mctx, addr)
	}()
	return nil
}
