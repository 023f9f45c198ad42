package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/review-harvester/internal/app"
)

const shutdownTimeout = 15 * time.Second

func newCollectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Run the scraper over every restaurant in the dataset",
		Long: `Materializes a config for each restaurant and runs the worker once per
restaurant, sequentially. A non-zero worker exit stops the run. Ctrl-C stops
the run and rewrites the documents of restaurants already collected.`,
		Args: cobra.NoArgs,
		RunE: runCollect,
	}
	f := cmd.Flags()
	f.String("dataset", "", "restaurant CSV (overrides paths.dataset)")
	f.String("template", "", "worker config template (overrides paths.template)")
	f.String("output-dir", "", "result root (overrides paths.output_dir)")
	f.String("configs-dir", "", "generated config directory (overrides paths.configs_dir)")
	f.Bool("skip-existing", false, "skip restaurants that already have a result document")
	f.Int("limit", 0, "process only the first N restaurants (0 = all)")
	f.Bool("include-in-flight", false, "also recover the restaurant whose worker was interrupted")
	f.String("metrics-addr", "", "serve /metrics and /healthz on this address")
	f.String("metrics-textfile", "", "write Prometheus metrics to this file on exit")
	f.Bool("dev", true, "development (console) logging")
	return cmd
}

func runCollect(cmd *cobra.Command, _ []string) error {
	rt, err := resolveRuntime(cmd.Context())
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, rt.cfg, rt.logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if cerr := a.Close(closeCtx); cerr != nil {
			rt.logger.Warn("shutdown incomplete", zap.Error(cerr))
		}
	}()

	summary, err := a.Collect(ctx)
	if summary.Interrupted {
		rt.logger.Info("run interrupted",
			zap.Strings("collected", summary.Collected),
			zap.Int("recovered", len(summary.Recovered)),
			zap.String("in_flight", summary.InFlight),
		)
	}
	if err != nil {
		return fmt.Errorf("collect: %w", err)
	}
	rt.logger.Info("run finished",
		zap.String("run_id", summary.RunID),
		zap.Int("attempted", summary.Attempted),
		zap.Int("skipped", summary.Skipped),
		zap.Int("collected", len(summary.Collected)),
		zap.Duration("duration", summary.Duration),
	)
	return nil
}
