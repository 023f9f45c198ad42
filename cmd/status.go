package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/review-harvester/internal/app"
	"github.com/JakeFAU/review-harvester/internal/store"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status RUN_ID [slug...]",
		Short: "Show recorded entity outcomes for a run",
		Long: `Reads the entity_runs rows written during a collect run with
progress.postgres_dsn set. With slugs, only those rows are shown.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("parse run id %q: %w", args[0], err)
			}
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			if rt.cfg.Progress.PostgresDSN == "" {
				return app.ErrNoRunStore
			}
			a, err := app.Build(cmd.Context(), rt.cfg, rt.logger)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := a.Close(context.WithoutCancel(cmd.Context())); cerr != nil {
					rt.logger.Warn("shutdown incomplete", zap.Error(cerr))
				}
			}()

			runs, err := a.RunStatus(cmd.Context(), runID, args[1:])
			for _, run := range runs {
				fmt.Fprintln(cmd.OutOrStdout(), formatEntityRun(run))
			}
			return err
		},
	}
	cmd.Flags().String("postgres-dsn", "", "entity run store DSN (overrides progress.postgres_dsn)")
	return cmd
}

func formatEntityRun(run store.EntityRun) string {
	finished := "-"
	if run.FinishedAt != nil {
		finished = run.FinishedAt.UTC().Format(time.RFC3339)
	}
	line := fmt.Sprintf("%s\tstatus=%s records=%d started=%s finished=%s",
		run.Slug, run.Status, run.Records, run.StartedAt.UTC().Format(time.RFC3339), finished)
	if run.ErrorMessage != nil {
		line += fmt.Sprintf(" error=%q", *run.ErrorMessage)
	}
	return line
}
