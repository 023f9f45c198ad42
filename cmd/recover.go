package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/review-harvester/internal/app"
)

func newRecoverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recover [slug...]",
		Short: "Deduplicate and rewrite result documents",
		Long: `Runs the recovery pass by hand: each named slug's document is deduplicated by
review_id, the previous version is kept as <slug>.json.bak and the result is
rewritten. With no arguments every slug directory holding a document is
processed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
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

			results, err := a.Recover(cmd.Context(), args)
			for _, res := range results {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tread=%d kept=%d missing_key=%d duplicates=%d backup=%t\n",
					res.Slug, res.Read, res.Kept, res.MissingKey, res.Duplicates, res.BackedUp)
			}
			if err != nil {
				return fmt.Errorf("recover: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().String("output-dir", "", "result root (overrides paths.output_dir)")
	return cmd
}
