// Package cmd defines the review-harvester CLI commands.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/review-harvester/internal/config"
	"github.com/JakeFAU/review-harvester/internal/logging"
)

// runtimeKeyType is the context key for the loaded runtime.
type runtimeKeyType string

const runtimeKey runtimeKeyType = "runtime"

// runtime is what PersistentPreRunE hands to subcommands.
type runtime struct {
	cfg    config.Config
	logger *zap.Logger
}

// flagKeys maps command-line flags to the viper keys they override.
var flagKeys = map[string]string{
	"dataset":           "paths.dataset",
	"template":          "paths.template",
	"output-dir":        "paths.output_dir",
	"configs-dir":       "paths.configs_dir",
	"skip-existing":     "run.skip_existing",
	"limit":             "run.limit",
	"include-in-flight": "recovery.include_in_flight",
	"metrics-addr":      "metrics.listen_addr",
	"metrics-textfile":  "metrics.textfile",
	"dev":               "logging.development",
	"postgres-dsn":      "progress.postgres_dsn",
}

// loadRuntime is a variable so tests can observe the loaded config.
var loadRuntime = func(cmd *cobra.Command, cfgFile string) (*runtime, error) {
	v := config.New()
	if err := config.ReadFile(v, cfgFile); err != nil {
		return nil, err
	}
	if err := bindFlags(v, cmd); err != nil {
		return nil, err
	}
	cfg, err := config.Decode(v)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return &runtime{cfg: cfg, logger: logger}, nil
}

func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	for name, key := range flagKeys {
		f := cmd.Flags().Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind --%s: %w", name, err)
		}
	}
	return nil
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "review-harvester",
		Short: "Drive a review scraper over a restaurant list and keep its output safe.",
		Long: `review-harvester reads a list of restaurants, writes one scraper config per
restaurant from a shared template, runs the external scraper for each in turn
and, when interrupted, deduplicates and rewrites what was already collected.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := loadRuntime(cmd, cfgFile)
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), runtimeKey, rt))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if rt, ok := cmd.Context().Value(runtimeKey).(*runtime); ok {
				_ = rt.logger.Sync() //nolint:errcheck // best-effort flush
			}
		},
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (defaults plus HARVEST_* environment when omitted)")

	cmd.AddCommand(newCollectCmd(), newRecoverCmd(), newSlugCmd(), newStatusCmd())
	return cmd
}

func resolveRuntime(ctx context.Context) (*runtime, error) {
	rt, ok := ctx.Value(runtimeKey).(*runtime)
	if !ok || rt == nil {
		return nil, errors.New("runtime not initialized")
	}
	return rt, nil
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		zap.L().Error("command failed", zap.Error(err))
		os.Exit(1)
	}
}
