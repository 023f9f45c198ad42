package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/review-harvester/internal/slug"
)

func newSlugCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "slug NAME...",
		Short: "Print the directory slug for each restaurant name",
		Args:  cobra.MinimumNArgs(1),
		// Pure function; no config or logger needed.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range args {
				fmt.Fprintln(cmd.OutOrStdout(), slug.Make(name))
			}
			return nil
		},
	}
}
