package cmd

import (
	"github.com/spf13/cobra"

	"github.com/mrevell/slotstream/internal/updater"
)

func init() {
	noRootCmd := &cobra.Command{
		Use:   "no-root",
		Short: "Record that root access was lost",
		Long: `Mark root access as unavailable so future checks stop expecting the
patched state to be maintainable.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAction(cmd.Context(), updater.ActionNoRoot)
		},
	}

	rootCmd.AddCommand(noRootCmd)
}
