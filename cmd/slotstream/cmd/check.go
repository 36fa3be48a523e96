package cmd

import (
	"github.com/spf13/cobra"

	"github.com/mrevell/slotstream/internal/updater"
)

func init() {
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Check the catalog for applicable updates",
		Long: `Scrape the update catalog for the running device, validate each candidate
package's metadata against the current build, and cache the results for a
later install.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAction(cmd.Context(), updater.ActionCheck)
		},
	}

	rootCmd.AddCommand(checkCmd)
}
