package cmd

import (
	"github.com/spf13/cobra"

	"github.com/mrevell/slotstream/internal/updater"
)

func init() {
	revertCmd := &cobra.Command{
		Use:   "revert",
		Short: "Revert an applied-but-not-rebooted update",
		Long: `Reset the update engine so the pending slot switch is dropped and the
device keeps booting the current slot.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAction(cmd.Context(), updater.ActionRevert)
		},
	}

	rootCmd.AddCommand(revertCmd)
}
