package cmd

import (
	"github.com/spf13/cobra"

	"github.com/mrevell/slotstream/internal/updater"
)

func init() {
	switchSlotCmd := &cobra.Command{
		Use:   "switch-slot",
		Short: "Re-apply the cached payload with only the slot switch enabled",
		Long: `Re-run the last installed payload with the post-install step disabled and
the slot switch forced on. Used when an install finished with
UPDATED_BUT_NOT_ACTIVE and the switch still has to happen.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAction(cmd.Context(), updater.ActionSwitchSlot)
		},
	}

	rootCmd.AddCommand(switchSlotCmd)
}
