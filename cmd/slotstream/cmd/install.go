package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mrevell/slotstream/internal/state"
	"github.com/mrevell/slotstream/internal/updater"
)

func init() {
	installCmd := &cobra.Command{
		Use:   "install [version]",
		Short: "Stream a checked update into the inactive slot",
		Long: `Stream the payload of a previously checked update package straight into
the update engine. The version argument selects among the versions the last
check reported; without it the previously selected target is reused.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runInstall,
	}

	rootCmd.AddCommand(installCmd)
}

func runInstall(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		// Record the selection before the session opens the store.
		store, err := state.Open(cfg.State.DBPath)
		if err != nil {
			return err
		}
		err = store.SetString(state.KeyTargetVersion, args[0])
		store.Close()
		if err != nil {
			return fmt.Errorf("select target version: %w", err)
		}
	}

	return runAction(cmd.Context(), updater.ActionInstall)
}
