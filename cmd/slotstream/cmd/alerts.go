package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mrevell/slotstream/internal/state"
	"github.com/mrevell/slotstream/internal/updater"
)

func init() {
	alertsCmd := &cobra.Command{
		Use:   "alerts",
		Short: "Show and clear pending error alerts",
		Long: `Error results persist until shown. This prints every pending alert from
previous sessions and then clears them.`,
		Args: cobra.NoArgs,
		RunE: runAlerts,
	}

	tolerateCmd := &cobra.Command{
		Use:   "tolerate",
		Short: "Accept the current root/verified-boot divergence",
		Long: `Mark the currently reported patch-state mismatch as accepted so checks
proceed despite it. The acceptance is revoked automatically if the state
changes again.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := state.Open(cfg.State.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.SetBool(state.KeyMismatchTolerated, true); err != nil {
				return err
			}
			fmt.Println("Current mismatch tolerated; checks will proceed.")
			return nil
		},
	}

	rootCmd.AddCommand(alertsCmd, tolerateCmd)
}

func runAlerts(cmd *cobra.Command, args []string) error {
	store, err := state.Open(cfg.State.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	var alerts []updater.Result
	found, err := store.GetJSON(state.KeyPendingAlerts, &alerts)
	if err != nil {
		return err
	}
	if !found || len(alerts) == 0 {
		fmt.Println("No pending alerts.")
		return nil
	}

	for _, a := range alerts {
		fmt.Println(a.Render())
	}
	return store.Delete(state.KeyPendingAlerts)
}
