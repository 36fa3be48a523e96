package cmd

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mrevell/slotstream/internal/state"
)

// prefSetters maps preference names to mutators. Names match the stored JSON
// keys.
var prefSetters = map[string]func(p *state.Prefs, value string) error{
	"require_unmetered":       func(p *state.Prefs, v string) error { return setBoolPref(&p.RequireUnmetered, v) },
	"require_battery_not_low": func(p *state.Prefs, v string) error { return setBoolPref(&p.RequireBatteryNotLow, v) },
	"skip_post_install":       func(p *state.Prefs, v string) error { return setBoolPref(&p.SkipPostInstall, v) },
	"enable_root_patch":       func(p *state.Prefs, v string) error { return setBoolPref(&p.EnableRootPatch, v) },
	"enable_vbmeta_patch":     func(p *state.Prefs, v string) error { return setBoolPref(&p.EnableVbmetaPatch, v) },
	"verity_only":             func(p *state.Prefs, v string) error { return setBoolPref(&p.VerityOnly, v) },
	"allow_reinstall":         func(p *state.Prefs, v string) error { return setBoolPref(&p.AllowReinstall, v) },
	"auto_switch_slot":        func(p *state.Prefs, v string) error { return setBoolPref(&p.AutoSwitchSlot, v) },
	"auto_reboot":             func(p *state.Prefs, v string) error { return setBoolPref(&p.AutoReboot, v) },
	"notify_every_cycles": func(p *state.Prefs, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return fmt.Errorf("expected a positive integer, got %q", v)
		}
		p.NotifyEveryCycles = n
		return nil
	},
}

func setBoolPref(dst *bool, value string) error {
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("expected true or false, got %q", value)
	}
	*dst = b
	return nil
}

func init() {
	prefsCmd := &cobra.Command{
		Use:   "prefs",
		Short: "Show the stored preferences",
		Args:  cobra.NoArgs,
		RunE:  runPrefsShow,
	}

	prefsCmd.AddCommand(&cobra.Command{
		Use:   "set <name> <value>",
		Short: "Change one preference",
		Args:  cobra.ExactArgs(2),
		RunE:  runPrefsSet,
	})

	rootCmd.AddCommand(prefsCmd)
}

func runPrefsShow(cmd *cobra.Command, args []string) error {
	store, err := state.Open(cfg.State.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	prefs, err := store.Prefs()
	if err != nil {
		return err
	}

	fmt.Printf("%-28s %v\n", "require_unmetered", prefs.RequireUnmetered)
	fmt.Printf("%-28s %v\n", "require_battery_not_low", prefs.RequireBatteryNotLow)
	fmt.Printf("%-28s %v\n", "skip_post_install", prefs.SkipPostInstall)
	fmt.Printf("%-28s %v\n", "enable_root_patch", prefs.EnableRootPatch)
	fmt.Printf("%-28s %v\n", "enable_vbmeta_patch", prefs.EnableVbmetaPatch)
	fmt.Printf("%-28s %v\n", "verity_only", prefs.VerityOnly)
	fmt.Printf("%-28s %v\n", "allow_reinstall", prefs.AllowReinstall)
	fmt.Printf("%-28s %v\n", "auto_switch_slot", prefs.AutoSwitchSlot)
	fmt.Printf("%-28s %v\n", "auto_reboot", prefs.AutoReboot)
	fmt.Printf("%-28s %d\n", "notify_every_cycles", prefs.NotifyEveryCycles)
	return nil
}

func runPrefsSet(cmd *cobra.Command, args []string) error {
	name, value := args[0], args[1]
	setter, ok := prefSetters[name]
	if !ok {
		names := make([]string, 0, len(prefSetters))
		for n := range prefSetters {
			names = append(names, n)
		}
		sort.Strings(names)
		return fmt.Errorf("unknown preference %q; known: %v", name, names)
	}

	store, err := state.Open(cfg.State.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	prefs, err := store.Prefs()
	if err != nil {
		return err
	}
	if err := setter(&prefs, value); err != nil {
		return fmt.Errorf("set %s: %w", name, err)
	}
	if err := store.SetPrefs(prefs); err != nil {
		return err
	}

	fmt.Printf("%s = %s\n", name, value)
	return nil
}
