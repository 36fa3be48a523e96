package updater

import "fmt"

// Action selects what a worker run does. Immutable once the worker starts.
type Action int

const (
	// ActionCheck scrapes the catalog and validates candidate packages.
	ActionCheck Action = iota
	// ActionInstall streams the previously selected package to the engine.
	ActionInstall
	// ActionSwitchSlot re-applies the cached payload with only the slot
	// switch enabled.
	ActionSwitchSlot
	// ActionRevert clears an applied-but-not-rebooted update.
	ActionRevert
	// ActionNoRoot reports that root was lost since the last observation.
	ActionNoRoot
)

var actionNames = map[Action]string{
	ActionCheck:      "check",
	ActionInstall:    "install",
	ActionSwitchSlot: "switch-slot",
	ActionRevert:     "revert",
	ActionNoRoot:     "no-root",
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// ParseAction maps a CLI/subcommand name to an Action.
func ParseAction(s string) (Action, error) {
	for a, name := range actionNames {
		if name == s {
			return a, nil
		}
	}
	return 0, fmt.Errorf("unknown action %q", s)
}
