package updater

import (
	"fmt"

	"github.com/mrevell/slotstream/internal/zippartial"
)

// ResultKind discriminates the worker's outcome variants. Every consumption
// site switches exhaustively over these.
type ResultKind string

const (
	KindUpdateAvailable               ResultKind = "update_available"
	KindUpdateUnnecessary             ResultKind = "update_unnecessary"
	KindUpdateSucceeded               ResultKind = "update_succeeded"
	KindUpdateNeedReboot              ResultKind = "update_need_reboot"
	KindUpdateNeedSwitchSlot          ResultKind = "update_need_switch_slot"
	KindUpdateReverted                ResultKind = "update_reverted"
	KindUpdateCancelled               ResultKind = "update_cancelled"
	KindUpdateFailed                  ResultKind = "update_failed"
	KindUpdatePatchFailed             ResultKind = "update_patch_failed"
	KindCheckSkipped                  ResultKind = "check_skipped"
	KindUpdateMismatch                ResultKind = "update_mismatch"
	KindUpdateMismatchMagisk          ResultKind = "update_mismatch_magisk"
	KindUpdateMismatchVbmeta          ResultKind = "update_mismatch_vbmeta"
	KindUpdateMismatchRootUnavailable ResultKind = "update_mismatch_root_unavailable"
	KindRootUnavailable               ResultKind = "root_unavailable"
	KindRootUnnecessary               ResultKind = "root_unnecessary"
	KindNetworkUnavailable            ResultKind = "network_unavailable"
)

// Result is one outcome reported to the caller.
type Result struct {
	Kind    ResultKind `json:"kind"`
	IsError bool       `json:"is_error"`

	// Version and Index are set for update_available.
	Version string `json:"version,omitempty"`
	Index   int    `json:"index,omitempty"`
	// Message carries the failure/skip detail.
	Message string `json:"message,omitempty"`
	// PendingAction is set for check_skipped and optionally update_failed.
	PendingAction string `json:"pending_action,omitempty"`
}

// CheckResult is one validated candidate, cached across the check cycle so a
// later INSTALL run can reuse the central directory index without
// re-deriving it.
type CheckResult struct {
	Version     string           `json:"version"`
	Fingerprint string           `json:"fingerprint"`
	URL         string           `json:"url"`
	Index       zippartial.Index `json:"index"`
}

func resultUpdateAvailable(version string, index int) Result {
	return Result{Kind: KindUpdateAvailable, Version: version, Index: index}
}

func resultUpdateUnnecessary() Result {
	return Result{Kind: KindUpdateUnnecessary}
}

func resultSucceeded() Result {
	return Result{Kind: KindUpdateSucceeded}
}

func resultNeedReboot() Result {
	return Result{Kind: KindUpdateNeedReboot}
}

func resultNeedSwitchSlot() Result {
	return Result{Kind: KindUpdateNeedSwitchSlot}
}

func resultReverted() Result {
	return Result{Kind: KindUpdateReverted}
}

func resultCancelled() Result {
	return Result{Kind: KindUpdateCancelled, IsError: true}
}

func resultFailed(message string, action Action) Result {
	return Result{Kind: KindUpdateFailed, IsError: true, Message: message, PendingAction: action.String()}
}

func resultPatchFailed(message string) Result {
	return Result{Kind: KindUpdatePatchFailed, IsError: true, Message: message}
}

func resultCheckSkipped(message string, pending Action) Result {
	return Result{Kind: KindCheckSkipped, Message: message, PendingAction: pending.String()}
}

func resultMismatch(kind ResultKind) Result {
	return Result{Kind: kind, IsError: true}
}

func resultRootUnavailable() Result {
	return Result{Kind: KindRootUnavailable, IsError: true}
}

func resultRootUnnecessary() Result {
	return Result{Kind: KindRootUnnecessary}
}

func resultNetworkUnavailable(message string) Result {
	return Result{Kind: KindNetworkUnavailable, IsError: true, Message: message}
}

// Render returns the single human-readable line the notification layer
// shows for this result.
func (r Result) Render() string {
	switch r.Kind {
	case KindUpdateAvailable:
		return fmt.Sprintf("Update available: %s", r.Version)
	case KindUpdateUnnecessary:
		return "The system is already up to date"
	case KindUpdateSucceeded:
		return "Update installed; reboot to switch slots"
	case KindUpdateNeedReboot:
		return "Update already applied; reboot to finish"
	case KindUpdateNeedSwitchSlot:
		return "Update applied but the slot switch is pending"
	case KindUpdateReverted:
		return "Pending update reverted"
	case KindUpdateCancelled:
		return "Update cancelled"
	case KindUpdateFailed:
		return fmt.Sprintf("Update failed: %s", r.Message)
	case KindUpdatePatchFailed:
		return fmt.Sprintf("Post-install patching failed: %s (revert the update before rebooting)", r.Message)
	case KindCheckSkipped:
		return fmt.Sprintf("Check skipped: %s (pending %s)", r.Message, r.PendingAction)
	case KindUpdateMismatch:
		return "Root and verified-boot state diverged from the expected state"
	case KindUpdateMismatchMagisk:
		return "The boot image lost its root patch"
	case KindUpdateMismatchVbmeta:
		return "Verified-boot flags diverged from the expected state"
	case KindUpdateMismatchRootUnavailable:
		return "Root access was lost; patched state can no longer be maintained"
	case KindRootUnavailable:
		return "Root access is unavailable"
	case KindRootUnnecessary:
		return "Root access is not required by the current configuration"
	case KindNetworkUnavailable:
		return fmt.Sprintf("Network unavailable: %s", r.Message)
	default:
		return string(r.Kind)
	}
}
