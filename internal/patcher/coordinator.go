// Package patcher re-applies the root and verified-boot modifications that
// the platform's own update process wipes from the freshly written slot.
// Every mutation first reads current state and only writes on divergence, so
// repeated runs cost no privileged operations.
package patcher

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mrevell/slotstream/internal/errs"
	"github.com/mrevell/slotstream/internal/shell"
)

const (
	// vbmetaMagic sits at offset 0 of a verified-boot image.
	vbmetaMagic = "AVB0"
	// flagsOffset is the byte within the image holding the disable flags.
	flagsOffset = 123
	// headerLen covers the magic through the flags byte.
	headerLen = 128
)

// Verified-boot disable bits.
const (
	FlagVerityDisabled       byte = 1 << 0
	FlagVerificationDisabled byte = 1 << 1
)

// DesiredFlags returns the flag byte the patch aims for. verityOnly leaves
// verification enforcement untouched.
func DesiredFlags(verityOnly bool) byte {
	if verityOnly {
		return FlagVerityDisabled
	}
	return FlagVerityDisabled | FlagVerificationDisabled
}

// Coordinator inspects and mutates the inactive slot's verified-boot flags
// and drives the root-patching helper.
type Coordinator struct {
	sh  shell.Runner
	log *slog.Logger

	// VbmetaPathTemplate expands a slot suffix into the verified-boot
	// partition's block device path, e.g.
	// "/dev/block/by-name/vbmeta%s".
	VbmetaPathTemplate string
	// RootCheckCmd prints "patched" on stdout when the inactive slot already
	// carries the root patch.
	RootCheckCmd []string
	// RootPatchCmd applies the root patch to the inactive slot.
	RootPatchCmd []string
}

// NewCoordinator creates a patch coordinator.
func NewCoordinator(sh shell.Runner, vbmetaPathTemplate string, rootCheckCmd, rootPatchCmd []string) *Coordinator {
	return &Coordinator{
		sh:                 sh,
		log:                slog.Default().With("component", "patcher"),
		VbmetaPathTemplate: vbmetaPathTemplate,
		RootCheckCmd:       rootCheckCmd,
		RootPatchCmd:       rootPatchCmd,
	}
}

func (c *Coordinator) vbmetaPath(slotSuffix string) string {
	return fmt.Sprintf(c.VbmetaPathTemplate, slotSuffix)
}

// VerifiedBootFlags reads the flag byte of the given slot's verified-boot
// image, confirming the image magic first.
func (c *Coordinator) VerifiedBootFlags(ctx context.Context, slotSuffix string) (byte, error) {
	path := c.vbmetaPath(slotSuffix)
	out, err := c.sh.Output(ctx, "dd",
		"if="+path, "bs=1", fmt.Sprintf("count=%d", headerLen), "status=none")
	if err != nil {
		return 0, errs.Wrap(errs.KindPatch, err, "read verified-boot image %s", path)
	}
	if len(out) < headerLen {
		return 0, errs.New(errs.KindPatch, "verified-boot image %s truncated at %d bytes", path, len(out))
	}
	if string(out[:4]) != vbmetaMagic {
		return 0, errs.New(errs.KindPatch, "verified-boot image %s has wrong magic %q", path, out[:4])
	}
	return out[flagsOffset], nil
}

// EnsureVerifiedBootFlags patches the slot's flag byte to want if it
// differs. The write sequence makes the device writable, patches the single
// byte, and restores read-only; the restore runs even when the write fails.
func (c *Coordinator) EnsureVerifiedBootFlags(ctx context.Context, slotSuffix string, want byte) error {
	current, err := c.VerifiedBootFlags(ctx, slotSuffix)
	if err != nil {
		return err
	}
	if current == want {
		c.log.DebugContext(ctx, "Verified-boot flags already at desired value",
			"slot", slotSuffix, "flags", want)
		return nil
	}

	path := c.vbmetaPath(slotSuffix)
	c.log.InfoContext(ctx, "Patching verified-boot flags",
		"slot", slotSuffix, "from", current, "to", want)

	if err := c.sh.Run(ctx, "blockdev", "--setrw", path); err != nil {
		return errs.Wrap(errs.KindPatch, err, "make %s writable", path)
	}
	writeErr := c.sh.Run(ctx, "sh", "-c", fmt.Sprintf(
		`printf '\x%02x' | dd of=%s bs=1 seek=%d count=1 conv=notrunc status=none`,
		want, path, flagsOffset))
	if err := c.sh.Run(ctx, "blockdev", "--setro", path); err != nil && writeErr == nil {
		writeErr = err
	}
	if writeErr != nil {
		return errs.Wrap(errs.KindPatch, writeErr, "patch verified-boot flags on %s", path)
	}

	// Read back so a silently dropped write cannot go unnoticed.
	after, err := c.VerifiedBootFlags(ctx, slotSuffix)
	if err != nil {
		return err
	}
	if after != want {
		return errs.New(errs.KindPatch, "verified-boot flags on %s read back as %#x, want %#x", path, after, want)
	}
	return nil
}

// RootPatchPresent reports whether the inactive slot already carries the
// root patch.
func (c *Coordinator) RootPatchPresent(ctx context.Context) (bool, error) {
	if len(c.RootCheckCmd) == 0 {
		return false, errs.New(errs.KindPatch, "no root check command configured")
	}
	out, err := c.sh.Output(ctx, c.RootCheckCmd[0], c.RootCheckCmd[1:]...)
	if err != nil {
		return false, errs.Wrap(errs.KindPatch, err, "check root patch state")
	}
	return strings.TrimSpace(string(out)) == "patched", nil
}

// EnsureRootPatch applies the root patch to the inactive slot unless it is
// already present, recording the helper's log output.
func (c *Coordinator) EnsureRootPatch(ctx context.Context) error {
	present, err := c.RootPatchPresent(ctx)
	if err != nil {
		return err
	}
	if present {
		c.log.DebugContext(ctx, "Root patch already present on inactive slot")
		return nil
	}
	if len(c.RootPatchCmd) == 0 {
		return errs.New(errs.KindPatch, "no root patch command configured")
	}

	c.log.InfoContext(ctx, "Applying root patch to inactive slot")
	out, err := c.sh.Output(ctx, c.RootPatchCmd[0], c.RootPatchCmd[1:]...)
	if len(out) > 0 {
		c.log.InfoContext(ctx, "Root patch helper output", "output", strings.TrimSpace(string(out)))
	}
	if err != nil {
		return errs.Wrap(errs.KindPatch, err, "apply root patch")
	}
	return nil
}
