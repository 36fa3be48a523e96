// Package device resolves the running build's identity from system
// properties.
package device

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/mrevell/slotstream/internal/shell"
)

// Info identifies the running device and build.
type Info struct {
	Device             string
	BuildID            string
	BuildIncremental   string
	Fingerprint        string
	SecurityPatchLevel string
	Timestamp          int64
	ActiveSlotSuffix   string
}

// InactiveSlotSuffix returns the other slot's suffix.
func (i Info) InactiveSlotSuffix() string {
	if i.ActiveSlotSuffix == "_a" {
		return "_b"
	}
	return "_a"
}

// Provider reads system properties through the shell.
type Provider struct {
	sh shell.Runner
}

// NewProvider creates a device info provider.
func NewProvider(sh shell.Runner) *Provider {
	return &Provider{sh: sh}
}

// Resolve reads the full identity of the running build.
func (p *Provider) Resolve(ctx context.Context) (Info, error) {
	info := Info{}
	var dateUTC string
	props := map[string]*string{
		"ro.product.device":               &info.Device,
		"ro.build.id":                     &info.BuildID,
		"ro.build.version.incremental":    &info.BuildIncremental,
		"ro.build.fingerprint":            &info.Fingerprint,
		"ro.build.version.security_patch": &info.SecurityPatchLevel,
		"ro.build.date.utc":               &dateUTC,
		"ro.boot.slot_suffix":             &info.ActiveSlotSuffix,
	}

	for key, dst := range props {
		val, err := p.getprop(ctx, key)
		if err != nil {
			return Info{}, err
		}
		*dst = val
	}

	ts, err := strconv.ParseInt(dateUTC, 10, 64)
	if err != nil {
		return Info{}, fmt.Errorf("parse ro.build.date.utc %q: %w", dateUTC, err)
	}
	info.Timestamp = ts

	if info.ActiveSlotSuffix != "_a" && info.ActiveSlotSuffix != "_b" {
		return Info{}, fmt.Errorf("unexpected slot suffix %q, not an A/B device", info.ActiveSlotSuffix)
	}
	return info, nil
}

func (p *Provider) getprop(ctx context.Context, key string) (string, error) {
	out, err := p.sh.Output(ctx, "getprop", key)
	if err != nil {
		return "", fmt.Errorf("getprop %s: %w", key, err)
	}
	return strings.TrimSpace(string(out)), nil
}
