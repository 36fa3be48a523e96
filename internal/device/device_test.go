package device

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type propShell struct {
	props map[string]string
}

func (p *propShell) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	if name != "getprop" || len(args) != 1 {
		return nil, fmt.Errorf("unexpected command %s %v", name, args)
	}
	return []byte(p.props[args[0]] + "\n"), nil
}

func (p *propShell) Run(ctx context.Context, name string, args ...string) error {
	_, err := p.Output(ctx, name, args...)
	return err
}

func testProps() map[string]string {
	return map[string]string{
		"ro.product.device":               "husky",
		"ro.build.id":                     "AP4A.240101.002",
		"ro.build.version.incremental":    "11228172",
		"ro.build.fingerprint":            "google/husky/husky:15/AP4A.240101.002/11228172:user/release-keys",
		"ro.build.version.security_patch": "2024-01-05",
		"ro.build.date.utc":               "1703030400",
		"ro.boot.slot_suffix":             "_a",
	}
}

func TestProvider_Resolve(t *testing.T) {
	p := NewProvider(&propShell{props: testProps()})

	info, err := p.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "husky", info.Device)
	assert.Equal(t, "AP4A.240101.002", info.BuildID)
	assert.Equal(t, int64(1703030400), info.Timestamp)
	assert.Equal(t, "_a", info.ActiveSlotSuffix)
	assert.Equal(t, "_b", info.InactiveSlotSuffix())
}

func TestProvider_Resolve_NotAB(t *testing.T) {
	props := testProps()
	props["ro.boot.slot_suffix"] = ""
	p := NewProvider(&propShell{props: props})

	_, err := p.Resolve(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not an A/B device")
}

func TestProvider_Resolve_BadTimestamp(t *testing.T) {
	props := testProps()
	props["ro.build.date.utc"] = "yesterday"
	p := NewProvider(&propShell{props: props})

	_, err := p.Resolve(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ro.build.date.utc")
}
