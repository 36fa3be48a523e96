package otameta

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/mrevell/slotstream/internal/errs"
)

// encodeDeviceState builds a wire-format device-state submessage.
func encodeDeviceState(ds DeviceState) []byte {
	var b []byte
	for _, d := range ds.Devices {
		b = protowire.AppendTag(b, fieldDevice, protowire.BytesType)
		b = protowire.AppendString(b, d)
	}
	for _, bl := range ds.Builds {
		b = protowire.AppendTag(b, fieldBuild, protowire.BytesType)
		b = protowire.AppendString(b, bl)
	}
	if ds.BuildIncremental != "" {
		b = protowire.AppendTag(b, fieldBuildIncremental, protowire.BytesType)
		b = protowire.AppendString(b, ds.BuildIncremental)
	}
	if ds.Timestamp != 0 {
		b = protowire.AppendTag(b, fieldTimestamp, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(ds.Timestamp))
	}
	if ds.SecurityPatchLevel != "" {
		b = protowire.AppendTag(b, fieldSecurityPatchLevel, protowire.BytesType)
		b = protowire.AppendString(b, ds.SecurityPatchLevel)
	}
	return b
}

// encodeMetadata builds a wire-format metadata record for tests.
func encodeMetadata(m Metadata) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Type))
	if pre := encodeDeviceState(m.Precondition); len(pre) > 0 {
		b = protowire.AppendTag(b, fieldPrecondition, protowire.BytesType)
		b = protowire.AppendBytes(b, pre)
	}
	if post := encodeDeviceState(m.Postcondition); len(post) > 0 {
		b = protowire.AppendTag(b, fieldPostcondition, protowire.BytesType)
		b = protowire.AppendBytes(b, post)
	}
	// Unknown trailing field the decoder must skip.
	b = protowire.AppendTag(b, 15, protowire.VarintType)
	b = protowire.AppendVarint(b, 7)
	return b
}

func TestDecode_RoundTrip(t *testing.T) {
	in := Metadata{
		Type: TypeAB,
		Precondition: DeviceState{
			Devices:          []string{"husky", "husky_beta"},
			BuildIncremental: "11228172",
		},
		Postcondition: DeviceState{
			Builds:             []string{"google/husky/husky:15/AP4A.240102.003/11343214:user/release-keys"},
			Timestamp:          1704153600,
			SecurityPatchLevel: "2024-01-05",
		},
	}

	got, err := Decode(encodeMetadata(in))
	require.NoError(t, err)
	assert.Equal(t, TypeAB, got.Type)
	assert.Equal(t, in.Precondition.Devices, got.Precondition.Devices)
	assert.Equal(t, in.Precondition.BuildIncremental, got.Precondition.BuildIncremental)
	assert.Equal(t, in.Postcondition.Builds, got.Postcondition.Builds)
	assert.Equal(t, in.Postcondition.Timestamp, got.Postcondition.Timestamp)
	assert.Equal(t, "2024-01-05", got.Postcondition.SecurityPatchLevel)
}

func TestDecode_Malformed(t *testing.T) {
	_, err := Decode([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF})
	require.Error(t, err)
	assert.Equal(t, errs.KindFormat, errs.KindOf(err))
}

func baseCurrent() Current {
	return Current{
		Device:             "husky",
		BuildIncremental:   "11228172",
		Fingerprint:        "google/husky/husky:15/AP4A.240101.002/11228172:user/release-keys",
		SecurityPatchLevel: "2024-01-05",
		Timestamp:          1703030400,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(m *Metadata)
		wantErr     bool
		errContains string
	}{
		{
			name:   "applicable package",
			mutate: func(m *Metadata) {},
		},
		{
			name:        "not an A/B package",
			mutate:      func(m *Metadata) { m.Type = TypeBlock },
			wantErr:     true,
			errContains: "A/B",
		},
		{
			name:        "device not in precondition set",
			mutate:      func(m *Metadata) { m.Precondition.Devices = []string{"shiba"} },
			wantErr:     true,
			errContains: "device set",
		},
		{
			name:        "security patch downgrade",
			mutate:      func(m *Metadata) { m.Postcondition.SecurityPatchLevel = "2023-12-05" },
			wantErr:     true,
			errContains: "security patch",
		},
		{
			name:        "timestamp downgrade",
			mutate:      func(m *Metadata) { m.Postcondition.Timestamp = 1 },
			wantErr:     true,
			errContains: "timestamp",
		},
		{
			name: "two postcondition fingerprints",
			mutate: func(m *Metadata) {
				m.Postcondition.Builds = append(m.Postcondition.Builds, "second/fingerprint")
			},
			wantErr:     true,
			errContains: "exactly one",
		},
		{
			name:        "build incremental mismatch when present",
			mutate:      func(m *Metadata) { m.Precondition.BuildIncremental = "999" },
			wantErr:     true,
			errContains: "incremental",
		},
		{
			name: "fingerprint not in source build list when present",
			mutate: func(m *Metadata) {
				m.Precondition.Builds = []string{"some/other/fingerprint"}
			},
			wantErr:     true,
			errContains: "source build list",
		},
		{
			name: "soft fields absent are skipped",
			mutate: func(m *Metadata) {
				m.Precondition.BuildIncremental = ""
				m.Precondition.Builds = nil
				m.Postcondition.SecurityPatchLevel = ""
				m.Postcondition.Timestamp = 0
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Metadata{
				Type:         TypeAB,
				Precondition: DeviceState{Devices: []string{"husky"}},
				Postcondition: DeviceState{
					Builds:             []string{"google/husky/husky:15/AP4A.240102.003/11343214:user/release-keys"},
					SecurityPatchLevel: "2024-02-05",
					Timestamp:          1706745600,
				},
			}
			tt.mutate(m)

			fingerprint, err := Validate(m, baseCurrent())
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, errs.KindValidation, errs.KindOf(err))
				assert.Contains(t, err.Error(), tt.errContains)
			} else {
				require.NoError(t, err)
				if len(m.Postcondition.Builds) == 1 {
					assert.Equal(t, m.Postcondition.Builds[0], fingerprint)
				}
			}
		})
	}
}
