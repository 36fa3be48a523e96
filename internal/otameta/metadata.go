// Package otameta decodes the package's binary metadata entry and checks it
// against the running device. The entry is a protobuf wire-format record;
// the handful of fields consumed here are mapped by hand so no generated
// bindings are needed.
package otameta

import (
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/mrevell/slotstream/internal/errs"
)

// EntryName is the metadata entry's path inside the package.
const EntryName = "META-INF/com/android/metadata.pb"

// Type enumerates the package formats the metadata can describe.
type Type int32

const (
	TypeUnknown Type = 0
	TypeAB      Type = 1
	TypeBlock   Type = 2
	TypeBrick   Type = 3
)

// DeviceState describes the device set and build a package applies to
// (precondition) or produces (postcondition).
type DeviceState struct {
	Devices            []string
	Builds             []string
	BuildIncremental   string
	Timestamp          int64
	SDKLevel           string
	SecurityPatchLevel string
}

// Metadata is the decoded package metadata record.
type Metadata struct {
	Type          Type
	Wipe          bool
	Downgrade     bool
	Precondition  DeviceState
	Postcondition DeviceState
	SplDowngrade  bool
}

// Wire field numbers of the metadata record.
const (
	fieldType          = 1
	fieldWipe          = 2
	fieldDowngrade     = 3
	fieldPrecondition  = 5
	fieldPostcondition = 6
	fieldSplDowngrade  = 9
)

// Wire field numbers of a device-state submessage.
const (
	fieldDevice             = 1
	fieldBuild              = 2
	fieldBuildIncremental   = 3
	fieldTimestamp          = 4
	fieldSDKLevel           = 5
	fieldSecurityPatchLevel = 6
)

// Decode parses the metadata entry's bytes.
func Decode(data []byte) (*Metadata, error) {
	m := &Metadata{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, val []byte, uval uint64) error {
		switch num {
		case fieldType:
			m.Type = Type(uval)
		case fieldWipe:
			m.Wipe = uval != 0
		case fieldDowngrade:
			m.Downgrade = uval != 0
		case fieldPrecondition:
			return decodeDeviceState(val, &m.Precondition)
		case fieldPostcondition:
			return decodeDeviceState(val, &m.Postcondition)
		case fieldSplDowngrade:
			m.SplDowngrade = uval != 0
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func decodeDeviceState(data []byte, ds *DeviceState) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, val []byte, uval uint64) error {
		switch num {
		case fieldDevice:
			ds.Devices = append(ds.Devices, string(val))
		case fieldBuild:
			ds.Builds = append(ds.Builds, string(val))
		case fieldBuildIncremental:
			ds.BuildIncremental = string(val)
		case fieldTimestamp:
			ds.Timestamp = int64(uval)
		case fieldSDKLevel:
			ds.SDKLevel = string(val)
		case fieldSecurityPatchLevel:
			ds.SecurityPatchLevel = string(val)
		}
		return nil
	})
}

// walkFields iterates the wire-format fields of data. For varint fields the
// value arrives in uval; for length-delimited fields in val. Unknown fields
// are skipped.
func walkFields(data []byte, visit func(num protowire.Number, typ protowire.Type, val []byte, uval uint64) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return errs.Wrap(errs.KindFormat, protowire.ParseError(n), "malformed metadata record")
		}
		data = data[n:]

		var val []byte
		var uval uint64
		switch typ {
		case protowire.VarintType:
			v, vn := protowire.ConsumeVarint(data)
			if vn < 0 {
				return errs.Wrap(errs.KindFormat, protowire.ParseError(vn), "malformed varint field %d", num)
			}
			uval = v
			data = data[vn:]
		case protowire.BytesType:
			v, vn := protowire.ConsumeBytes(data)
			if vn < 0 {
				return errs.Wrap(errs.KindFormat, protowire.ParseError(vn), "malformed bytes field %d", num)
			}
			val = v
			data = data[vn:]
		default:
			vn := protowire.ConsumeFieldValue(num, typ, data)
			if vn < 0 {
				return errs.Wrap(errs.KindFormat, protowire.ParseError(vn), "malformed field %d", num)
			}
			data = data[vn:]
			continue
		}

		if err := visit(num, typ, val, uval); err != nil {
			return err
		}
	}
	return nil
}
