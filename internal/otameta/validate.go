package otameta

import (
	"slices"

	"github.com/mrevell/slotstream/internal/errs"
)

// Current is the running build's identity the package is checked against.
type Current struct {
	Device             string
	BuildIncremental   string
	Fingerprint        string
	SecurityPatchLevel string
	Timestamp          int64
}

// Validate enforces the compatibility and anti-downgrade rules and returns
// the single fingerprint the package produces.
//
// Hard failures: wrong package type, device not in the precondition set,
// security patch or build timestamp going backwards, more than one
// postcondition fingerprint. The build-incremental and fingerprint-list
// preconditions are checked only when the package carries them.
func Validate(m *Metadata, cur Current) (string, error) {
	if m.Type != TypeAB {
		return "", errs.New(errs.KindValidation, "package type %d is not an A/B update", m.Type)
	}

	if !slices.Contains(m.Precondition.Devices, cur.Device) {
		return "", errs.New(errs.KindValidation,
			"device %q is not in the package's device set %v", cur.Device, m.Precondition.Devices)
	}

	if m.Precondition.BuildIncremental != "" && m.Precondition.BuildIncremental != cur.BuildIncremental {
		return "", errs.New(errs.KindValidation,
			"package requires build incremental %q, running %q",
			m.Precondition.BuildIncremental, cur.BuildIncremental)
	}

	if len(m.Precondition.Builds) > 0 && !slices.Contains(m.Precondition.Builds, cur.Fingerprint) {
		return "", errs.New(errs.KindValidation,
			"running fingerprint %q is not in the package's source build list", cur.Fingerprint)
	}

	// Security patch levels are YYYY-MM-DD strings; ordering is lexical.
	if spl := m.Postcondition.SecurityPatchLevel; spl != "" && spl < cur.SecurityPatchLevel {
		return "", errs.New(errs.KindValidation,
			"package security patch level %s is older than current %s", spl, cur.SecurityPatchLevel)
	}

	if ts := m.Postcondition.Timestamp; ts != 0 && ts < cur.Timestamp {
		return "", errs.New(errs.KindValidation,
			"package build timestamp %d is older than current %d", ts, cur.Timestamp)
	}

	if len(m.Postcondition.Builds) > 1 {
		return "", errs.New(errs.KindValidation,
			"package names %d resulting fingerprints, want exactly one", len(m.Postcondition.Builds))
	}

	var fingerprint string
	if len(m.Postcondition.Builds) == 1 {
		fingerprint = m.Postcondition.Builds[0]
	}
	return fingerprint, nil
}
