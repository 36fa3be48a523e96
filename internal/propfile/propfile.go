// Package propfile parses the newline-separated key=value text format used
// by the package's payload_properties entry and by the engine's header list.
package propfile

import (
	"sort"
	"strings"

	"github.com/mrevell/slotstream/internal/errs"
)

// Parse decodes key=value lines. Empty lines are skipped; a line without a
// delimiter or a duplicated key is a format error.
func Parse(data []byte) (map[string]string, error) {
	props := make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, errs.New(errs.KindFormat, "property line %q has no delimiter", line)
		}
		if _, dup := props[key]; dup {
			return nil, errs.New(errs.KindFormat, "duplicate property key %q", key)
		}
		props[key] = value
	}
	return props, nil
}

// Format renders properties as the engine's key=value pair list, in sorted
// key order so payload application is reproducible.
func Format(props map[string]string) []string {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+props[k])
	}
	return pairs
}

// Merge overlays extra onto base without mutating either. Keys in extra win.
func Merge(base, extra map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
