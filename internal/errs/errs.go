package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure so callers can decide how to surface it.
type Kind string

const (
	// KindTransfer covers HTTP failures: bad status, missing range support,
	// size mismatch, premature EOF, trailing bytes. Never retried internally.
	KindTransfer Kind = "TransferError"
	// KindFormat covers malformed remote artifacts: bad ZIP magic, bad EOCD,
	// bad property-file line, duplicate key.
	KindFormat Kind = "FormatError"
	// KindValidation covers packages that are well-formed but inapplicable to
	// the running device/build.
	KindValidation Kind = "ValidationError"
	// KindEngine wraps terminal error codes reported by the update engine.
	KindEngine Kind = "EngineError"
	// KindPatch covers root/verified-boot patch step failures.
	KindPatch Kind = "PatchError"
)

// Error is a classified error with an optional wrapped cause.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Cause)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports kind equality so errors.Is(err, &Error{Kind: k}) works via the
// kind sentinels below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && t.Msg == ""
}

// Kind sentinels for errors.Is checks.
var (
	Transfer   = &Error{Kind: KindTransfer}
	Format     = &Error{Kind: KindFormat}
	Validation = &Error{Kind: KindValidation}
	Engine     = &Error{Kind: KindEngine}
	Patch      = &Error{Kind: KindPatch}
)

// New creates a classified error without a cause.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf returns the outermost classified kind of err, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Chain collapses err's cause chain into a single display line of the form
// "Kind (msg) -> Kind (msg) -> msg". Unclassified links render without a kind.
func Chain(err error) string {
	var parts []string
	for err != nil {
		if e, ok := err.(*Error); ok {
			parts = append(parts, fmt.Sprintf("%s (%s)", e.Kind, e.Msg))
		} else {
			msg := err.Error()
			if next := errors.Unwrap(err); next != nil {
				msg = strings.TrimSuffix(strings.TrimSuffix(msg, next.Error()), ": ")
			}
			if msg != "" {
				parts = append(parts, msg)
			}
		}
		err = errors.Unwrap(err)
	}
	return strings.Join(parts, " -> ")
}
