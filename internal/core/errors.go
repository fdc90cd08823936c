package core

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind is the error taxonomy of spec.md §7. It is a classification, not a
// type hierarchy: callers switch on Kind, never on the concrete Go type.
type Kind int

const (
	Unknown Kind = iota
	InvalidArgument
	NotFound
	FailedPrecondition
	Unavailable
	DeadlineExceeded
	Cancelled
	Aborted
	Internal
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "InvalidArgument"
	case NotFound:
		return "NotFound"
	case FailedPrecondition:
		return "FailedPrecondition"
	case Unavailable:
		return "Unavailable"
	case DeadlineExceeded:
		return "DeadlineExceeded"
	case Cancelled:
		return "Cancelled"
	case Aborted:
		return "Aborted"
	case Internal:
		return "Internal"
	default:
		return "Unknown"
	}
}

// Error wraps an underlying cause with a Kind and the operation that
// produced it, in the style of the teacher's fmt.Errorf("...: %w", err)
// wrapping chains.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func Errorf(kind Kind, op string, format string, args ...interface{}) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the Kind carried by err, or Unknown if err does not wrap
// a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// AggregateError merges a set of per-device errors, mirroring
// original_source/src/device/devicehub.cpp's mergeDeviceTaskStatus: a single
// failure passes through unchanged; more than one aggregates to Aborted with
// concatenated, name-sorted per-device causes.
func AggregateError(op string, causes map[string]error) error {
	names := make([]string, 0, len(causes))
	for name, err := range causes {
		if err != nil {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil
	}
	if len(names) == 1 {
		return causes[names[0]]
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s(%v)", name, causes[name]))
	}
	return Errorf(Aborted, op, "%d devices failed: %s", len(names), strings.Join(parts, ", "))
}
