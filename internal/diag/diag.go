// Copyright (c) The Spider Authors
// SPDX-License-Identifier: MPL-2.0

// Package diag provides the diagnostics type used throughout Spider to
// report recoverable and fatal conditions without relying on panics for
// anything a caller could reasonably be expected to handle.
//
// The shape intentionally mirrors the way larger infrastructure tools
// accumulate diagnostics across a pipeline of fallible steps: functions
// return (T, Diagnostics) and callers append rather than short-circuit,
// so that one pass can surface every problem it finds instead of just
// the first one.
package diag

import (
	"fmt"

	multierror "github.com/hashicorp/go-multierror"
)

// Severity distinguishes diagnostics that abort the current iteration
// from ones that are informational only.
type Severity int

const (
	Error Severity = iota
	Warning
)

func (s Severity) String() string {
	if s == Warning {
		return "warning"
	}
	return "error"
}

// Kind tags a Diagnostic with the failure-mode taxonomy from the runtime's
// error handling design, which in turn determines the process exit code
// when a diagnostic escapes all the way out of Runtime.Iterate.
type Kind int

const (
	KindNone Kind = iota
	KindExpressionParseError
	KindBalanceEquationError
	KindMappingUnsatisfiable
	KindMemoryAllocationFailure
	KindDoubleFree
	KindNegativeDeallocate
	KindConstraintDeadlock
	KindInvalidAPIUsage
)

// ExitCode maps a Kind to the process exit code documented for the
// runtime's external interface: 0 success, 1 BRV, 2 mapping, 3 memory,
// 4 user-API misuse. Kinds with no assigned code (double-free, negative
// deallocate, deadlock) are debug-only assertions and return 4 as the
// closest fit: they always indicate a bug in caller-supplied graph or
// scenario construction.
func (k Kind) ExitCode() int {
	switch k {
	case KindNone:
		return 0
	case KindBalanceEquationError:
		return 1
	case KindMappingUnsatisfiable:
		return 2
	case KindMemoryAllocationFailure:
		return 3
	default:
		return 4
	}
}

// Diagnostic is a single reported condition.
type Diagnostic struct {
	Severity Severity
	Kind     Kind
	Summary  string
	Detail   string
}

func (d Diagnostic) Error() string {
	if d.Detail == "" {
		return d.Summary
	}
	return fmt.Sprintf("%s: %s", d.Summary, d.Detail)
}

// Diagnostics is an ordered list of Diagnostic values. The zero value is
// an empty, ready-to-use list.
type Diagnostics []Diagnostic

// Append adds one or more diagnostics, flattening nested Diagnostics,
// skipping nil items, and wrapping plain errors, which carry no kind, as
// untagged Error diagnostics. This mirrors the variadic tfdiags.Diagnostics.Append pattern
// used throughout the teacher's engine package, which lets call sites
// freely mix single errors, Diagnostic values and other Diagnostics.
func (d Diagnostics) Append(items ...any) Diagnostics {
	for _, item := range items {
		switch v := item.(type) {
		case nil:
			continue
		case Diagnostics:
			d = append(d, v...)
		case Diagnostic:
			d = append(d, v)
		case error:
			d = append(d, Diagnostic{Severity: Error, Summary: v.Error()})
		default:
			d = append(d, Diagnostic{Severity: Error, Summary: fmt.Sprintf("%v", v)})
		}
	}
	return d
}

// Errorf builds and appends a single Error-severity diagnostic of the
// given Kind.
func (d Diagnostics) Errorf(kind Kind, format string, args ...any) Diagnostics {
	return d.Append(Diagnostic{Severity: Error, Kind: kind, Summary: fmt.Sprintf(format, args...)})
}

// HasErrors reports whether any diagnostic has Error severity.
func (d Diagnostics) HasErrors() bool {
	for _, diag := range d {
		if diag.Severity == Error {
			return true
		}
	}
	return false
}

// ErrorKind returns the Kind of the first Error-severity diagnostic, or
// KindNone if there are no errors. Iteration abort logic uses this to
// decide the process exit code.
func (d Diagnostics) ErrorKind() Kind {
	for _, diag := range d {
		if diag.Severity == Error {
			return diag.Kind
		}
	}
	return KindNone
}

// Err converts the diagnostics into a single Go error suitable for
// returning from library entry points that predate a Diagnostics-aware
// caller, combining multiple errors with go-multierror the way the
// teacher's engine layer collapses concurrent per-step diagnostics.
func (d Diagnostics) Err() error {
	if !d.HasErrors() {
		return nil
	}
	var merr *multierror.Error
	for _, diagn := range d {
		if diagn.Severity == Error {
			merr = multierror.Append(merr, diagn)
		}
	}
	return merr.ErrorOrNil()
}
