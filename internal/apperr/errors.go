// Package apperr defines the error taxonomy shared by the orchestration core.
//
// Every error that crosses a package boundary carries a Kind so that callers
// (the HTTP layer, the CLI, the orchestrator's failure policy) can decide what
// to do without string matching.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error.
type Kind string

const (
	KindValidation       Kind = "validation"
	KindComposition      Kind = "composition"
	KindProbe            Kind = "probe"
	KindEngineInvocation Kind = "engine_invocation"
	KindEngineRuntime    Kind = "engine_runtime"
	KindResource         Kind = "resource"
	KindNotFound         Kind = "not_found"
	KindCancelled        Kind = "cancelled"
	KindInternal         Kind = "internal"
)

// Error is the concrete error type returned by the core packages.
type Error struct {
	Kind        Kind
	Op          string
	OperationID string
	SegmentID   string
	Message     string
	Err         error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Op != "" {
		b.WriteString(" [")
		b.WriteString(e.Op)
		b.WriteString("]")
	}
	if e.OperationID != "" {
		b.WriteString(" operation=")
		b.WriteString(e.OperationID)
	}
	if e.SegmentID != "" {
		b.WriteString(" segment=")
		b.WriteString(e.SegmentID)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by Kind, so errors.Is(err, apperr.Validation)
// works for any validation error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Message == "" && t.Err == nil
}

// Sentinels for errors.Is.
var (
	Validation       = &Error{Kind: KindValidation}
	Composition      = &Error{Kind: KindComposition}
	Probe            = &Error{Kind: KindProbe}
	EngineInvocation = &Error{Kind: KindEngineInvocation}
	EngineRuntime    = &Error{Kind: KindEngineRuntime}
	Resource         = &Error{Kind: KindResource}
	NotFound         = &Error{Kind: KindNotFound}
	Cancelled        = &Error{Kind: KindCancelled}
)

// New creates an error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind around err.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// Validationf is shorthand for New(KindValidation, ...).
func Validationf(format string, args ...any) *Error {
	return New(KindValidation, format, args...)
}

// Compositionf is shorthand for New(KindComposition, ...).
func Compositionf(format string, args ...any) *Error {
	return New(KindComposition, format, args...)
}

// KindOf returns the Kind of the first *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// WithOperation returns err annotated with the operation id. Errors that are
// not *Error are wrapped as internal errors.
func WithOperation(err error, op, operationID string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		c := *e
		if c.Op == "" {
			c.Op = op
		}
		if c.OperationID == "" {
			c.OperationID = operationID
		}
		return &c
	}
	return &Error{Kind: KindInternal, Op: op, OperationID: operationID, Err: err}
}

// WithSegment returns err annotated with the segment id.
func WithSegment(err error, segmentID string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		c := *e
		if c.SegmentID == "" {
			c.SegmentID = segmentID
		}
		return &c
	}
	return &Error{Kind: KindInternal, SegmentID: segmentID, Err: err}
}
