package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in the boundary the error occurred
type Phase string

const (
	PhaseGate     Phase = "gate"     // protected call boundary
	PhaseCallback Phase = "callback" // host callback shim
	PhaseHandle   Phase = "handle"   // handle validation
	PhaseAlloc    Phase = "alloc"    // allocator shim
	PhaseEngine   Phase = "engine"   // raw engine operation
	PhaseCompile  Phase = "compile"  // chunk compilation
)

// Kind categorizes the error
type Kind string

const (
	// KindScript is an ordinary, script-catchable error. Value holds the
	// raised script value. Recoverable: returned as data from the gate.
	KindScript Kind = "script_error"

	// KindParse is a chunk compilation failure. Script-level, recoverable.
	KindParse Kind = "parse_error"

	// KindCrossInstance is a handle used against an instance that does not
	// own it. Detected before any engine call.
	KindCrossInstance Kind = "cross_instance"

	// KindClosed is an operation on an instance after Close.
	KindClosed Kind = "instance_closed"

	// KindStaleHandle is a handle used after Release. Programmer misuse,
	// detected at the API surface like KindCrossInstance and KindClosed.
	KindStaleHandle Kind = "stale_handle"

	// KindInvariant is an internal-invariant violation: stack leak,
	// re-entrant unresolved panic, registry corruption. Never catchable by
	// script code and never produced for script-level failures.
	KindInvariant Kind = "internal_invariant"

	// KindAllocation is a denied allocation. Only ever observed on the
	// abort path; the gate never returns it.
	KindAllocation Kind = "allocation"
)

// Error is the structured error type used throughout the boundary
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Detail string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Value != nil {
		b.WriteString(": ")
		fmt.Fprintf(&b, "%v", e.Value)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error. Two Errors match on
// Phase and Kind, so errors.Is can classify without comparing payloads.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// IsScript reports whether err is an ordinary script-catchable error.
func IsScript(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Kind == KindScript || e.Kind == KindParse
	}
	return false
}

// IsInvariant reports whether err is an internal-invariant violation.
// Invariant failures must never be treated as script errors.
func IsInvariant(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == KindInvariant
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Value sets the raised script value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// Script creates an ordinary script error carrying the raised value
func Script(phase Phase, value any) *Error {
	return &Error{
		Phase: phase,
		Kind:  KindScript,
		Value: value,
	}
}

// Parse creates a chunk compilation error
func Parse(chunkName string, cause error) *Error {
	return &Error{
		Phase:  PhaseCompile,
		Kind:   KindParse,
		Detail: chunkName,
		Cause:  cause,
	}
}

// CrossInstance creates a handle provenance mismatch error
func CrossInstance(phase Phase, handleOwner, target uint64) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindCrossInstance,
		Detail: fmt.Sprintf("handle belongs to instance %d, not %d", handleOwner, target),
	}
}

// StaleHandle creates a use-after-release error
func StaleHandle(phase Phase, ref int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindStaleHandle,
		Detail: fmt.Sprintf("handle ref %d has been released", ref),
	}
}

// Closed creates a use-after-close error
func Closed(phase Phase, op string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindClosed,
		Detail: op,
	}
}

// Invariant creates an internal-invariant violation error
func Invariant(phase Phase, msg string, args ...any) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvariant,
		Detail: fmt.Sprintf(msg, args...),
	}
}

// Allocation creates an allocation failure error. Observed only by the
// abort path; gate-protected sequences never see it as a return value.
func Allocation(size int) *Error {
	return &Error{
		Phase:  PhaseAlloc,
		Kind:   KindAllocation,
		Detail: fmt.Sprintf("allocation of %d bytes denied", size),
	}
}
