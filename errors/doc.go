// Package errors provides structured error types for the script-runtime library.
//
// Errors are categorized by Phase (where in the boundary the error occurred)
// and Kind (error category). Script-raised values travel in the Value field so
// hosts can recover them verbatim.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseGate, errors.KindScript).
//		Value(raised).
//		Detail("protected call failed").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.Script(errors.PhaseGate, raised)
//	err := errors.CrossInstance(errors.PhaseHandle, handleOwner, targetID)
//
// Kinds split into two families that must never be confused: recoverable
// conditions (KindScript, KindParse, KindCrossInstance, KindClosed,
// KindStaleHandle) and internal failures (KindInvariant, KindAllocation).
// IsScript and IsInvariant classify without inspecting payloads.
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
