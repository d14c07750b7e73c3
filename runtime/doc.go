// Package runtime is the safety boundary around the embedded script engine.
//
// The engine signals internal errors as non-local jumps (panics on its raise
// channel) that would otherwise unwind arbitrary host frames. This package
// confines them behind three cooperating mechanisms:
//
//   - The protected call gate (Instance.ProtectedCall) runs every raw engine
//     operation under the engine's protected-call primitive and converts
//     intercepted raises into ordinary error values.
//   - The panic carrier (Instance.WrapCallback, installed by RegisterFunc)
//     catches a host panic at the callback shim, relays a sentinel error
//     through the engine's own channel so interpreter stack cleanup runs,
//     forces the overridden pcall/xpcall to re-raise it past every script
//     catch block, and resumes the original panic once the outermost gate
//     returns to host code. Host code observes the panic exactly once, with
//     the identical payload.
//   - The stack guard snapshots stack depth at gate entry and restores
//     mark + declaredResults on every exit path; growth beyond expectation is
//     an internal-invariant error, never a silent truncation.
//
// Handles pin engine values across calls. Each Handle carries its owning
// instance's tag; every entry point validates provenance before the engine
// is touched, so cross-instance use is rejected as errors.KindCrossInstance
// without reaching either instance's stack. Closing an instance invalidates
// all of its handles.
//
// Allocation is routed through a per-instance shim. Over-budget allocation
// aborts the process — gate-protected sequences never need rollback around
// allocation. The abort hook is the one narrow point to swap for a
// recoverable policy.
//
// # Error taxonomy
//
//   - script errors: recoverable, returned from the gate with the raised
//     value (errors.KindScript, errors.KindParse).
//   - carried panics: never observable by script code; converted back into a
//     real panic at the outermost gate.
//   - invariant violations and allocation failures: fatal family
//     (errors.KindInvariant, errors.KindAllocation).
//   - misuse: errors.KindCrossInstance, errors.KindClosed,
//     errors.KindStaleHandle, rejected at the API surface.
//
// # Concurrency
//
// An Instance is single-threaded; supply external synchronization or keep it
// on one goroutine. Distinct Instances are fully independent. Error and
// panic propagation is ordered by call depth: a gate at depth N observes a
// raised error or carried panic before the gate at depth N-1.
package runtime
