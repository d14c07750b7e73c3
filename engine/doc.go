// Package engine implements the embedded scripting interpreter: a small
// dynamically typed language behind a C-style, stack-based API.
//
// A State owns one value stack. Host code moves values with the Push*/Get/
// Pop/SetTop primitives (1-based indices, negatives from the top), binds
// globals with Register/SetGlobal, compiles chunks with Load, and invokes
// functions with Call or ProtectedCall.
//
// # Error channel
//
// Internal errors are non-local jumps: Raise panics with a value that only
// protected-call frames intercept. ProtectedCall converts an intercepted
// raise into a *RaisedError and restores the stack; anything else that
// unwinds through it (a foreign panic, a denied allocation) is passed on
// untouched. IsRaise lets an embedding layer classify recovered panics
// without access to the channel itself.
//
// Raw Call is for callers that already have a protected frame beneath them;
// a raise during Call unwinds through the caller's Go frames.
//
// # Embedding points
//
// The boundary layer above this package consumes five points: the stack
// primitives, ProtectedCall, Raise, Register (used to rebind the catch
// primitives pcall/xpcall), and SetAllocator. SetAllocator installs the
// single allocation-accounting hook consulted on every engine-side
// allocation; a hook that denies a request is expected not to return.
//
// The registry (Ref/PushRef/Unref) pins values so host code can refer to
// them across calls without keeping them on the stack.
//
// # Concurrency
//
// A State is single-threaded: no internal locking, one native call stack.
// Distinct States are independent and may run on separate goroutines.
package engine
