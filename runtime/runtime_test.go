package runtime

import (
	"fmt"
	"strings"
	"testing"

	"github.com/wippyai/script-runtime/engine"
	"github.com/wippyai/script-runtime/errors"
)

func newTestInstance(t *testing.T, opts ...Option) *Instance {
	t.Helper()
	in, err := New(opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { in.Close() })
	return in
}

func mustGlobal(t *testing.T, in *Instance, name string) engine.Value {
	t.Helper()
	v, err := in.GetGlobal(name)
	if err != nil {
		t.Fatalf("GetGlobal(%q): %v", name, err)
	}
	return v
}

func TestRunSimpleScript(t *testing.T) {
	in := newTestInstance(t)

	if err := in.Run(`x = 1 + 2`, "chunk"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if v := mustGlobal(t, in, "x"); !v.Equals(engine.Number(3)) {
		t.Errorf("x = %v, want 3", v)
	}
	if got := in.State().Top(); got != 0 {
		t.Errorf("stack depth after Run = %d, want 0", got)
	}
}

func TestCompileAndCall(t *testing.T) {
	in := newTestInstance(t)

	h, err := in.Compile(`return a + b`, "sum")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if err := in.SetGlobal("a", engine.Number(2)); err != nil {
		t.Fatal(err)
	}
	if err := in.SetGlobal("b", engine.Number(5)); err != nil {
		t.Fatal(err)
	}

	results, err := in.Call(h, nil, 1)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(results) != 1 || !results[0].Equals(engine.Number(7)) {
		t.Fatalf("results = %v, want [7]", results)
	}

	// handles stay valid for repeated calls
	if _, err := in.Call(h, nil, 1); err != nil {
		t.Fatalf("second Call: %v", err)
	}
	if err := in.Release(h); err != nil {
		t.Fatalf("Release: %v", err)
	}
}

func TestCallWithArguments(t *testing.T) {
	in := newTestInstance(t)

	if err := in.Run(`function join(a, b) return a .. "-" .. b end`, "def"); err != nil {
		t.Fatal(err)
	}

	err := in.ProtectedCall(3, 1, func(s *engine.State) error {
		s.Global("join")
		s.PushString("x")
		s.PushString("y")
		s.Call(2, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("ProtectedCall: %v", err)
	}
	if v, _ := in.State().ToString(-1); v != "x-y" {
		t.Errorf("result = %q, want \"x-y\"", v)
	}
	in.State().Pop(1)
}

func TestCompileError(t *testing.T) {
	in := newTestInstance(t)

	_, err := in.Compile(`function broken(`, "bad")
	if err == nil {
		t.Fatal("expected parse error")
	}
	e, ok := err.(*errors.Error)
	if !ok {
		t.Fatalf("error type %T", err)
	}
	if e.Kind != errors.KindParse {
		t.Errorf("Kind = %q, want %q", e.Kind, errors.KindParse)
	}
	if got := in.State().Top(); got != 0 {
		t.Errorf("stack depth after failed compile = %d, want 0", got)
	}
}

func TestOrdinaryScriptError(t *testing.T) {
	in := newTestInstance(t)

	err := in.Run(`error("bad arg")`, "chunk")
	if err == nil {
		t.Fatal("expected script error")
	}
	e, ok := err.(*errors.Error)
	if !ok {
		t.Fatalf("error type %T", err)
	}
	if e.Kind != errors.KindScript {
		t.Errorf("Kind = %q, want %q", e.Kind, errors.KindScript)
	}
	v, ok := e.Value.(engine.Value)
	if !ok {
		t.Fatalf("Value type %T, want engine.Value", e.Value)
	}
	if s, _ := v.AsString(); s != "bad arg" {
		t.Errorf("raised value = %v, want \"bad arg\"", v)
	}
	if got := in.State().Top(); got != 0 {
		t.Errorf("stack depth after error = %d, want 0", got)
	}
}

// A script-level catch block records an ordinary error verbatim, and the
// whole call sequence leaves stack depth unchanged.
func TestScriptCatchesOrdinaryError(t *testing.T) {
	in := newTestInstance(t)

	depthBefore := in.State().Top()
	err := in.Run(`caught = pcall(function() error("bad arg") end)`, "chunk")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if v, _ := mustGlobal(t, in, "caught").AsString(); v != "bad arg" {
		t.Errorf("caught = %q, want \"bad arg\"", v)
	}
	if got := in.State().Top(); got != depthBefore {
		t.Errorf("stack depth changed: %d -> %d", depthBefore, got)
	}
}

func TestCallbackResults(t *testing.T) {
	in := newTestInstance(t)

	err := in.RegisterFunc("upper", func(in *Instance, s *engine.State) (int, error) {
		v, ok := s.ToString(1)
		if !ok {
			return 0, errors.Script(errors.PhaseCallback, engine.String("upper: want a string"))
		}
		s.PushString(strings.ToUpper(v))
		return 1, nil
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := in.Run(`x = upper("shout")`, "chunk"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if v, _ := mustGlobal(t, in, "x").AsString(); v != "SHOUT" {
		t.Errorf("x = %q, want \"SHOUT\"", v)
	}
}

// A script error returned from a callback is catchable by script code like
// any other.
func TestCallbackScriptErrorIsCatchable(t *testing.T) {
	in := newTestInstance(t)

	in.RegisterFunc("reject", func(in *Instance, s *engine.State) (int, error) {
		return 0, errors.Script(errors.PhaseCallback, engine.String("rejected"))
	})

	if err := in.Run(`caught = pcall(function() reject() end)`, "chunk"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if v, _ := mustGlobal(t, in, "caught").AsString(); v != "rejected" {
		t.Errorf("caught = %q, want \"rejected\"", v)
	}
}

// A non-script error from a callback round-trips through the engine's
// error channel back to the host as the identical error object.
func TestCallbackErrorRoundTrip(t *testing.T) {
	in := newTestInstance(t)

	sentinel := fmt.Errorf("host-side failure")
	in.RegisterFunc("fail", func(in *Instance, s *engine.State) (int, error) {
		return 0, sentinel
	})

	err := in.Run(`fail()`, "chunk")
	if err != sentinel {
		t.Fatalf("err = %v (%T), want the identical sentinel error", err, err)
	}
}

type panicPayload struct{ msg string }

// A callback panics with payload "boom"; the script
// wraps the call in three nested catch blocks; the host observes the panic
// exactly once, with the identical payload, and none of the catch blocks
// record a caught state.
func TestPanicUncatchableThroughNestedCatches(t *testing.T) {
	in := newTestInstance(t)

	payload := &panicPayload{msg: "boom"}
	in.RegisterFunc("boom", func(in *Instance, s *engine.State) (int, error) {
		panic(payload)
	})

	script := `
		c1 = pcall(function()
			c2 = pcall(function()
				c3 = pcall(function() boom() end)
				c3after = "reached"
			end)
			c2after = "reached"
		end)
	`

	seen := 0
	func() {
		defer func() {
			r := recover()
			if r == nil {
				t.Fatal("expected the host panic to resume")
			}
			if r != payload {
				t.Fatalf("recovered %v, want the identical payload", r)
			}
			seen++
		}()
		_ = in.Run(script, "chunk")
		t.Fatal("Run returned instead of panicking")
	}()

	if seen != 1 {
		t.Fatalf("panic observed %d times, want exactly once", seen)
	}

	// none of the three catch blocks may have recorded a caught state
	for _, g := range []string{"c1", "c2", "c3", "c2after", "c3after"} {
		if v := mustGlobal(t, in, g); !v.IsNil() {
			t.Errorf("%s = %v, want nil (catch must not observe the panic)", g, v)
		}
	}

	// the carrier slot is clear: the instance keeps working
	if err := in.Run(`x = "alive"`, "after"); err != nil {
		t.Fatalf("instance unusable after resumed panic: %v", err)
	}
	if got := in.State().Top(); got != 0 {
		t.Errorf("stack depth after resume = %d, want 0", got)
	}
}

// xpcall handlers are also bypassed: the handler must not run for a
// carried panic.
func TestPanicBypassesXpcallHandler(t *testing.T) {
	in := newTestInstance(t)

	in.RegisterFunc("boom", func(in *Instance, s *engine.State) (int, error) {
		panic("boom")
	})

	func() {
		defer func() {
			if r := recover(); r != "boom" {
				t.Fatalf("recovered %v, want \"boom\"", r)
			}
		}()
		_ = in.Run(`caught = xpcall(function() boom() end, function(e) handled = "yes" return e end)`, "chunk")
	}()

	if v := mustGlobal(t, in, "handled"); !v.IsNil() {
		t.Error("xpcall handler ran for a carried panic")
	}
	if v := mustGlobal(t, in, "caught"); !v.IsNil() {
		t.Error("xpcall recorded a caught state for a carried panic")
	}
}

// A panic captured at depth N propagates through nested gates in call
// order and resumes only past depth zero.
func TestPanicThroughNestedGates(t *testing.T) {
	in := newTestInstance(t)

	var innerErr error
	in.RegisterFunc("deep", func(in *Instance, s *engine.State) (int, error) {
		panic("deep panic")
	})
	in.RegisterFunc("middle", func(in *Instance, s *engine.State) (int, error) {
		// host code between gates: run a nested protected call and
		// propagate its error outward like a well-behaved callback
		innerErr = in.Run(`deep()`, "nested")
		return 0, innerErr
	})

	func() {
		defer func() {
			if r := recover(); r != "deep panic" {
				t.Fatalf("recovered %v, want \"deep panic\"", r)
			}
		}()
		_ = in.Run(`middle()`, "outer")
	}()

	// the inner gate must have seen the carried panic as a tagged error,
	// not resumed it itself
	if _, ok := innerErr.(*taggedPanicError); !ok {
		t.Fatalf("inner gate returned %T, want *taggedPanicError", innerErr)
	}
}

// A second host panic while one is in flight is unsupported nesting and
// must hit the abort hook, not be dropped.
func TestSecondPanicWhileInFlightIsFatal(t *testing.T) {
	type abortMark struct{}
	var aborted *errors.Error

	in := newTestInstance(t, WithAbort(func(err *errors.Error) {
		aborted = err
		panic(abortMark{})
	}))

	in.RegisterFunc("first", func(in *Instance, s *engine.State) (int, error) {
		panic("first")
	})
	in.RegisterFunc("swallowAndPanic", func(in *Instance, s *engine.State) (int, error) {
		_ = in.Run(`first()`, "nested") // tagged error deliberately dropped
		panic("second")
	})

	func() {
		defer func() {
			r := recover()
			if _, ok := r.(abortMark); !ok {
				t.Fatalf("recovered %v (%T), want the abort mark", r, r)
			}
		}()
		_ = in.Run(`swallowAndPanic()`, "outer")
	}()

	if aborted == nil {
		t.Fatal("abort hook never called")
	}
	if aborted.Kind != errors.KindInvariant {
		t.Errorf("abort error kind = %q, want %q", aborted.Kind, errors.KindInvariant)
	}
}

func TestCrossInstanceHandleRejected(t *testing.T) {
	a := newTestInstance(t)
	b := newTestInstance(t)

	h, err := a.Compile(`return 1`, "chunk")
	if err != nil {
		t.Fatal(err)
	}

	_, err = b.Call(h, nil, 1)
	if err == nil {
		t.Fatal("expected cross-instance misuse")
	}
	e, ok := err.(*errors.Error)
	if !ok || e.Kind != errors.KindCrossInstance {
		t.Fatalf("err = %v, want KindCrossInstance", err)
	}

	// neither instance's stack was touched
	if got := a.State().Top(); got != 0 {
		t.Errorf("instance a stack depth = %d", got)
	}
	if got := b.State().Top(); got != 0 {
		t.Errorf("instance b stack depth = %d", got)
	}

	// the handle still works against its owner
	if _, err := a.Call(h, nil, 1); err != nil {
		t.Errorf("owner call failed: %v", err)
	}
}

// Calling a released handle is programmer misuse, reported alongside the
// other handle-misuse kinds, never as an internal-invariant failure.
func TestReleasedHandleRejectedAsMisuse(t *testing.T) {
	in := newTestInstance(t)

	h, err := in.Compile(`return 1`, "chunk")
	if err != nil {
		t.Fatal(err)
	}
	if err := in.Release(h); err != nil {
		t.Fatal(err)
	}

	_, err = in.Call(h, nil, 1)
	if err == nil {
		t.Fatal("expected misuse error for released handle")
	}
	e, ok := err.(*errors.Error)
	if !ok || e.Kind != errors.KindStaleHandle {
		t.Fatalf("err = %v, want KindStaleHandle", err)
	}
	if errors.IsInvariant(err) {
		t.Error("released-handle misuse must not classify as invariant")
	}
	if got := in.State().Top(); got != 0 {
		t.Errorf("stack depth = %d, want 0", got)
	}

	// the instance stays usable
	if err := in.Run(`x = 1`, "after"); err != nil {
		t.Fatalf("instance unusable after rejected call: %v", err)
	}
}

func TestZeroHandleRejected(t *testing.T) {
	in := newTestInstance(t)
	_, err := in.Call(Handle{}, nil, 0)
	if err == nil {
		t.Fatal("expected misuse error for zero handle")
	}
	if e, ok := err.(*errors.Error); !ok || e.Kind != errors.KindCrossInstance {
		t.Fatalf("err = %v, want KindCrossInstance", err)
	}
}

func TestClosedInstance(t *testing.T) {
	in, err := New()
	if err != nil {
		t.Fatal(err)
	}
	h, err := in.Compile(`return 1`, "chunk")
	if err != nil {
		t.Fatal(err)
	}
	if err := in.Close(); err != nil {
		t.Fatal(err)
	}
	if err := in.Close(); err != nil {
		t.Errorf("Close should be idempotent, got %v", err)
	}

	if _, err := in.Call(h, nil, 1); err == nil {
		t.Fatal("expected error using handle after close")
	} else if e, ok := err.(*errors.Error); !ok || e.Kind != errors.KindClosed {
		t.Fatalf("err = %v, want KindClosed", err)
	}

	if err := in.Run(`x = 1`, "chunk"); err == nil {
		t.Fatal("expected error running on closed instance")
	} else if e, ok := err.(*errors.Error); !ok || e.Kind != errors.KindClosed {
		t.Fatalf("err = %v, want KindClosed", err)
	}

	if err := in.RegisterFunc("f", func(*Instance, *engine.State) (int, error) { return 0, nil }); err == nil {
		t.Fatal("expected error registering on closed instance")
	}
}

// Stack-balance invariant: for nested protected calls, final depth equals
// entry depth plus declared results, wherever an error occurred.
func TestStackBalanceAcrossNestedCalls(t *testing.T) {
	in := newTestInstance(t)

	in.RegisterFunc("nested", func(inst *Instance, s *engine.State) (int, error) {
		// a nested gate that fails; its error is caught and discarded here
		_ = inst.Run(`error("inner")`, "inner")
		s.PushString("from nested")
		return 1, nil
	})

	entry := in.State().Top()
	err := in.ProtectedCall(2, 1, func(s *engine.State) error {
		s.Global("nested")
		s.Call(0, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("ProtectedCall: %v", err)
	}
	if got := in.State().Top(); got != entry+1 {
		t.Fatalf("depth = %d, want %d", got, entry+1)
	}
	if v, _ := in.State().ToString(-1); v != "from nested" {
		t.Errorf("result = %q", v)
	}
	in.State().Pop(1)

	// error at the outer level: zero extra values remain
	err = in.ProtectedCall(1, 1, func(s *engine.State) error {
		s.PushString("partial")
		return errors.Script(errors.PhaseGate, engine.String("abort"))
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if got := in.State().Top(); got != entry {
		t.Fatalf("depth after error = %d, want %d", got, entry)
	}
}

func TestGateDetectsLeakedResults(t *testing.T) {
	in := newTestInstance(t)

	err := in.ProtectedCall(3, 1, func(s *engine.State) error {
		s.PushNumber(1)
		s.PushNumber(2)
		s.PushNumber(3)
		return nil
	})
	if err == nil {
		t.Fatal("expected invariant violation for leaked results")
	}
	if !errors.IsInvariant(err) {
		t.Fatalf("err = %v, want invariant violation", err)
	}
	// the guard still repaired the stack
	if got := in.State().Top(); got != 0 {
		t.Errorf("depth after leak = %d, want 0", got)
	}
}

func TestStackGuardRestoreIdempotent(t *testing.T) {
	in := newTestInstance(t)
	s := in.State()

	s.PushNumber(1)
	m := markStack(s)
	s.PushString("r1")
	s.PushString("r2")

	if err := m.restore(s, 2, true); err != nil {
		t.Fatalf("restore: %v", err)
	}
	top := s.Top()
	if err := m.restore(s, 2, true); err != nil {
		t.Fatalf("second restore: %v", err)
	}
	if got := s.Top(); got != top {
		t.Errorf("second restore changed depth: %d -> %d", top, got)
	}
	s.SetTop(0)
}

func TestStackGuardUnderflowIsInvariant(t *testing.T) {
	in := newTestInstance(t)
	s := in.State()

	s.PushNumber(1)
	s.PushNumber(2)
	m := markStack(s)
	s.Pop(1) // consumed below the mark

	err := m.restore(s, 0, false)
	if err == nil {
		t.Fatal("expected invariant violation for underflow")
	}
	if err.Kind != errors.KindInvariant {
		t.Errorf("Kind = %q, want %q", err.Kind, errors.KindInvariant)
	}
	// repaired back to the mark
	if got := s.Top(); got != 2 {
		t.Errorf("depth = %d, want 2", got)
	}
	s.SetTop(0)
}

func TestAllocLimitHitsAbortHook(t *testing.T) {
	type abortMark struct{}
	var aborted *errors.Error

	in := newTestInstance(t,
		WithAllocLimit(16),
		WithAbort(func(err *errors.Error) {
			aborted = err
			panic(abortMark{})
		}))

	func() {
		defer func() {
			r := recover()
			if _, ok := r.(abortMark); !ok {
				t.Fatalf("recovered %v (%T), want the abort mark", r, r)
			}
		}()
		// no error value is ever returned: the abort fires mid-call
		_ = in.Run(`x = "a long enough string to blow a tiny budget" .. "padding"`, "chunk")
		t.Fatal("Run returned despite allocation failure")
	}()

	if aborted == nil {
		t.Fatal("abort hook never called")
	}
	if aborted.Kind != errors.KindAllocation {
		t.Errorf("Kind = %q, want %q", aborted.Kind, errors.KindAllocation)
	}
}

func TestAllocatedBytesGrows(t *testing.T) {
	in := newTestInstance(t)
	before := in.AllocatedBytes()
	if err := in.Run(`x = "abc" .. "def"`, "chunk"); err != nil {
		t.Fatal(err)
	}
	if in.AllocatedBytes() <= before {
		t.Error("allocation accounting did not grow")
	}
}

// Comparing userdata whose payload the Go runtime cannot compare (slices,
// maps) must come back through the gate as a result, never as a runtime
// panic unwinding host frames.
func TestUserDataComparisonStaysInsideGate(t *testing.T) {
	in := newTestInstance(t)

	if err := in.SetGlobal("a", engine.UserData([]int{1, 2})); err != nil {
		t.Fatal(err)
	}
	if err := in.SetGlobal("b", engine.UserData([]int{1, 2})); err != nil {
		t.Fatal(err)
	}

	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("comparison panic crossed the gate: %v", r)
		}
	}()
	if err := in.Run(`c = a == b`, "chunk"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if v := mustGlobal(t, in, "c"); !v.Equals(engine.Bool(false)) {
		t.Errorf("c = %v, want false", v)
	}
	if got := in.State().Top(); got != 0 {
		t.Errorf("stack depth = %d, want 0", got)
	}
}

func TestInstancesRunConcurrently(t *testing.T) {
	const n = 8
	done := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			in, err := New()
			if err != nil {
				done <- err
				return
			}
			defer in.Close()
			script := fmt.Sprintf(`function f(x) return x * 2 end r = f(%d)`, i)
			for j := 0; j < 50; j++ {
				if err := in.Run(script, "chunk"); err != nil {
					done <- err
					return
				}
			}
			v, err := in.GetGlobal("r")
			if err != nil {
				done <- err
				return
			}
			if !v.Equals(engine.Number(float64(i * 2))) {
				done <- fmt.Errorf("instance %d: r = %v", i, v)
				return
			}
			done <- nil
		}(i)
	}
	for i := 0; i < n; i++ {
		if err := <-done; err != nil {
			t.Error(err)
		}
	}
}
