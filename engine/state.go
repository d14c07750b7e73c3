package engine

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
)

const (
	// maxCallDepth bounds script/host call recursion before the engine
	// raises "stack overflow" as an ordinary script error.
	maxCallDepth = 200

	// minStackSlack is how many free slots CheckStack guarantees beyond
	// the requested count.
	minStackSlack = 4
)

// Allocator is the single allocation-accounting hook. It is consulted with
// the byte size of every engine-side allocation: stack growth, chunk
// compilation, closure capture, string building, and registry growth.
// Returning false denies the allocation; the engine treats a denied
// allocation as unrecoverable and unwinds with a non-script panic. An
// installed hook that cannot satisfy a request is expected not to return.
type Allocator func(size int) bool

// allocDenied is the panic payload for a denied allocation. It is not a
// script raise: protected calls do not intercept it.
type allocDenied struct{ size int }

// raise is the engine's internal error channel: a panic carrying a script
// value, recovered only by protected-call frames.
type raise struct{ value Value }

// Raise signals a script error carrying v. It propagates like any internal
// engine error: through every intermediate frame, with frame cleanup, until
// a protected call intercepts it. Callable from Go functions invoked by
// script code; never returns.
func (s *State) Raise(v Value) {
	panic(&raise{value: v})
}

// IsRaise reports whether a recovered panic value is an engine raise, and
// if so returns the raised script value. It exists so a host boundary can
// tell engine raises from foreign panics without access to the channel.
func IsRaise(r any) (Value, bool) {
	if rr, ok := r.(*raise); ok {
		return rr.value, true
	}
	return Value{}, false
}

// RaisedError is the ordinary-result form of an intercepted raise, returned
// by ProtectedCall.
type RaisedError struct {
	Value Value
}

func (e *RaisedError) Error() string {
	return "script raised: " + e.Value.String()
}

// State is one interpreter state: a value stack, globals, and a registry of
// pinned values. A State is not safe for concurrent use.
type State struct {
	stack     []Value
	base      int // absolute index of the current Go-call frame's first slot
	globals   map[string]Value
	registry  []Value
	freeRefs  []int
	allocFn   Allocator
	out       io.Writer
	callDepth int
}

// NewState creates a fresh interpreter state with the default builtins
// (error, pcall, xpcall, type, tostring, print) registered.
func NewState() *State {
	s := &State{
		stack:   make([]Value, 0, 32),
		globals: make(map[string]Value),
		out:     os.Stdout,
	}
	s.registerBuiltins()
	return s
}

// SetAllocator installs the allocation-accounting hook. Pass nil to remove.
func (s *State) SetAllocator(f Allocator) { s.allocFn = f }

// SetOutput redirects print output. The default is os.Stdout.
func (s *State) SetOutput(w io.Writer) { s.out = w }

func (s *State) alloc(size int) {
	if s.allocFn != nil && !s.allocFn(size) {
		Logger().Error("allocation denied with no abort hook", zap.Int("size", size))
		panic(allocDenied{size: size})
	}
}

// --- stack primitives ---

// Top returns the number of values on the current frame's stack.
func (s *State) Top() int { return len(s.stack) - s.base }

// AbsIndex converts an acceptable index into an absolute positive index.
func (s *State) AbsIndex(i int) int {
	if i >= 0 {
		return i
	}
	return s.Top() + i + 1
}

func (s *State) absSlot(i int) (int, bool) {
	i = s.AbsIndex(i)
	if i < 1 || i > s.Top() {
		return 0, false
	}
	return s.base + i - 1, true
}

// Get returns the value at index i (1-based; negative counts from the top).
// Out-of-range indices return nil.
func (s *State) Get(i int) Value {
	slot, ok := s.absSlot(i)
	if !ok {
		return Nil()
	}
	return s.stack[slot]
}

// TypeOf returns the type of the value at index i.
func (s *State) TypeOf(i int) Type { return s.Get(i).Type() }

// SetTop grows (with nils) or shrinks the current frame's stack to n values.
func (s *State) SetTop(n int) {
	if n < 0 {
		n = s.Top() + n
	}
	if n < 0 {
		s.Raise(String("settop: negative stack size"))
	}
	target := s.base + n
	for len(s.stack) < target {
		s.push(Nil())
	}
	s.stack = s.stack[:target]
}

// Pop removes the top n values.
func (s *State) Pop(n int) { s.SetTop(s.Top() - n) }

// CheckStack ensures room for at least n more values, growing the backing
// array through the allocator hook. It always reports true; a denied
// allocation never returns here.
func (s *State) CheckStack(n int) bool {
	need := len(s.stack) + n + minStackSlack
	if need > cap(s.stack) {
		s.alloc((need - cap(s.stack)) * 16)
		grown := make([]Value, len(s.stack), need*2)
		copy(grown, s.stack)
		s.stack = grown
	}
	return true
}

func (s *State) push(v Value) {
	if len(s.stack) == cap(s.stack) {
		s.CheckStack(1)
	}
	s.stack = append(s.stack, v)
}

// Push pushes a value.
func (s *State) Push(v Value) { s.push(v) }

// PushNil pushes nil.
func (s *State) PushNil() { s.push(Nil()) }

// PushBoolean pushes a boolean.
func (s *State) PushBoolean(b bool) { s.push(Bool(b)) }

// PushNumber pushes a number.
func (s *State) PushNumber(n float64) { s.push(Number(n)) }

// PushString pushes a string.
func (s *State) PushString(str string) {
	s.alloc(len(str))
	s.push(String(str))
}

// PushUserData pushes an opaque host value.
func (s *State) PushUserData(v any) { s.push(UserData(v)) }

// PushGoFunction pushes a host function.
func (s *State) PushGoFunction(name string, fn GoFunc) {
	s.push(goFuncValue(&goClosure{fn: fn, name: name}))
}

// PushValue pushes a copy of the value at index i.
func (s *State) PushValue(i int) { s.push(s.Get(i)) }

// ToString returns the value at i if it is a string.
func (s *State) ToString(i int) (string, bool) { return s.Get(i).AsString() }

// ToNumber returns the value at i if it is a number.
func (s *State) ToNumber(i int) (float64, bool) { return s.Get(i).AsNumber() }

// ToBoolean returns the truthiness of the value at i.
func (s *State) ToBoolean(i int) bool { return s.Get(i).Truthy() }

// ToUserData returns the value at i if it is userdata.
func (s *State) ToUserData(i int) (any, bool) { return s.Get(i).AsUserData() }

// --- globals ---

// Global pushes the global with the given name (nil if unset).
func (s *State) Global(name string) {
	s.push(s.globals[name])
}

// SetGlobal pops the top value and binds it to the global name.
func (s *State) SetGlobal(name string) {
	if s.Top() < 1 {
		s.Raise(String("setglobal: empty stack"))
	}
	v := s.Get(-1)
	s.Pop(1)
	if v.IsNil() {
		delete(s.globals, name)
		return
	}
	s.globals[name] = v
}

// Register binds a host function as a global. Rebinding an existing name
// replaces it; this is the override point for the catch primitives.
func (s *State) Register(name string, fn GoFunc) {
	s.globals[name] = goFuncValue(&goClosure{fn: fn, name: name})
}

// --- registry ---

// Ref pops the top value, pins it in the registry, and returns its id.
func (s *State) Ref() int {
	if s.Top() < 1 {
		s.Raise(String("ref: empty stack"))
	}
	v := s.Get(-1)
	s.Pop(1)
	if n := len(s.freeRefs); n > 0 {
		id := s.freeRefs[n-1]
		s.freeRefs = s.freeRefs[:n-1]
		s.registry[id-1] = v
		return id
	}
	s.alloc(16)
	s.registry = append(s.registry, v)
	return len(s.registry)
}

// PushRef pushes the pinned value for id. It reports false for an id that
// was never issued or has been released.
func (s *State) PushRef(id int) bool {
	if id < 1 || id > len(s.registry) {
		return false
	}
	v := s.registry[id-1]
	if v.IsNil() {
		return false
	}
	s.push(v)
	return true
}

// Unref releases a pinned value. Releasing an invalid id is a no-op.
func (s *State) Unref(id int) {
	if id < 1 || id > len(s.registry) {
		return
	}
	if s.registry[id-1].IsNil() {
		return
	}
	s.registry[id-1] = Nil()
	s.freeRefs = append(s.freeRefs, id)
}

// --- chunks and calls ---

// Load compiles src as a chunk and pushes the resulting function. A parse
// failure is returned as an ordinary error (*SyntaxError), never raised.
func (s *State) Load(src, chunk string) error {
	stmts, err := parse(src, chunk)
	if err != nil {
		Logger().Debug("chunk failed to compile",
			zap.String("chunk", chunk),
			zap.Error(err))
		return err
	}
	s.alloc(len(src))
	s.push(funcValue(&Function{name: chunk, body: stmts}))
	return nil
}

// Call invokes the function at stack position top-nargs, with the nargs
// values above it as arguments; function and arguments are consumed and
// exactly nresults values are pushed (padded with nil, extras dropped).
// Internal errors unwind as raises: use ProtectedCall unless a protected
// frame is already below.
func (s *State) Call(nargs, nresults int) {
	if nargs < 0 || nresults < 0 {
		s.Raise(String("call: negative count"))
	}
	top := len(s.stack)
	fnAbs := top - nargs - 1
	if fnAbs < s.base {
		s.Raise(String("call: function and arguments not on stack"))
	}
	fn := s.stack[fnAbs]
	args := make([]Value, nargs)
	copy(args, s.stack[fnAbs+1:top])
	s.stack = s.stack[:fnAbs]

	results := s.callValue(fn, args)

	s.CheckStack(nresults)
	for i := 0; i < nresults; i++ {
		if i < len(results) {
			s.push(results[i])
		} else {
			s.push(Nil())
		}
	}
}

// ProtectedCall is the interpreter's protected-call primitive: like Call,
// but raises from the called function (and anything beneath it) are
// intercepted and returned as a *RaisedError with the stack restored to its
// pre-call state. Foreign panics are not intercepted.
func (s *State) ProtectedCall(nargs, nresults int) (err error) {
	if nargs < 0 || len(s.stack)-nargs-1 < s.base {
		return &RaisedError{Value: String("pcall: function and arguments not on stack")}
	}
	fnAbs := len(s.stack) - nargs - 1
	savedBase := s.base
	savedDepth := s.callDepth

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		v, ok := IsRaise(r)
		if !ok {
			panic(r)
		}
		s.base = savedBase
		s.callDepth = savedDepth
		s.stack = s.stack[:fnAbs]
		err = &RaisedError{Value: v}
	}()

	s.Call(nargs, nresults)
	return nil
}

// callValue dispatches a call with already-popped arguments and returns the
// results. Recursion depth is bounded; overflow raises.
func (s *State) callValue(fn Value, args []Value) []Value {
	if s.callDepth >= maxCallDepth {
		s.Raise(String("stack overflow"))
	}
	s.callDepth++
	defer func() { s.callDepth-- }()

	switch fn.t {
	case TypeGoFunction:
		frame := len(s.stack)
		s.CheckStack(len(args))
		for _, a := range args {
			s.push(a)
		}
		savedBase := s.base
		s.base = frame
		defer func() { s.base = savedBase }()

		n := fn.gf.fn(s)
		if n < 0 {
			n = 0
		}
		if n > s.Top() {
			s.Raise(String(fmt.Sprintf("go function %q returned %d results with %d on stack", fn.gf.name, n, s.Top())))
		}
		results := make([]Value, n)
		copy(results, s.stack[len(s.stack)-n:])
		s.stack = s.stack[:frame]
		return results

	case TypeFunction:
		env := newScope(fn.fn.env)
		for i, p := range fn.fn.params {
			if i < len(args) {
				env.vars[p] = args[i]
			} else {
				env.vars[p] = Nil()
			}
		}
		ret, has := s.execBlock(fn.fn.body, env)
		if !has {
			return nil
		}
		return []Value{ret}

	default:
		s.Raise(String("attempt to call a " + fn.t.TypeName() + " value"))
		return nil
	}
}
