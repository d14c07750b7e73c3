package runtime

import (
	"go.uber.org/zap"

	"github.com/wippyai/script-runtime/engine"
	"github.com/wippyai/script-runtime/errors"
)

// panicSentinel is the script-visible marker for a carried host panic. It
// travels through the engine's own error channel as a userdata value, so
// the interpreter's stack cleanup runs exactly as it does for an ordinary
// script error, while staying identity-distinguishable from every value a
// script could construct.
type panicSentinel struct {
	owner uint64
}

// taggedPanicError is the host-side form of the sentinel: what a gate
// returns to the host frames between two nesting levels while a carried
// panic is in flight. It never escapes the outermost gate, which converts
// it back into the resumed panic.
type taggedPanicError struct {
	owner uint64
}

func (e *taggedPanicError) Error() string {
	return "internal error: panic in progress"
}

func (in *Instance) isTagged(v engine.Value) bool {
	ud, ok := v.AsUserData()
	return ok && ud == in.sentinel
}

// capturePanic stores a host panic payload for later resumption. At most
// one payload may be live per instance: a second panic while one is in
// flight is unsupported nesting and fatal.
func (in *Instance) capturePanic(r any) {
	if in.payloadSet {
		in.fatal(errors.Invariant(errors.PhaseCallback,
			"host panic while another is in flight: first %v, then %v", in.payload, r))
	}
	in.payload = r
	in.payloadSet = true
}

func (in *Instance) takePayload() any {
	r := in.payload
	in.payload = nil
	in.payloadSet = false
	return r
}

// fatal reports an internal-invariant violation through the abort hook.
func (in *Instance) fatal(err *errors.Error) {
	in.log.Error("internal invariant violated", zap.Error(err))
	in.abort(err)
	panic(err) // a conforming abort does not return
}

// WrapCallback installs the panic carrier around one host callback: the
// returned engine function is safe to hand to the interpreter. On a host
// panic inside cb, the shim captures the payload before it can cross into
// interpreter frames, then relays the tagged sentinel through the engine's
// raise channel; the original panic resumes once the outermost gate
// returns control to host code. Engine raises pass through untouched —
// they already travel the channel the interpreter expects.
//
// An error returned by cb is raised as a script error and can be caught by
// script code like any other.
func (in *Instance) WrapCallback(name string, cb Callback) engine.GoFunc {
	return func(s *engine.State) (nresults int) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			if _, ok := engine.IsRaise(r); ok {
				panic(r)
			}
			if e, ok := r.(*errors.Error); ok && e.Kind == errors.KindAllocation {
				panic(r)
			}
			in.log.Debug("host panic captured at callback shim",
				zap.String("callback", name),
				zap.Any("payload", r))
			in.capturePanic(r)
			s.Raise(engine.UserData(in.sentinel))
		}()

		n, err := cb(in, s)
		if err != nil {
			in.raiseError(s, err)
		}
		return n
	}
}

// RegisterFunc binds a host callback as a script-visible global, wrapped in
// the panic carrier.
func (in *Instance) RegisterFunc(name string, cb Callback) error {
	if in.closed {
		return errors.Closed(errors.PhaseCallback, "register "+name)
	}
	in.eng.Register(name, in.WrapCallback(name, cb))
	return nil
}

// raiseError relays a host error through the engine's raise channel.
// Tagged panic errors become the sentinel again; script errors carrying an
// engine value raise that value verbatim; anything else is wrapped as
// userdata so the outermost gate can return the identical error object.
func (in *Instance) raiseError(s *engine.State, err error) {
	if te, ok := err.(*taggedPanicError); ok && te.owner == in.id {
		s.Raise(engine.UserData(in.sentinel))
	}
	if e, ok := err.(*errors.Error); ok && e.Kind == errors.KindScript {
		if v, ok := e.Value.(engine.Value); ok {
			s.Raise(v)
		}
	}
	s.Raise(engine.UserData(err))
}

// guardedPcall replaces the engine's pcall builtin. Identical contract,
// with one exception: an in-flight tagged panic is detected and re-raised
// unconditionally, so script code can never observe or suppress it.
func (in *Instance) guardedPcall(s *engine.State) int {
	n := s.Top()
	if n < 1 {
		s.Raise(engine.String("pcall: missing function"))
	}
	if err := s.ProtectedCall(n-1, 0); err != nil {
		v := err.(*engine.RaisedError).Value
		if in.isTagged(v) {
			s.Raise(v)
		}
		s.Push(v)
		return 1
	}
	s.PushNil()
	return 1
}

// guardedXpcall replaces xpcall. The handler never runs for a tagged panic:
// the sentinel re-raises before any script-visible code can touch it.
func (in *Instance) guardedXpcall(s *engine.State) int {
	n := s.Top()
	if n < 2 {
		s.Raise(engine.String("xpcall: function and handler required"))
	}
	f := s.Get(1)
	h := s.Get(2)
	args := make([]engine.Value, 0, n-2)
	for i := 3; i <= n; i++ {
		args = append(args, s.Get(i))
	}

	s.SetTop(0)
	s.Push(f)
	for _, a := range args {
		s.Push(a)
	}

	if err := s.ProtectedCall(len(args), 0); err != nil {
		v := err.(*engine.RaisedError).Value
		if in.isTagged(v) {
			s.Raise(v)
		}
		s.Push(h)
		s.Push(v)
		s.Call(1, 1)
		return 1
	}
	s.PushNil()
	return 1
}
