package runtime

import (
	"go.uber.org/zap"

	"github.com/wippyai/script-runtime/engine"
	"github.com/wippyai/script-runtime/errors"
)

// Op is one raw interpreter operation executed inside a protected window.
// It may use the full stack API, including raw Call; any raise it triggers
// is intercepted at the gate. Values it leaves on its frame are the
// operation's results.
type Op func(s *engine.State) error

// ProtectedCall is the protected call gate: the single boundary through
// which every raw engine operation runs. requiredDepth is the stack head-
// room op needs; declaredResults is how many values op leaves behind. On
// success exactly declaredResults values remain above the entry mark; on
// error, none. Internal engine errors come back as *errors.Error values
// and never propagate past this boundary un-intercepted.
//
// While a carried host panic is in flight, inner gates return it as a
// tagged error; when the outermost gate exits, the original panic resumes
// on the host side with its payload intact.
func (in *Instance) ProtectedCall(requiredDepth, declaredResults int, op Op) error {
	if in.closed {
		return errors.Closed(errors.PhaseGate, "protected call")
	}
	if declaredResults < 0 || requiredDepth < 0 {
		return errors.New(errors.PhaseGate, errors.KindInvariant).
			Detail("negative depth or result count").Build()
	}

	err := in.protect(requiredDepth, declaredResults, op)

	// Back at depth zero: if a captured panic is still pending — whether or
	// not every intermediate frame propagated the tagged error faithfully —
	// resume it now, exactly once.
	if in.gateDepth == 0 && in.payloadSet {
		r := in.takePayload()
		in.log.Debug("resuming carried host panic", zap.Any("payload", r))
		panic(r)
	}
	return err
}

func (in *Instance) protect(requiredDepth, declaredResults int, op Op) error {
	in.gateDepth++
	defer func() { in.gateDepth-- }()

	mark := markStack(in.eng)
	in.eng.CheckStack(requiredDepth + declaredResults + 2)

	// The op runs as an engine function under the engine's own protected
	// call, so raises are caught by the mechanism whose cleanup semantics
	// the interpreter guarantees.
	leaked := 0
	in.eng.PushGoFunction("gate", func(s *engine.State) int {
		if err := op(s); err != nil {
			in.raiseError(s, err)
		}
		if got := s.Top(); got > declaredResults {
			leaked = got
		}
		return s.Top()
	})

	callErr := in.eng.ProtectedCall(0, declaredResults)

	if callErr == nil {
		if rerr := mark.restore(in.eng, declaredResults, true); rerr != nil {
			in.log.Error("stack guard violation", zap.Error(rerr))
			return rerr
		}
		if leaked != 0 {
			mark.restore(in.eng, 0, false)
			rerr := errors.Invariant(errors.PhaseGate,
				"operation left %d values, declared %d", leaked, declaredResults)
			in.log.Error("stack guard violation", zap.Error(rerr))
			return rerr
		}
		return nil
	}

	raised := callErr.(*engine.RaisedError).Value
	if rerr := mark.restore(in.eng, 0, false); rerr != nil {
		in.log.Error("stack guard violation", zap.Error(rerr))
		return rerr
	}

	if in.isTagged(raised) {
		return &taggedPanicError{owner: in.id}
	}
	return in.hostError(raised)
}

// hostError converts an intercepted raised value into the error the host
// observes. Host errors that were relayed through the channel as userdata
// round-trip back to the identical error object.
func (in *Instance) hostError(v engine.Value) error {
	if ud, ok := v.AsUserData(); ok {
		if err, ok := ud.(error); ok {
			return err
		}
	}
	return errors.Script(errors.PhaseGate, v)
}
