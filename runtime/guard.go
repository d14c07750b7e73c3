package runtime

import (
	"github.com/wippyai/script-runtime/engine"
	"github.com/wippyai/script-runtime/errors"
)

// stackMark is a stack-depth snapshot taken at gate entry. Every gate exit
// path, success or failure, brings the engine stack back to
// mark + declaredResults.
type stackMark struct {
	top int
}

func markStack(s *engine.State) stackMark {
	return stackMark{top: s.Top()}
}

// restore adjusts the stack to mark + declaredResults. It is idempotent: on
// an already-correct stack it performs no push or pop. strict is the
// success path, where a depth mismatch means the protected window leaked or
// consumed values and is reported as an invariant violation instead of
// being silently papered over; the stack is still repaired so the engine
// stays usable.
func (m stackMark) restore(s *engine.State, declaredResults int, strict bool) *errors.Error {
	want := m.top + declaredResults
	top := s.Top()
	if top == want {
		return nil
	}

	if top < m.top {
		s.SetTop(want)
		return errors.Invariant(errors.PhaseGate,
			"stack underflow: depth %d fell below mark %d", top, m.top)
	}

	s.SetTop(want)
	if strict {
		return errors.Invariant(errors.PhaseGate,
			"stack leak: depth %d after call, want %d", top, want)
	}
	return nil
}
