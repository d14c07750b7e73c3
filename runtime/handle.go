package runtime

import (
	"github.com/wippyai/script-runtime/errors"
)

// Handle is an opaque reference to an engine value pinned in an instance's
// registry, tagged with the owning instance. A Handle is only meaningful
// against its owner: provenance is validated before any engine access, so
// a handle can never touch a foreign instance's stack.
type Handle struct {
	owner uint64
	ref   int
}

// Valid reports whether h was ever issued. The zero Handle is invalid.
func (h Handle) Valid() bool { return h.owner != 0 }

// ValidateHandle checks that h belongs to target. It reports cross-instance
// misuse eagerly, before any interpreter-internal call is attempted, and
// use of a closed instance the same way.
func ValidateHandle(h Handle, target *Instance) error {
	if target == nil || target.closed {
		return errors.Closed(errors.PhaseHandle, "handle validation")
	}
	if !h.Valid() {
		return errors.New(errors.PhaseHandle, errors.KindCrossInstance).
			Detail("zero handle").Build()
	}
	if h.owner != target.id {
		return errors.CrossInstance(errors.PhaseHandle, h.owner, target.id)
	}
	return nil
}

// pin pops the top of the stack into the registry and returns its handle.
// Callers hold a validated, open instance.
func (in *Instance) pin() Handle {
	return Handle{owner: in.id, ref: in.eng.Ref()}
}

// Release unpins the value behind h. Releasing an already-released handle
// is a no-op; releasing against the wrong instance is misuse.
func (in *Instance) Release(h Handle) error {
	if err := ValidateHandle(h, in); err != nil {
		return err
	}
	in.eng.Unref(h.ref)
	return nil
}
