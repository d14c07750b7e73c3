package runtime

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/script-runtime/engine"
	"github.com/wippyai/script-runtime/errors"
)

// instanceSeq issues instance tags. Tag 0 is never issued, so the zero
// Handle can never validate.
var instanceSeq atomic.Uint64

// Callback is a host function invoked from script code. Arguments are on
// the state's stack; the int is the number of results pushed. A returned
// error is raised as a script error. A panic inside a Callback is carried
// across the interpreter and resumes on the host side of the outermost
// protected call.
type Callback func(in *Instance, s *engine.State) (int, error)

// Instance owns one interpreter state, its allocator shim, and the
// registry of handles derived from it. An Instance is single-threaded;
// distinct Instances are independent and may run concurrently.
type Instance struct {
	id       uint64
	eng      *engine.State
	alloc    *allocShim
	abort    AbortFunc
	log      *zap.Logger
	sentinel *panicSentinel

	// panic carrier slot: at most one live payload per instance
	payload    any
	payloadSet bool

	gateDepth int
	closed    bool
}

// Option configures an Instance.
type Option func(*Instance)

// WithLogger sets the instance logger. The default is a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(in *Instance) { in.log = l }
}

// WithAllocLimit caps the total bytes of engine-side allocation the
// instance may request. Exceeding the budget is an allocation failure:
// the shim aborts. Zero means unlimited.
func WithAllocLimit(bytes int64) Option {
	return func(in *Instance) { in.alloc.limit = bytes }
}

// WithAbort replaces the process-exit abort hook. A conforming hook must
// not return.
func WithAbort(f AbortFunc) Option {
	return func(in *Instance) { in.abort = f }
}

// New creates an interpreter instance with the full boundary installed:
// allocator shim hooked into the engine, catch primitives replaced with
// sentinel-aware versions.
func New(opts ...Option) (*Instance, error) {
	in := &Instance{
		id:    instanceSeq.Add(1),
		eng:   engine.NewState(),
		abort: defaultAbort,
		log:   zap.NewNop(),
	}
	in.sentinel = &panicSentinel{owner: in.id}
	in.alloc = newAllocShim(0, defaultAbort, in.log)

	for _, opt := range opts {
		opt(in)
	}
	in.alloc.abort = in.abort
	in.alloc.log = in.log

	in.eng.SetAllocator(in.alloc.hook)
	in.eng.Register("pcall", in.guardedPcall)
	in.eng.Register("xpcall", in.guardedXpcall)

	in.log.Debug("instance created", zap.Uint64("id", in.id))
	return in, nil
}

// ID returns the instance's provenance tag.
func (in *Instance) ID() uint64 { return in.id }

// AllocatedBytes returns the total engine-side allocation requested so far.
func (in *Instance) AllocatedBytes() int64 { return in.alloc.Used() }

// State exposes the raw engine state for use inside Op and Callback bodies.
// Using it outside a protected window forfeits every guarantee the
// boundary provides.
func (in *Instance) State() *engine.State { return in.eng }

// Close destroys the instance. Every handle derived from it is invalidated;
// later use is reported, not tolerated. Close is idempotent.
func (in *Instance) Close() error {
	if in.closed {
		return nil
	}
	if in.gateDepth > 0 {
		return errors.Invariant(errors.PhaseGate, "close inside a protected call")
	}
	in.closed = true
	in.log.Debug("instance closed", zap.Uint64("id", in.id))
	return nil
}

// Compile compiles src as a chunk and pins the resulting function.
func (in *Instance) Compile(src, name string) (Handle, error) {
	var h Handle
	err := in.ProtectedCall(1, 0, func(s *engine.State) error {
		if lerr := s.Load(src, name); lerr != nil {
			return errors.Parse(name, lerr)
		}
		h = in.pin()
		return nil
	})
	if err != nil {
		return Handle{}, err
	}
	return h, nil
}

// Call invokes the pinned function behind h with args, returning exactly
// nresults values. Handle provenance is validated before the engine is
// touched.
func (in *Instance) Call(h Handle, args []engine.Value, nresults int) ([]engine.Value, error) {
	if err := ValidateHandle(h, in); err != nil {
		return nil, err
	}
	if nresults < 0 {
		nresults = 0
	}

	err := in.ProtectedCall(len(args)+1, nresults, func(s *engine.State) error {
		if !s.PushRef(h.ref) {
			return errors.StaleHandle(errors.PhaseHandle, h.ref)
		}
		for _, a := range args {
			s.Push(a)
		}
		s.Call(len(args), nresults)
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]engine.Value, nresults)
	top := in.eng.Top()
	for i := 0; i < nresults; i++ {
		out[i] = in.eng.Get(top - nresults + 1 + i)
	}
	in.eng.Pop(nresults)
	return out, nil
}

// Run compiles and executes src, discarding results.
func (in *Instance) Run(src, name string) error {
	h, err := in.Compile(src, name)
	if err != nil {
		return err
	}
	defer in.Release(h)
	_, err = in.Call(h, nil, 0)
	return err
}

// SetGlobal binds a script-visible global.
func (in *Instance) SetGlobal(name string, v engine.Value) error {
	return in.ProtectedCall(1, 0, func(s *engine.State) error {
		s.Push(v)
		s.SetGlobal(name)
		return nil
	})
}

// GetGlobal reads a script-visible global.
func (in *Instance) GetGlobal(name string) (engine.Value, error) {
	var v engine.Value
	err := in.ProtectedCall(1, 0, func(s *engine.State) error {
		s.Global(name)
		v = s.Get(-1)
		s.Pop(1)
		return nil
	})
	if err != nil {
		return engine.Nil(), err
	}
	return v, nil
}
