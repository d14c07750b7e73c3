// Package scriptruntime embeds a small stack-based scripting interpreter
// behind a host safety boundary.
//
// The interpreter reports internal errors as non-local jumps; this library
// exists so those jumps, and panics raised inside host callbacks the
// interpreter invokes, never unwind host frames uncontrolled.
//
// # Architecture Overview
//
// The library is organized into packages with distinct responsibilities:
//
//	script-runtime/
//	├── runtime/    The safety boundary: protected call gate, panic
//	│               carrier, stack guard, handle registry, allocator shim
//	├── engine/     The embedded interpreter: C-style stack API, raise
//	│               channel, protected calls, catch-primitive overrides
//	├── errors/     Structured error taxonomy shared by both layers
//	└── cmd/run/    Script runner and interactive REPL
//
// # Quick Start
//
// Run a script with the boundary installed:
//
//	in, err := runtime.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer in.Close()
//
//	in.RegisterFunc("greet", func(in *runtime.Instance, s *engine.State) (int, error) {
//	    name, _ := s.ToString(1)
//	    s.PushString("hello, " + name)
//	    return 1, nil
//	})
//
//	if err := in.Run(`print(greet("world"))`, "demo"); err != nil {
//	    log.Fatal(err)
//	}
//
// Script errors come back as *errors.Error values; a panic inside a
// registered callback travels across the interpreter untouchably and
// resumes on the host side of the outermost protected call.
package scriptruntime
