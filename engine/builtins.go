package engine

import (
	"fmt"
	"strings"
)

func (s *State) registerBuiltins() {
	s.Register("error", builtinError)
	s.Register("pcall", builtinPcall)
	s.Register("xpcall", builtinXpcall)
	s.Register("type", builtinType)
	s.Register("tostring", builtinToString)
	s.Register("print", builtinPrint)
}

// error(v) raises v as a script error.
func builtinError(s *State) int {
	s.Raise(s.Get(1))
	return 0
}

// pcall(f, ...) calls f protected. It returns the raised value on failure
// and nil on success; f's own results are discarded. This is the default
// catch primitive; an embedding boundary may rebind it.
func builtinPcall(s *State) int {
	n := s.Top()
	if n < 1 {
		s.Raise(String("pcall: missing function"))
	}
	if err := s.ProtectedCall(n-1, 0); err != nil {
		s.Push(err.(*RaisedError).Value)
		return 1
	}
	s.PushNil()
	return 1
}

// xpcall(f, h, ...) is pcall with the raised value routed through handler h.
// The handler runs unprotected: a raise inside it propagates to the caller.
func builtinXpcall(s *State) int {
	n := s.Top()
	if n < 2 {
		s.Raise(String("xpcall: function and handler required"))
	}
	f := s.Get(1)
	h := s.Get(2)
	args := make([]Value, 0, n-2)
	for i := 3; i <= n; i++ {
		args = append(args, s.Get(i))
	}

	s.SetTop(0)
	s.Push(f)
	for _, a := range args {
		s.Push(a)
	}

	if err := s.ProtectedCall(len(args), 0); err != nil {
		res := s.callValue(h, []Value{err.(*RaisedError).Value})
		if len(res) == 0 {
			s.PushNil()
		} else {
			s.Push(res[0])
		}
		return 1
	}
	s.PushNil()
	return 1
}

func builtinType(s *State) int {
	if s.Top() < 1 {
		s.Raise(String("type: value required"))
	}
	s.PushString(s.TypeOf(1).TypeName())
	return 1
}

func builtinToString(s *State) int {
	if s.Top() < 1 {
		s.Raise(String("tostring: value required"))
	}
	s.PushString(s.Get(1).String())
	return 1
}

func builtinPrint(s *State) int {
	parts := make([]string, s.Top())
	for i := range parts {
		parts[i] = s.Get(i + 1).String()
	}
	fmt.Fprintln(s.out, strings.Join(parts, "\t"))
	return 0
}
