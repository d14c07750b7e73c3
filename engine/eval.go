package engine

import "fmt"

// scope is one lexical environment: function parameters and the variables
// first assigned in that function. Unresolved names fall through to globals.
type scope struct {
	vars   map[string]Value
	parent *scope
}

func newScope(parent *scope) *scope {
	return &scope{vars: make(map[string]Value), parent: parent}
}

func (sc *scope) lookup(name string) (Value, bool) {
	for e := sc; e != nil; e = e.parent {
		if v, ok := e.vars[name]; ok {
			return v, true
		}
	}
	return Value{}, false
}

// set updates an existing binding in the scope chain, or reports false so
// the caller falls back to globals.
func (sc *scope) set(name string, v Value) bool {
	for e := sc; e != nil; e = e.parent {
		if _, ok := e.vars[name]; ok {
			e.vars[name] = v
			return true
		}
	}
	return false
}

// execBlock runs statements under env. The boolean reports whether a return
// statement fired; its value is the first result.
func (s *State) execBlock(stmts []stmt, env *scope) (Value, bool) {
	for _, st := range stmts {
		switch st := st.(type) {
		case *assignStmt:
			v := s.evalExpr(st.expr, env)
			if !env.set(st.name, v) {
				if v.IsNil() {
					delete(s.globals, st.name)
				} else {
					s.globals[st.name] = v
				}
			}

		case *exprStmt:
			s.evalCall(st.call, env)

		case *returnStmt:
			if st.expr == nil {
				return Nil(), true
			}
			return s.evalExpr(st.expr, env), true

		case *ifStmt:
			branch := st.els
			if s.evalExpr(st.cond, env).Truthy() {
				branch = st.then
			}
			if v, ret := s.execBlock(branch, env); ret {
				return v, true
			}
		}
	}
	return Nil(), false
}

func (s *State) evalExpr(e expr, env *scope) Value {
	switch e := e.(type) {
	case *nilLit:
		return Nil()
	case *boolLit:
		return Bool(e.v)
	case *numberLit:
		return Number(e.v)
	case *stringLit:
		return String(e.v)

	case *nameExpr:
		if v, ok := env.lookup(e.name); ok {
			return v
		}
		return s.globals[e.name]

	case *funcLit:
		s.alloc(32)
		return funcValue(&Function{
			name:   e.name,
			params: e.params,
			body:   e.body,
			env:    env,
		})

	case *callExpr:
		return s.evalCall(e, env)

	case *binaryExpr:
		return s.evalBinary(e, env)

	case *unaryExpr:
		v := s.evalExpr(e.operand, env)
		switch e.op {
		case tkMinus:
			n, ok := v.AsNumber()
			if !ok {
				s.raisef(e.line, "attempt to negate a %s value", v.t.TypeName())
			}
			return Number(-n)
		case tkNot:
			return Bool(!v.Truthy())
		}
	}
	s.Raise(String("internal: unknown expression"))
	return Value{}
}

func (s *State) evalCall(e *callExpr, env *scope) Value {
	fn := s.evalExpr(e.fn, env)
	args := make([]Value, len(e.args))
	for i, a := range e.args {
		args[i] = s.evalExpr(a, env)
	}
	results := s.callValue(fn, args)
	if len(results) == 0 {
		return Nil()
	}
	return results[0]
}

func (s *State) evalBinary(e *binaryExpr, env *scope) Value {
	lhs := s.evalExpr(e.lhs, env)
	rhs := s.evalExpr(e.rhs, env)

	switch e.op {
	case tkEq:
		return Bool(lhs.Equals(rhs))
	case tkNe:
		return Bool(!lhs.Equals(rhs))

	case tkConcat:
		return String(s.coerceString(lhs, e.line) + s.coerceString(rhs, e.line))

	case tkPlus, tkMinus, tkStar, tkSlash:
		ln, lok := lhs.AsNumber()
		rn, rok := rhs.AsNumber()
		if !lok {
			s.raisef(e.line, "attempt to perform arithmetic on a %s value", lhs.t.TypeName())
		}
		if !rok {
			s.raisef(e.line, "attempt to perform arithmetic on a %s value", rhs.t.TypeName())
		}
		switch e.op {
		case tkPlus:
			return Number(ln + rn)
		case tkMinus:
			return Number(ln - rn)
		case tkStar:
			return Number(ln * rn)
		default:
			return Number(ln / rn)
		}

	case tkLt, tkLe, tkGt, tkGe:
		if ln, ok := lhs.AsNumber(); ok {
			rn, rok := rhs.AsNumber()
			if !rok {
				s.raisef(e.line, "attempt to compare number with %s", rhs.t.TypeName())
			}
			return Bool(compareOrder(e.op, ln < rn, ln == rn))
		}
		if ls, ok := lhs.AsString(); ok {
			rs, rok := rhs.AsString()
			if !rok {
				s.raisef(e.line, "attempt to compare string with %s", rhs.t.TypeName())
			}
			return Bool(compareOrder(e.op, ls < rs, ls == rs))
		}
		s.raisef(e.line, "attempt to compare a %s value", lhs.t.TypeName())
	}

	s.Raise(String("internal: unknown operator"))
	return Value{}
}

func compareOrder(op tokenKind, less, equal bool) bool {
	switch op {
	case tkLt:
		return less
	case tkLe:
		return less || equal
	case tkGt:
		return !less && !equal
	default: // tkGe
		return !less
	}
}

func (s *State) coerceString(v Value, line int) string {
	switch v.t {
	case TypeString:
		s.alloc(len(v.s))
		return v.s
	case TypeNumber:
		return v.String()
	}
	s.raisef(line, "attempt to concatenate a %s value", v.t.TypeName())
	return ""
}

func (s *State) raisef(line int, format string, args ...any) {
	s.Raise(String(fmt.Sprintf("line %d: %s", line, fmt.Sprintf(format, args...))))
}
