package engine

import (
	"strings"
	"testing"
)

func TestScripts(t *testing.T) {
	tests := []struct {
		name   string
		src    string
		global string
		want   Value
	}{
		{
			name:   "arithmetic precedence",
			src:    `x = 1 + 2 * 3`,
			global: "x",
			want:   Number(7),
		},
		{
			name:   "parens and division",
			src:    `x = (1 + 2) * 3 / 2`,
			global: "x",
			want:   Number(4.5),
		},
		{
			name:   "unary minus",
			src:    `x = -(2 + 3)`,
			global: "x",
			want:   Number(-5),
		},
		{
			name:   "concat coerces numbers",
			src:    `x = "a" .. 1 .. "b"`,
			global: "x",
			want:   String("a1b"),
		},
		{
			name:   "string escapes",
			src:    `x = "tab\there"`,
			global: "x",
			want:   String("tab\there"),
		},
		{
			name:   "comparison",
			src:    `x = 2 < 3`,
			global: "x",
			want:   Bool(true),
		},
		{
			name:   "string ordering",
			src:    `x = "abc" <= "abd"`,
			global: "x",
			want:   Bool(true),
		},
		{
			name:   "equality across types is false",
			src:    `x = 1 == "1"`,
			global: "x",
			want:   Bool(false),
		},
		{
			name:   "not",
			src:    `x = not nil`,
			global: "x",
			want:   Bool(true),
		},
		{
			name:   "if else",
			src:    `if 1 > 2 then x = "then" else x = "else" end`,
			global: "x",
			want:   String("else"),
		},
		{
			name:   "function statement and call",
			src:    `function double(n) return n + n end x = double(21)`,
			global: "x",
			want:   Number(42),
		},
		{
			name:   "recursion",
			src:    `function fact(n) if n < 2 then return 1 end return n * fact(n - 1) end x = fact(5)`,
			global: "x",
			want:   Number(120),
		},
		{
			name: "closures capture and mutate",
			src: `
				function counter(n)
					return function()
						n = n + 1
						return n
					end
				end
				c = counter(10)
				c()
				x = c()
			`,
			global: "x",
			want:   Number(12),
		},
		{
			name:   "missing args are nil",
			src:    `function f(a, b) return b end x = f(1) == nil`,
			global: "x",
			want:   Bool(true),
		},
		{
			name:   "type builtin",
			src:    `x = type(print)`,
			global: "x",
			want:   String("function"),
		},
		{
			name:   "tostring builtin",
			src:    `x = tostring(1.5) .. tostring(true) .. tostring(nil)`,
			global: "x",
			want:   String("1.5truenil"),
		},
		{
			name:   "comments ignored",
			src:    "-- leading comment\nx = 1 -- trailing",
			global: "x",
			want:   Number(1),
		},
		{
			name:   "semicolons allowed",
			src:    `x = 1; y = 2; x = x + y`,
			global: "x",
			want:   Number(3),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewState()
			runChunk(t, s, tt.src)
			got := globalOf(t, s, tt.global)
			if !got.Equals(tt.want) {
				t.Errorf("%s = %v (%s), want %v (%s)",
					tt.global, got, got.Type().TypeName(), tt.want, tt.want.Type().TypeName())
			}
		})
	}
}

func TestScriptErrors(t *testing.T) {
	tests := []struct {
		name     string
		src      string
		contains string
	}{
		{"call nil", `x = missing()`, "attempt to call a nil value"},
		{"arith on string", `x = "a" + 1`, "arithmetic on a string value"},
		{"concat nil", `x = "a" .. nil`, "concatenate a nil value"},
		{"compare mixed", `x = 1 < "a"`, "compare number with string"},
		{"negate string", `x = -"a"`, "negate a string value"},
		{"explicit error", `error("bad arg")`, "bad arg"},
		{"stack overflow", `function f() return f() end f()`, "stack overflow"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewState()
			if err := s.Load(tt.src, "chunk"); err != nil {
				t.Fatalf("Load: %v", err)
			}
			err := s.ProtectedCall(0, 0)
			if err == nil {
				t.Fatal("expected raise")
			}
			v := err.(*RaisedError).Value
			if !strings.Contains(v.String(), tt.contains) {
				t.Errorf("raised %q, want substring %q", v.String(), tt.contains)
			}
			if got := s.Top(); got != 0 {
				t.Errorf("stack not restored: Top = %d", got)
			}
		})
	}
}

func TestSyntaxErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		line int
	}{
		{"unterminated string", `x = "abc`, 1},
		{"missing end", "function f()\nreturn 1\n", 3},
		{"bare expression", `1 + 2`, 1},
		{"bad character", "x = 1\ny = @", 2},
		{"missing then", `if x end`, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewState()
			err := s.Load(tt.src, "bad")
			if err == nil {
				t.Fatal("expected syntax error")
			}
			se, ok := err.(*SyntaxError)
			if !ok {
				t.Fatalf("error type %T, want *SyntaxError", err)
			}
			if se.Chunk != "bad" {
				t.Errorf("chunk = %q, want \"bad\"", se.Chunk)
			}
			if se.Line != tt.line {
				t.Errorf("line = %d, want %d (%s)", se.Line, tt.line, se.Msg)
			}
			if got := s.Top(); got != 0 {
				t.Errorf("failed Load must push nothing: Top = %d", got)
			}
		})
	}
}

func TestEnginePcall(t *testing.T) {
	s := NewState()

	runChunk(t, s, `caught = pcall(function() error("boom") end)`)
	if v, _ := globalOf(t, s, "caught").AsString(); v != "boom" {
		t.Errorf("caught = %q, want \"boom\"", v)
	}

	runChunk(t, s, `caught = pcall(function() return 1 end)`)
	if !globalOf(t, s, "caught").IsNil() {
		t.Error("successful pcall should yield nil")
	}

	// error values of any type round-trip
	runChunk(t, s, `caught = pcall(function() error(42) end)`)
	if v := globalOf(t, s, "caught"); !v.Equals(Number(42)) {
		t.Errorf("caught = %v, want 42", v)
	}
}

func TestEngineXpcall(t *testing.T) {
	s := NewState()

	runChunk(t, s, `
		caught = xpcall(
			function() error("boom") end,
			function(e) return "handled: " .. e end
		)
	`)
	if v, _ := globalOf(t, s, "caught").AsString(); v != "handled: boom" {
		t.Errorf("caught = %q", v)
	}

	runChunk(t, s, `caught = xpcall(function() return 1 end, function(e) return e end)`)
	if !globalOf(t, s, "caught").IsNil() {
		t.Error("successful xpcall should yield nil")
	}

	// arguments after the handler are passed to the function
	runChunk(t, s, `caught = xpcall(function(a, b) error(a .. b) end, function(e) return e end, "x", "y")`)
	if v, _ := globalOf(t, s, "caught").AsString(); v != "xy" {
		t.Errorf("caught = %q, want \"xy\"", v)
	}
}

func TestPrintGoesToOutput(t *testing.T) {
	s := NewState()
	var out strings.Builder
	s.SetOutput(&out)

	runChunk(t, s, `print("a", 1, true)`)
	if got := out.String(); got != "a\t1\ttrue\n" {
		t.Errorf("print wrote %q", got)
	}
}
