package engine

import (
	"fmt"
	"strconv"
	"strings"
)

type tokenKind int

const (
	tkEOF tokenKind = iota
	tkName
	tkNumber
	tkString

	tkNil
	tkTrue
	tkFalse
	tkFunction
	tkEnd
	tkIf
	tkThen
	tkElse
	tkReturn
	tkNot

	tkAssign
	tkEq
	tkNe
	tkLt
	tkLe
	tkGt
	tkGe
	tkPlus
	tkMinus
	tkStar
	tkSlash
	tkConcat
	tkLParen
	tkRParen
	tkComma
	tkSemi
)

var keywords = map[string]tokenKind{
	"nil":      tkNil,
	"true":     tkTrue,
	"false":    tkFalse,
	"function": tkFunction,
	"end":      tkEnd,
	"if":       tkIf,
	"then":     tkThen,
	"else":     tkElse,
	"return":   tkReturn,
	"not":      tkNot,
}

type token struct {
	kind tokenKind
	text string
	num  float64
	line int
}

func (t token) describe() string {
	switch t.kind {
	case tkEOF:
		return "end of chunk"
	case tkString:
		return fmt.Sprintf("string %q", t.text)
	default:
		return fmt.Sprintf("%q", t.text)
	}
}

// SyntaxError reports a lexical or grammatical error in a chunk.
type SyntaxError struct {
	Chunk string
	Line  int
	Msg   string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s:%d: %s", e.Chunk, e.Line, e.Msg)
}

type lexer struct {
	chunk string
	src   string
	pos   int
	line  int
}

func newLexer(src, chunk string) *lexer {
	return &lexer{chunk: chunk, src: src, line: 1}
}

func (l *lexer) fail(msg string) {
	panic(&SyntaxError{Chunk: l.chunk, Line: l.line, Msg: msg})
}

func (l *lexer) peekByte() byte {
	if l.pos >= len(l.src) {
		return 0
	}
	return l.src[l.pos]
}

func (l *lexer) skipSpace() {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c == '\n':
			l.line++
			l.pos++
		case c == ' ' || c == '\t' || c == '\r':
			l.pos++
		case c == '-' && l.pos+1 < len(l.src) && l.src[l.pos+1] == '-':
			for l.pos < len(l.src) && l.src[l.pos] != '\n' {
				l.pos++
			}
		default:
			return
		}
	}
}

func isNameStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func (l *lexer) next() token {
	l.skipSpace()
	if l.pos >= len(l.src) {
		return token{kind: tkEOF, line: l.line}
	}

	line := l.line
	c := l.src[l.pos]

	switch {
	case isNameStart(c):
		start := l.pos
		for l.pos < len(l.src) && (isNameStart(l.src[l.pos]) || isDigit(l.src[l.pos])) {
			l.pos++
		}
		word := l.src[start:l.pos]
		if kw, ok := keywords[word]; ok {
			return token{kind: kw, text: word, line: line}
		}
		return token{kind: tkName, text: word, line: line}

	case isDigit(c):
		return l.scanNumber(line)

	case c == '"' || c == '\'':
		return l.scanString(c, line)
	}

	l.pos++
	two := func(k tokenKind, text string) token {
		l.pos++
		return token{kind: k, text: text, line: line}
	}

	switch c {
	case '=':
		if l.peekByte() == '=' {
			return two(tkEq, "==")
		}
		return token{kind: tkAssign, text: "=", line: line}
	case '~':
		if l.peekByte() == '=' {
			return two(tkNe, "~=")
		}
		l.fail("unexpected character '~'")
	case '<':
		if l.peekByte() == '=' {
			return two(tkLe, "<=")
		}
		return token{kind: tkLt, text: "<", line: line}
	case '>':
		if l.peekByte() == '=' {
			return two(tkGe, ">=")
		}
		return token{kind: tkGt, text: ">", line: line}
	case '+':
		return token{kind: tkPlus, text: "+", line: line}
	case '-':
		return token{kind: tkMinus, text: "-", line: line}
	case '*':
		return token{kind: tkStar, text: "*", line: line}
	case '/':
		return token{kind: tkSlash, text: "/", line: line}
	case '.':
		if l.peekByte() == '.' {
			return two(tkConcat, "..")
		}
		l.fail("unexpected character '.'")
	case '(':
		return token{kind: tkLParen, text: "(", line: line}
	case ')':
		return token{kind: tkRParen, text: ")", line: line}
	case ',':
		return token{kind: tkComma, text: ",", line: line}
	case ';':
		return token{kind: tkSemi, text: ";", line: line}
	}

	l.fail(fmt.Sprintf("unexpected character %q", c))
	return token{}
}

func (l *lexer) scanNumber(line int) token {
	start := l.pos
	for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
		l.pos++
	}
	if l.peekByte() == '.' && !(l.pos+1 < len(l.src) && l.src[l.pos+1] == '.') {
		l.pos++
		for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
			l.pos++
		}
	}
	if c := l.peekByte(); c == 'e' || c == 'E' {
		l.pos++
		if c := l.peekByte(); c == '+' || c == '-' {
			l.pos++
		}
		if !isDigit(l.peekByte()) {
			l.fail("malformed number")
		}
		for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
			l.pos++
		}
	}
	text := l.src[start:l.pos]
	n, err := strconv.ParseFloat(text, 64)
	if err != nil {
		l.fail("malformed number " + strconv.Quote(text))
	}
	return token{kind: tkNumber, text: text, num: n, line: line}
}

func (l *lexer) scanString(quote byte, line int) token {
	l.pos++ // opening quote
	var b strings.Builder
	for {
		if l.pos >= len(l.src) {
			l.fail("unterminated string")
		}
		c := l.src[l.pos]
		switch c {
		case quote:
			l.pos++
			return token{kind: tkString, text: b.String(), line: line}
		case '\n':
			l.fail("unterminated string")
		case '\\':
			l.pos++
			if l.pos >= len(l.src) {
				l.fail("unterminated string")
			}
			switch e := l.src[l.pos]; e {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			case '\\', '"', '\'':
				b.WriteByte(e)
			default:
				l.fail(fmt.Sprintf("invalid escape '\\%c'", e))
			}
			l.pos++
		default:
			b.WriteByte(c)
			l.pos++
		}
	}
}
