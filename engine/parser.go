package engine

// The grammar is a small statement/expression language, just enough surface
// for host-driven scripts: assignments, calls, conditionals, function
// literals, and the builtin call forms. One value per expression, one value
// per return.

type stmt interface{ stmtNode() }

type assignStmt struct {
	name string
	expr expr
	line int
}

type exprStmt struct {
	call *callExpr
}

type returnStmt struct {
	expr expr // nil for a bare return
	line int
}

type ifStmt struct {
	cond expr
	then []stmt
	els  []stmt
}

func (*assignStmt) stmtNode() {}
func (*exprStmt) stmtNode()   {}
func (*returnStmt) stmtNode() {}
func (*ifStmt) stmtNode()     {}

type expr interface{ exprNode() }

type nilLit struct{}

type boolLit struct{ v bool }

type numberLit struct{ v float64 }

type stringLit struct{ v string }

type nameExpr struct {
	name string
	line int
}

type funcLit struct {
	name   string
	params []string
	body   []stmt
}

type callExpr struct {
	fn   expr
	args []expr
	line int
}

type binaryExpr struct {
	op       tokenKind
	lhs, rhs expr
	line     int
}

type unaryExpr struct {
	op      tokenKind
	operand expr
	line    int
}

func (*nilLit) exprNode()     {}
func (*boolLit) exprNode()    {}
func (*numberLit) exprNode()  {}
func (*stringLit) exprNode()  {}
func (*nameExpr) exprNode()   {}
func (*funcLit) exprNode()    {}
func (*callExpr) exprNode()   {}
func (*binaryExpr) exprNode() {}
func (*unaryExpr) exprNode()  {}

type parser struct {
	lex   *lexer
	tok   token
	ahead *token
}

func parse(src, chunk string) (stmts []stmt, err error) {
	defer func() {
		if r := recover(); r != nil {
			if se, ok := r.(*SyntaxError); ok {
				stmts, err = nil, se
				return
			}
			panic(r)
		}
	}()

	p := &parser{lex: newLexer(src, chunk)}
	p.advance()
	stmts = p.parseBlock(tkEOF)
	p.expect(tkEOF)
	return stmts, nil
}

func (p *parser) advance() {
	if p.ahead != nil {
		p.tok = *p.ahead
		p.ahead = nil
		return
	}
	p.tok = p.lex.next()
}

func (p *parser) peek() token {
	if p.ahead == nil {
		t := p.lex.next()
		p.ahead = &t
	}
	return *p.ahead
}

func (p *parser) fail(msg string) {
	panic(&SyntaxError{Chunk: p.lex.chunk, Line: p.tok.line, Msg: msg})
}

func (p *parser) expect(k tokenKind) token {
	if p.tok.kind != k {
		p.fail("unexpected " + p.tok.describe())
	}
	t := p.tok
	if k != tkEOF {
		p.advance()
	}
	return t
}

func (p *parser) blockEnds(terminators []tokenKind) bool {
	for _, t := range terminators {
		if p.tok.kind == t {
			return true
		}
	}
	return false
}

func (p *parser) parseBlock(terminators ...tokenKind) []stmt {
	var stmts []stmt
	for !p.blockEnds(terminators) {
		if p.tok.kind == tkSemi {
			p.advance()
			continue
		}
		if p.tok.kind == tkEOF {
			p.fail("unexpected end of chunk")
		}
		stmts = append(stmts, p.parseStatement(terminators))
	}
	return stmts
}

func (p *parser) parseStatement(terminators []tokenKind) stmt {
	switch p.tok.kind {
	case tkReturn:
		line := p.tok.line
		p.advance()
		if p.blockEnds(terminators) || p.tok.kind == tkSemi || p.tok.kind == tkEOF {
			return &returnStmt{line: line}
		}
		return &returnStmt{expr: p.parseExpr(), line: line}

	case tkIf:
		p.advance()
		cond := p.parseExpr()
		p.expect(tkThen)
		then := p.parseBlock(tkElse, tkEnd)
		var els []stmt
		if p.tok.kind == tkElse {
			p.advance()
			els = p.parseBlock(tkEnd)
		}
		p.expect(tkEnd)
		return &ifStmt{cond: cond, then: then, els: els}

	case tkFunction:
		// function name(params) body end  =>  name = function literal
		p.advance()
		name := p.expect(tkName)
		fn := p.parseFuncRest(name.text)
		return &assignStmt{name: name.text, expr: fn, line: name.line}

	case tkName:
		if p.peek().kind == tkAssign {
			name := p.tok
			p.advance()
			p.advance()
			return &assignStmt{name: name.text, expr: p.parseExpr(), line: name.line}
		}
	}

	line := p.tok.line
	e := p.parseExpr()
	call, ok := e.(*callExpr)
	if !ok {
		panic(&SyntaxError{Chunk: p.lex.chunk, Line: line, Msg: "expression is not a statement"})
	}
	return &exprStmt{call: call}
}

// parseFuncRest parses "(params) body end" after the function keyword (and
// optional name) have been consumed.
func (p *parser) parseFuncRest(name string) *funcLit {
	p.expect(tkLParen)
	var params []string
	for p.tok.kind != tkRParen {
		params = append(params, p.expect(tkName).text)
		if p.tok.kind == tkComma {
			p.advance()
			continue
		}
		break
	}
	p.expect(tkRParen)
	body := p.parseBlock(tkEnd)
	p.expect(tkEnd)
	return &funcLit{name: name, params: params, body: body}
}

// Precedence, loosest first: comparison, concat, additive, multiplicative,
// unary, call/primary.

func (p *parser) parseExpr() expr { return p.parseComparison() }

func (p *parser) parseComparison() expr {
	lhs := p.parseConcat()
	for {
		switch p.tok.kind {
		case tkEq, tkNe, tkLt, tkLe, tkGt, tkGe:
			op, line := p.tok.kind, p.tok.line
			p.advance()
			lhs = &binaryExpr{op: op, lhs: lhs, rhs: p.parseConcat(), line: line}
		default:
			return lhs
		}
	}
}

func (p *parser) parseConcat() expr {
	lhs := p.parseAdditive()
	if p.tok.kind != tkConcat {
		return lhs
	}
	line := p.tok.line
	p.advance()
	// right associative
	return &binaryExpr{op: tkConcat, lhs: lhs, rhs: p.parseConcat(), line: line}
}

func (p *parser) parseAdditive() expr {
	lhs := p.parseMultiplicative()
	for p.tok.kind == tkPlus || p.tok.kind == tkMinus {
		op, line := p.tok.kind, p.tok.line
		p.advance()
		lhs = &binaryExpr{op: op, lhs: lhs, rhs: p.parseMultiplicative(), line: line}
	}
	return lhs
}

func (p *parser) parseMultiplicative() expr {
	lhs := p.parseUnary()
	for p.tok.kind == tkStar || p.tok.kind == tkSlash {
		op, line := p.tok.kind, p.tok.line
		p.advance()
		lhs = &binaryExpr{op: op, lhs: lhs, rhs: p.parseUnary(), line: line}
	}
	return lhs
}

func (p *parser) parseUnary() expr {
	if p.tok.kind == tkMinus || p.tok.kind == tkNot {
		op, line := p.tok.kind, p.tok.line
		p.advance()
		return &unaryExpr{op: op, operand: p.parseUnary(), line: line}
	}
	return p.parseCall()
}

func (p *parser) parseCall() expr {
	e := p.parsePrimary()
	for p.tok.kind == tkLParen {
		line := p.tok.line
		p.advance()
		var args []expr
		for p.tok.kind != tkRParen {
			args = append(args, p.parseExpr())
			if p.tok.kind == tkComma {
				p.advance()
				continue
			}
			break
		}
		p.expect(tkRParen)
		e = &callExpr{fn: e, args: args, line: line}
	}
	return e
}

func (p *parser) parsePrimary() expr {
	switch p.tok.kind {
	case tkNil:
		p.advance()
		return &nilLit{}
	case tkTrue:
		p.advance()
		return &boolLit{v: true}
	case tkFalse:
		p.advance()
		return &boolLit{v: false}
	case tkNumber:
		n := p.tok.num
		p.advance()
		return &numberLit{v: n}
	case tkString:
		s := p.tok.text
		p.advance()
		return &stringLit{v: s}
	case tkName:
		e := &nameExpr{name: p.tok.text, line: p.tok.line}
		p.advance()
		return e
	case tkFunction:
		p.advance()
		return p.parseFuncRest("")
	case tkLParen:
		p.advance()
		e := p.parseExpr()
		p.expect(tkRParen)
		return e
	}
	p.fail("unexpected " + p.tok.describe())
	return nil
}
