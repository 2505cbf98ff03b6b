package hog

import (
	"strconv"
)

const maxNesting = 200

type parser struct {
	toks  []token
	i     int
	depth int
}

func parseProgram(src string) ([]stmt, error) {
	toks, err := tokenize(src, Pos{Line: 1, Column: 1})
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	var stmts []stmt
	for !p.at(tokEOF, "") {
		s, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, s)
	}
	return stmts, nil
}

// parseExpression parses source that must consist of exactly one expression.
func parseExpression(src string, start Pos) (expr, error) {
	toks, err := tokenize(src, start)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	e, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if !p.at(tokEOF, "") {
		return nil, p.unexpected()
	}
	return e, nil
}

func (p *parser) cur() token {
	return p.toks[p.i]
}

func (p *parser) peekTok(n int) token {
	if p.i+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.i+n]
}

func (p *parser) advance() token {
	t := p.toks[p.i]
	if t.kind != tokEOF {
		p.i++
	}
	return t
}

// at reports whether the current token matches; an empty text matches any token of the kind.
func (p *parser) at(kind tokenKind, text string) bool {
	t := p.cur()
	return t.kind == kind && (text == "" || t.text == text)
}

func (p *parser) atPunct(text string) bool {
	return p.at(tokPunct, text)
}

func (p *parser) atKeyword(word string) bool {
	return p.at(tokIdent, word)
}

func (p *parser) accept(text string) bool {
	if p.atPunct(text) {
		p.advance()
		return true
	}
	return false
}

func (p *parser) expect(text string) (token, error) {
	if !p.atPunct(text) {
		return token{}, syntaxErrorf(p.cur().pos, "expected '%s' but found %s", text, p.cur().describe())
	}
	return p.advance(), nil
}

func (p *parser) expectKeyword(word string) error {
	if !p.atKeyword(word) {
		return syntaxErrorf(p.cur().pos, "expected '%s' but found %s", word, p.cur().describe())
	}
	p.advance()
	return nil
}

func (p *parser) expectName() (string, Pos, error) {
	t := p.cur()
	if t.kind != tokIdent || keywords[t.text] {
		return "", t.pos, syntaxErrorf(t.pos, "expected identifier but found %s", t.describe())
	}
	p.advance()
	return t.text, t.pos, nil
}

func (p *parser) unexpected() error {
	return syntaxErrorf(p.cur().pos, "unexpected %s", p.cur().describe())
}

func (p *parser) enter() error {
	p.depth++
	if p.depth > maxNesting {
		return syntaxErrorf(p.cur().pos, "nesting too deep")
	}
	return nil
}

func (p *parser) leave() {
	p.depth--
}

func (p *parser) parseStatement() (stmt, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	s, err := p.parseStatementInner()
	if err != nil {
		return nil, err
	}
	for p.accept(";") {
	}
	return s, nil
}

func (p *parser) parseStatementInner() (stmt, error) {
	t := p.cur()
	if t.kind == tokPunct && t.text == "{" {
		return p.parseBlock()
	}
	if t.kind == tokPunct && t.text == ";" {
		p.advance()
		return &blockStmt{pos: t.pos}, nil
	}
	if t.kind == tokIdent {
		switch t.text {
		case "let":
			return p.parseLet()
		case "if":
			return p.parseIf()
		case "while":
			return p.parseWhile()
		case "for":
			return p.parseFor()
		case "return":
			return p.parseReturn()
		case "break":
			p.advance()
			return &breakStmt{pos: t.pos}, nil
		case "continue":
			p.advance()
			return &continueStmt{pos: t.pos}, nil
		case "fun":
			return p.parseFun()
		}
	}
	return p.parseSimpleStatement()
}

// parseSimpleStatement parses an assignment or a bare expression.
func (p *parser) parseSimpleStatement() (stmt, error) {
	start := p.cur().pos
	e, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.atPunct(":=") {
		p.advance()
		if !isAssignable(e) {
			return nil, syntaxErrorf(start, "invalid assignment target")
		}
		v, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		return &assignStmt{pos: start, target: e, value: v}, nil
	}
	return &exprStmt{pos: start, x: e}, nil
}

func isAssignable(e expr) bool {
	switch e := e.(type) {
	case *identExpr:
		return true
	case *memberExpr:
		return !e.nullSafe && isAssignable(e.obj)
	case *indexExpr:
		return !e.nullSafe && isAssignable(e.obj)
	default:
		return false
	}
}

func (p *parser) parseBlock() (*blockStmt, error) {
	open, err := p.expect("{")
	if err != nil {
		return nil, err
	}
	b := &blockStmt{pos: open.pos}
	for !p.atPunct("}") {
		if p.at(tokEOF, "") {
			return nil, syntaxErrorf(open.pos, "unclosed block")
		}
		s, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		b.stmts = append(b.stmts, s)
	}
	p.advance()
	return b, nil
}

func (p *parser) parseLet() (stmt, error) {
	start := p.advance().pos
	name, _, err := p.expectName()
	if err != nil {
		return nil, err
	}
	s := &letStmt{pos: start, name: name}
	if p.accept(":=") {
		if s.value, err = p.parseExpr(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (p *parser) parseIf() (stmt, error) {
	start := p.advance().pos
	cond, err := p.parseParenCondition()
	if err != nil {
		return nil, err
	}
	then, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	s := &ifStmt{pos: start, cond: cond, then: then}
	if p.atKeyword("else") {
		p.advance()
		if s.els, err = p.parseStatement(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (p *parser) parseParenCondition() (expr, error) {
	if _, err := p.expect("("); err != nil {
		return nil, err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(")"); err != nil {
		return nil, err
	}
	return cond, nil
}

func (p *parser) parseWhile() (stmt, error) {
	start := p.advance().pos
	cond, err := p.parseParenCondition()
	if err != nil {
		return nil, err
	}
	body, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	return &whileStmt{pos: start, cond: cond, body: body}, nil
}

func (p *parser) parseFor() (stmt, error) {
	start := p.advance().pos
	if _, err := p.expect("("); err != nil {
		return nil, err
	}

	// for (let k, v in x) / for (let v in x)
	if p.atKeyword("let") && p.peekTok(1).kind == tokIdent &&
		(p.peekTok(2).is(tokPunct, ",") || p.peekTok(2).is(tokIdent, "in")) {
		p.advance()
		first, _, err := p.expectName()
		if err != nil {
			return nil, err
		}
		s := &forInStmt{pos: start, valName: first}
		if p.accept(",") {
			second, _, err := p.expectName()
			if err != nil {
				return nil, err
			}
			s.keyName, s.valName = first, second
		}
		if err := p.expectKeyword("in"); err != nil {
			return nil, err
		}
		if s.iter, err = p.parseExpr(); err != nil {
			return nil, err
		}
		if _, err := p.expect(")"); err != nil {
			return nil, err
		}
		if s.body, err = p.parseStatement(); err != nil {
			return nil, err
		}
		return s, nil
	}

	s := &forStmt{pos: start}
	var err error
	if !p.atPunct(";") {
		if p.atKeyword("let") {
			s.init, err = p.parseLet()
		} else {
			s.init, err = p.parseSimpleStatement()
		}
		if err != nil {
			return nil, err
		}
	}
	if _, err := p.expect(";"); err != nil {
		return nil, err
	}
	if !p.atPunct(";") {
		if s.cond, err = p.parseExpr(); err != nil {
			return nil, err
		}
	}
	if _, err := p.expect(";"); err != nil {
		return nil, err
	}
	if !p.atPunct(")") {
		if s.step, err = p.parseSimpleStatement(); err != nil {
			return nil, err
		}
	}
	if _, err := p.expect(")"); err != nil {
		return nil, err
	}
	if s.body, err = p.parseStatement(); err != nil {
		return nil, err
	}
	return s, nil
}

// parseReturn only takes a value that starts on the same line as the keyword.
func (p *parser) parseReturn() (stmt, error) {
	start := p.advance().pos
	s := &returnStmt{pos: start}
	t := p.cur()
	if t.kind == tokEOF || t.newline || t.is(tokPunct, "}") || t.is(tokPunct, ";") {
		return s, nil
	}
	var err error
	if s.value, err = p.parseExpr(); err != nil {
		return nil, err
	}
	return s, nil
}

func (p *parser) parseFun() (stmt, error) {
	start := p.advance().pos
	name, _, err := p.expectName()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect("("); err != nil {
		return nil, err
	}
	var params []string
	seen := map[string]bool{}
	for !p.atPunct(")") {
		param, pos, err := p.expectName()
		if err != nil {
			return nil, err
		}
		if seen[param] {
			return nil, syntaxErrorf(pos, "duplicate parameter %q", param)
		}
		seen[param] = true
		params = append(params, param)
		if !p.accept(",") {
			break
		}
	}
	if _, err := p.expect(")"); err != nil {
		return nil, err
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	return &funStmt{pos: start, name: name, params: params, body: body}, nil
}

func (p *parser) parseExpr() (expr, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()
	return p.parseTernary()
}

func (p *parser) parseTernary() (expr, error) {
	cond, err := p.parseNullish()
	if err != nil {
		return nil, err
	}
	if !p.atPunct("?") {
		return cond, nil
	}
	pos := p.advance().pos
	then, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(":"); err != nil {
		return nil, err
	}
	els, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	return &ternaryExpr{pos: pos, cond: cond, then: then, els: els}, nil
}

func (p *parser) parseNullish() (expr, error) {
	l, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	for p.atPunct("??") {
		pos := p.advance().pos
		r, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		l = &binaryExpr{pos: pos, op: "??", l: l, r: r}
	}
	return l, nil
}

func (p *parser) parseOr() (expr, error) {
	l, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.atKeyword("or") {
		pos := p.advance().pos
		r, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		l = &binaryExpr{pos: pos, op: "or", l: l, r: r}
	}
	return l, nil
}

func (p *parser) parseAnd() (expr, error) {
	l, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.atKeyword("and") {
		pos := p.advance().pos
		r, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		l = &binaryExpr{pos: pos, op: "and", l: l, r: r}
	}
	return l, nil
}

func (p *parser) parseNot() (expr, error) {
	if p.atKeyword("not") {
		pos := p.advance().pos
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer p.leave()
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &unaryExpr{pos: pos, op: "not", x: x}, nil
	}
	return p.parseComparison()
}

var comparisonOps = map[string]bool{
	"==": true, "=": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true, "=~": true, "!~": true,
}

func (p *parser) parseComparison() (expr, error) {
	l, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	t := p.cur()
	op := ""
	switch {
	case t.kind == tokPunct && comparisonOps[t.text]:
		op = t.text
		if op == "=" {
			op = "=="
		}
		p.advance()
	case t.kind == tokIdent && (t.text == "in" || t.text == "like" || t.text == "ilike"):
		op = t.text
		p.advance()
	case t.kind == tokIdent && t.text == "not":
		next := p.peekTok(1)
		if next.kind == tokIdent && (next.text == "in" || next.text == "like" || next.text == "ilike") {
			op = "not " + next.text
			p.advance()
			p.advance()
		}
	}
	if op == "" {
		return l, nil
	}
	r, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	return &binaryExpr{pos: t.pos, op: op, l: l, r: r}, nil
}

func (p *parser) parseAdditive() (expr, error) {
	l, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.atPunct("+") || p.atPunct("-") {
		t := p.advance()
		r, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		l = &binaryExpr{pos: t.pos, op: t.text, l: l, r: r}
	}
	return l, nil
}

func (p *parser) parseMultiplicative() (expr, error) {
	l, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.atPunct("*") || p.atPunct("/") || p.atPunct("%") {
		t := p.advance()
		r, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		l = &binaryExpr{pos: t.pos, op: t.text, l: l, r: r}
	}
	return l, nil
}

func (p *parser) parseUnary() (expr, error) {
	if p.atPunct("-") || p.atPunct("+") {
		t := p.advance()
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer p.leave()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if t.text == "+" {
			return x, nil
		}
		return &unaryExpr{pos: t.pos, op: "-", x: x}, nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (expr, error) {
	x, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.cur()
		switch {
		case t.is(tokPunct, ".") || t.is(tokPunct, "?."):
			p.advance()
			nullSafe := t.text == "?."
			if nullSafe && p.atPunct("[") {
				idx, err := p.parseIndexSuffix()
				if err != nil {
					return nil, err
				}
				x = &indexExpr{pos: t.pos, obj: x, index: idx, nullSafe: true}
				continue
			}
			name := p.cur()
			switch name.kind {
			case tokIdent:
				p.advance()
				x = &memberExpr{pos: t.pos, obj: x, name: name.text, nullSafe: nullSafe}
			case tokInt:
				// a.1 indexes a list or tuple.
				p.advance()
				n, _ := strconv.ParseInt(name.text, 10, 64)
				x = &indexExpr{pos: t.pos, obj: x, index: &literalExpr{pos: name.pos, val: IntValue(n)}, nullSafe: nullSafe}
			default:
				return nil, syntaxErrorf(name.pos, "expected property name but found %s", name.describe())
			}
		case t.is(tokPunct, "[") && !t.newline:
			idx, err := p.parseIndexSuffix()
			if err != nil {
				return nil, err
			}
			x = &indexExpr{pos: t.pos, obj: x, index: idx}
		case t.is(tokPunct, "(") && !t.newline:
			p.advance()
			args, err := p.parseExprList(")")
			if err != nil {
				return nil, err
			}
			x = &callExpr{pos: t.pos, callee: x, args: args}
		default:
			return x, nil
		}
	}
}

func (p *parser) parseIndexSuffix() (expr, error) {
	if _, err := p.expect("["); err != nil {
		return nil, err
	}
	idx, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect("]"); err != nil {
		return nil, err
	}
	return idx, nil
}

// parseExprList parses comma separated expressions up to and including the closing token.
func (p *parser) parseExprList(closing string) ([]expr, error) {
	var items []expr
	for !p.atPunct(closing) {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		items = append(items, e)
		if !p.accept(",") {
			break
		}
	}
	if _, err := p.expect(closing); err != nil {
		return nil, err
	}
	return items, nil
}

func (p *parser) parsePrimary() (expr, error) {
	t := p.cur()
	switch t.kind {
	case tokInt:
		p.advance()
		n, err := strconv.ParseInt(t.text, 10, 64)
		if err != nil {
			f, ferr := strconv.ParseFloat(t.text, 64)
			if ferr != nil {
				return nil, syntaxErrorf(t.pos, "invalid number literal")
			}
			return &literalExpr{pos: t.pos, val: FloatValue(f)}, nil
		}
		return &literalExpr{pos: t.pos, val: IntValue(n)}, nil
	case tokFloat:
		p.advance()
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, syntaxErrorf(t.pos, "invalid number literal")
		}
		return &literalExpr{pos: t.pos, val: FloatValue(f)}, nil
	case tokString:
		p.advance()
		return &literalExpr{pos: t.pos, val: StringValue(t.text)}, nil
	case tokFString:
		p.advance()
		return p.buildFString(t)
	case tokIdent:
		switch t.text {
		case "true":
			p.advance()
			return &literalExpr{pos: t.pos, val: BoolValue(true)}, nil
		case "false":
			p.advance()
			return &literalExpr{pos: t.pos, val: BoolValue(false)}, nil
		case "null":
			p.advance()
			return &literalExpr{pos: t.pos, val: Null()}, nil
		}
		if keywords[t.text] {
			return nil, p.unexpected()
		}
		p.advance()
		return &identExpr{pos: t.pos, name: t.text}, nil
	case tokPunct:
		switch t.text {
		case "(":
			return p.parseParenOrTuple()
		case "[":
			p.advance()
			items, err := p.parseExprList("]")
			if err != nil {
				return nil, err
			}
			return &listExpr{pos: t.pos, items: items}, nil
		case "{":
			return p.parseDict()
		}
	}
	return nil, p.unexpected()
}

func (p *parser) parseParenOrTuple() (expr, error) {
	open := p.advance()
	if p.accept(")") {
		return &tupleExpr{pos: open.pos}, nil
	}
	first, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.accept(")") {
		return first, nil
	}
	if _, err := p.expect(","); err != nil {
		return nil, err
	}
	rest, err := p.parseExprList(")")
	if err != nil {
		return nil, err
	}
	return &tupleExpr{pos: open.pos, items: append([]expr{first}, rest...)}, nil
}

func (p *parser) parseDict() (expr, error) {
	open := p.advance()
	d := &dictExpr{pos: open.pos}
	for !p.atPunct("}") {
		k, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(":"); err != nil {
			return nil, err
		}
		v, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		d.keys = append(d.keys, k)
		d.vals = append(d.vals, v)
		if !p.accept(",") {
			break
		}
	}
	if _, err := p.expect("}"); err != nil {
		return nil, err
	}
	return d, nil
}

func (p *parser) buildFString(t token) (expr, error) {
	f := &fstringExpr{pos: t.pos}
	for _, part := range t.parts {
		if !part.isExpr {
			f.parts = append(f.parts, &literalExpr{pos: t.pos, val: StringValue(part.literal)})
			continue
		}
		e, err := parseExpression(part.expr, part.exprPos)
		if err != nil {
			return nil, err
		}
		f.parts = append(f.parts, e)
	}
	return f, nil
}
