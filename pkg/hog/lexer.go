package hog

import (
	"strings"
	"unicode"
)

type lexer struct {
	src  []rune
	off  int
	line int
	col  int
}

func newLexer(src string, start Pos) *lexer {
	if !start.IsValid() {
		start = Pos{Line: 1, Column: 1}
	}
	return &lexer{src: []rune(src), line: start.Line, col: start.Column}
}

// tokenize splits the whole source up front; scripts are small.
func tokenize(src string, start Pos) ([]token, error) {
	lx := newLexer(src, start)
	var out []token
	for {
		tok, err := lx.next()
		if err != nil {
			return nil, err
		}
		out = append(out, tok)
		if tok.kind == tokEOF {
			return out, nil
		}
	}
}

func (lx *lexer) pos() Pos {
	return Pos{Line: lx.line, Column: lx.col}
}

func (lx *lexer) peek(n int) rune {
	if lx.off+n >= len(lx.src) {
		return 0
	}
	return lx.src[lx.off+n]
}

func (lx *lexer) eof() bool {
	return lx.off >= len(lx.src)
}

func (lx *lexer) advance() rune {
	r := lx.src[lx.off]
	lx.off++
	if r == '\n' {
		lx.line++
		lx.col = 1
	} else {
		lx.col++
	}
	return r
}

// skipSpace consumes whitespace and comments and reports whether a newline was crossed.
func (lx *lexer) skipSpace() (bool, error) {
	newline := false
	for !lx.eof() {
		r := lx.peek(0)
		switch {
		case r == '\n':
			newline = true
			lx.advance()
		case unicode.IsSpace(r):
			lx.advance()
		case r == '/' && lx.peek(1) == '/':
			for !lx.eof() && lx.peek(0) != '\n' {
				lx.advance()
			}
		case r == '/' && lx.peek(1) == '*':
			start := lx.pos()
			lx.advance()
			lx.advance()
			closed := false
			for !lx.eof() {
				if lx.peek(0) == '*' && lx.peek(1) == '/' {
					lx.advance()
					lx.advance()
					closed = true
					break
				}
				if lx.advance() == '\n' {
					newline = true
				}
			}
			if !closed {
				return newline, syntaxErrorf(start, "unterminated block comment")
			}
		default:
			return newline, nil
		}
	}
	return newline, nil
}

func (lx *lexer) next() (token, error) {
	newline, err := lx.skipSpace()
	if err != nil {
		return token{}, err
	}
	start := lx.pos()
	if lx.eof() {
		return token{kind: tokEOF, pos: start, newline: newline}, nil
	}

	r := lx.peek(0)
	switch {
	case (r == 'f' || r == 'F') && (lx.peek(1) == '\'' || lx.peek(1) == '"'):
		lx.advance()
		parts, err := lx.scanFString(lx.advance())
		if err != nil {
			return token{}, err
		}
		return token{kind: tokFString, pos: start, newline: newline, parts: parts}, nil
	case isIdentStart(r):
		var sb strings.Builder
		for !lx.eof() && isIdentPart(lx.peek(0)) {
			sb.WriteRune(lx.advance())
		}
		return token{kind: tokIdent, text: sb.String(), pos: start, newline: newline}, nil
	case unicode.IsDigit(r):
		return lx.scanNumber(start, newline)
	case r == '\'' || r == '"':
		quote := lx.advance()
		s, err := lx.scanString(quote, start)
		if err != nil {
			return token{}, err
		}
		return token{kind: tokString, text: s, pos: start, newline: newline}, nil
	}

	for _, p := range punctuators {
		if lx.hasPrefix(p) {
			for range []rune(p) {
				lx.advance()
			}
			return token{kind: tokPunct, text: p, pos: start, newline: newline}, nil
		}
	}
	return token{}, syntaxErrorf(start, "unexpected character %q", r)
}

func (lx *lexer) hasPrefix(p string) bool {
	i := 0
	for _, r := range p {
		if lx.peek(i) != r {
			return false
		}
		i++
	}
	return true
}

func (lx *lexer) scanNumber(start Pos, newline bool) (token, error) {
	var sb strings.Builder
	isFloat := false
	for !lx.eof() && unicode.IsDigit(lx.peek(0)) {
		sb.WriteRune(lx.advance())
	}
	if lx.peek(0) == '.' && unicode.IsDigit(lx.peek(1)) {
		isFloat = true
		sb.WriteRune(lx.advance())
		for !lx.eof() && unicode.IsDigit(lx.peek(0)) {
			sb.WriteRune(lx.advance())
		}
	}
	if r := lx.peek(0); r == 'e' || r == 'E' {
		next := lx.peek(1)
		if unicode.IsDigit(next) || ((next == '+' || next == '-') && unicode.IsDigit(lx.peek(2))) {
			isFloat = true
			sb.WriteRune(lx.advance())
			sb.WriteRune(lx.advance())
			for !lx.eof() && unicode.IsDigit(lx.peek(0)) {
				sb.WriteRune(lx.advance())
			}
		}
	}
	if isIdentStart(lx.peek(0)) {
		return token{}, syntaxErrorf(lx.pos(), "invalid number literal")
	}
	kind := tokInt
	if isFloat {
		kind = tokFloat
	}
	return token{kind: kind, text: sb.String(), pos: start, newline: newline}, nil
}

// scanString reads up to the closing quote; the opening quote is already consumed.
func (lx *lexer) scanString(quote rune, start Pos) (string, error) {
	var sb strings.Builder
	for {
		if lx.eof() {
			return "", syntaxErrorf(start, "unterminated string literal")
		}
		r := lx.advance()
		switch r {
		case quote:
			return sb.String(), nil
		case '\\':
			if lx.eof() {
				return "", syntaxErrorf(start, "unterminated string literal")
			}
			sb.WriteRune(unescape(lx.advance()))
		default:
			sb.WriteRune(r)
		}
	}
}

// scanFString splits an f-string into literal and expression parts. Expressions may
// contain nested strings, f-strings and braces.
func (lx *lexer) scanFString(quote rune) ([]fstringPart, error) {
	start := lx.pos()
	var parts []fstringPart
	var lit strings.Builder
	flush := func() {
		if lit.Len() > 0 {
			parts = append(parts, fstringPart{literal: lit.String()})
			lit.Reset()
		}
	}
	for {
		if lx.eof() {
			return nil, syntaxErrorf(start, "unterminated f-string")
		}
		r := lx.advance()
		switch r {
		case quote:
			flush()
			return parts, nil
		case '\\':
			if lx.eof() {
				return nil, syntaxErrorf(start, "unterminated f-string")
			}
			lit.WriteRune(unescape(lx.advance()))
		case '{':
			flush()
			exprPos := lx.pos()
			expr, err := lx.scanExprUntilBrace(exprPos)
			if err != nil {
				return nil, err
			}
			if strings.TrimSpace(expr) == "" {
				return nil, syntaxErrorf(exprPos, "empty expression in f-string")
			}
			parts = append(parts, fstringPart{expr: expr, exprPos: exprPos, isExpr: true})
		default:
			lit.WriteRune(r)
		}
	}
}

// scanExprUntilBrace returns the raw text up to the matching '}' and consumes it.
func (lx *lexer) scanExprUntilBrace(start Pos) (string, error) {
	begin := lx.off
	depth := 1
	for {
		if lx.eof() {
			return "", syntaxErrorf(start, "unterminated expression in f-string")
		}
		r := lx.peek(0)
		switch {
		case (r == 'f' || r == 'F') && (lx.peek(1) == '\'' || lx.peek(1) == '"') && (lx.off == begin || !isIdentPart(lx.src[lx.off-1])):
			lx.advance()
			if _, err := lx.scanFString(lx.advance()); err != nil {
				return "", err
			}
		case r == '\'' || r == '"':
			p := lx.pos()
			lx.advance()
			if _, err := lx.scanString(r, p); err != nil {
				return "", err
			}
		case r == '{':
			depth++
			lx.advance()
		case r == '}':
			depth--
			if depth == 0 {
				text := string(lx.src[begin:lx.off])
				lx.advance()
				return text, nil
			}
			lx.advance()
		default:
			lx.advance()
		}
	}
}

func unescape(r rune) rune {
	switch r {
	case 'n':
		return '\n'
	case 't':
		return '\t'
	case 'r':
		return '\r'
	case '0':
		return 0
	case 'b':
		return '\b'
	case 'f':
		return '\f'
	default:
		return r
	}
}

func isIdentStart(r rune) bool {
	return r == '_' || r == '$' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || unicode.IsDigit(r)
}
