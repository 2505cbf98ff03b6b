package hog

import "fmt"

// Pos is a 1-based line and column in script source.
type Pos struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

func (p Pos) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

func (p Pos) IsValid() bool {
	return p.Line > 0
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokInt
	tokFloat
	tokString
	tokFString
	tokPunct
)

func (k tokenKind) String() string {
	switch k {
	case tokEOF:
		return "end of input"
	case tokIdent:
		return "identifier"
	case tokInt:
		return "integer"
	case tokFloat:
		return "float"
	case tokString:
		return "string"
	case tokFString:
		return "f-string"
	default:
		return "punctuation"
	}
}

type fstringPart struct {
	literal string
	expr    string
	exprPos Pos
	isExpr  bool
}

type token struct {
	kind tokenKind
	text string
	pos  Pos
	// newline is set when at least one line break separates this token from the previous one.
	newline bool
	parts   []fstringPart
}

func (t token) is(kind tokenKind, text string) bool {
	return t.kind == kind && t.text == text
}

func (t token) describe() string {
	switch t.kind {
	case tokEOF:
		return "end of input"
	case tokString, tokFString:
		return "string literal"
	default:
		return fmt.Sprintf("'%s'", t.text)
	}
}

var keywords = map[string]bool{
	"let":      true,
	"if":       true,
	"else":     true,
	"while":    true,
	"for":      true,
	"in":       true,
	"return":   true,
	"fun":      true,
	"true":     true,
	"false":    true,
	"null":     true,
	"and":      true,
	"or":       true,
	"not":      true,
	"like":     true,
	"ilike":    true,
	"break":    true,
	"continue": true,
}

// Longest operators first so that the lexer is greedy.
var punctuators = []string{
	":=", "==", "!=", "<=", ">=", "=~", "!~", "??", "?.",
	"+", "-", "*", "/", "%", "<", ">", "=", "(", ")", "[", "]", "{", "}",
	",", ":", ";", ".", "?",
}
