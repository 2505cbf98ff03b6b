package hog

import (
	"context"
	"strings"
)

// ResolveTemplate evaluates "{expr}" placeholders found in the strings of v.
// A string that is a single placeholder yields the raw value of the expression, so
// "{person.properties}" resolves to a dictionary. Dictionaries and lists are
// resolved recursively; other values are returned unchanged.
func ResolveTemplate(ctx context.Context, v Value, globals Globals, opts Options) (Value, error) {
	opts = opts.withDefaults()
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	in := newInterpreter(ctx, opts, &Result{})
	root, err := in.bindGlobals(globals)
	if err != nil {
		return Null(), in.scrub(err)
	}
	out, err := in.resolve(v, root)
	if err != nil {
		return Null(), in.scrub(err)
	}
	return out, nil
}

// IsTemplate reports whether s contains a placeholder.
func IsTemplate(s string) bool {
	parts, err := splitTemplate(s)
	if err != nil {
		return false
	}
	for _, p := range parts {
		if p.isExpr {
			return true
		}
	}
	return false
}

// CompileTemplate checks that every placeholder in s parses.
func CompileTemplate(s string) error {
	parts, err := splitTemplate(s)
	if err != nil {
		return err
	}
	for _, p := range parts {
		if p.isExpr {
			if _, err := parseExpression(p.expr, p.exprPos); err != nil {
				return err
			}
		}
	}
	return nil
}

func (in *interpreter) resolve(v Value, sc *scope) (Value, error) {
	switch v.kind {
	case KindString:
		return in.resolveString(v, sc)
	case KindList, KindTuple:
		items := make([]Value, len(v.Items()))
		for i, it := range v.Items() {
			r, err := in.resolve(it, sc)
			if err != nil {
				return Null(), err
			}
			items[i] = r
		}
		if v.kind == KindTuple {
			return TupleValue(items...), nil
		}
		return ListValue(items...), nil
	case KindMap:
		m := NewMap()
		var err error
		v.Map().Range(func(k string, val Value) bool {
			var r Value
			if r, err = in.resolve(val, sc); err != nil {
				return false
			}
			m.Set(k, r)
			return true
		})
		if err != nil {
			return Null(), err
		}
		return MapValue(m), nil
	}
	return v, nil
}

func (in *interpreter) resolveString(v Value, sc *scope) (Value, error) {
	parts, err := splitTemplate(v.str)
	if err != nil {
		return Null(), err
	}
	if len(parts) == 1 && parts[0].isExpr {
		return in.evalTemplatePart(parts[0], sc)
	}

	var sb strings.Builder
	secret := v.secret
	w := in.walker(Pos{})
	for _, p := range parts {
		if !p.isExpr {
			sb.WriteString(p.literal)
			continue
		}
		r, err := in.evalTemplatePart(p, sc)
		if err != nil {
			return Null(), err
		}
		if !r.IsNull() {
			if err := w.writeValue(&sb, r, true, nil); err != nil {
				return Null(), err
			}
		}
		if !secret {
			if secret, err = w.containsSecret(r); err != nil {
				return Null(), err
			}
		}
	}
	return Value{kind: KindString, str: sb.String(), secret: secret}, nil
}

func (in *interpreter) evalTemplatePart(p fstringPart, sc *scope) (Value, error) {
	e, err := parseExpression(p.expr, p.exprPos)
	if err != nil {
		return Null(), err
	}
	return in.eval(e, sc)
}

// splitTemplate separates literal text from {expr} placeholders. Braces inside
// placeholder strings and nested dictionaries are matched.
func splitTemplate(s string) ([]fstringPart, error) {
	lx := newLexer(s, Pos{Line: 1, Column: 1})
	var parts []fstringPart
	var lit strings.Builder
	for !lx.eof() {
		r := lx.advance()
		if r != '{' {
			lit.WriteRune(r)
			continue
		}
		if lit.Len() > 0 {
			parts = append(parts, fstringPart{literal: lit.String()})
			lit.Reset()
		}
		exprPos := lx.pos()
		expr, err := lx.scanExprUntilBrace(exprPos)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(expr) == "" {
			return nil, syntaxErrorf(exprPos, "empty placeholder")
		}
		parts = append(parts, fstringPart{expr: expr, exprPos: exprPos, isExpr: true})
	}
	if lit.Len() > 0 || len(parts) == 0 {
		parts = append(parts, fstringPart{literal: lit.String()})
	}
	return parts, nil
}
