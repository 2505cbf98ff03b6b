package hog

import (
	"math"
	"regexp"
	"strings"
)

func negate(x Value, pos Pos) (Value, error) {
	switch x.kind {
	case KindInt:
		return IntValue(-x.num), nil
	case KindFloat:
		return FloatValue(-x.flt), nil
	}
	return Null(), typeErrorf(pos, "cannot negate %s", x.kind)
}

func (in *interpreter) evalBinary(e *binaryExpr, sc *scope) (Value, error) {
	l, err := in.eval(e.l, sc)
	if err != nil {
		return Null(), err
	}

	switch e.op {
	case "and":
		if !l.Truthy() {
			return BoolValue(false), nil
		}
		r, err := in.eval(e.r, sc)
		if err != nil {
			return Null(), err
		}
		return BoolValue(r.Truthy()), nil
	case "or":
		if l.Truthy() {
			return BoolValue(true), nil
		}
		r, err := in.eval(e.r, sc)
		if err != nil {
			return Null(), err
		}
		return BoolValue(r.Truthy()), nil
	case "??":
		if !l.IsNull() {
			return l, nil
		}
		return in.eval(e.r, sc)
	}

	r, err := in.eval(e.r, sc)
	if err != nil {
		return Null(), err
	}

	switch e.op {
	case "+", "-", "*", "/", "%":
		out, err := arithmetic(e.op, l, r, e.pos)
		if err != nil {
			return Null(), err
		}
		if err := in.checkString(out, e.pos); err != nil {
			return Null(), err
		}
		return out, nil
	case "==", "!=":
		eq, err := in.walker(e.pos).equal(l, r)
		if err != nil {
			return Null(), err
		}
		return BoolValue(eq == (e.op == "==")), nil
	case "<", "<=", ">", ">=":
		return compare(e.op, l, r, e.pos)
	case "in", "not in":
		found, err := in.contains(r, l, e.pos)
		if err != nil {
			return Null(), err
		}
		return BoolValue(found == (e.op == "in")), nil
	case "like", "ilike", "not like", "not ilike":
		matched, err := in.like(l, r, strings.HasSuffix(e.op, "ilike"), e.pos)
		if err != nil {
			return Null(), err
		}
		return BoolValue(matched == !strings.HasPrefix(e.op, "not")), nil
	case "=~", "!~":
		matched, err := in.regexMatch(l, r, e.pos)
		if err != nil {
			return Null(), err
		}
		return BoolValue(matched == (e.op == "=~")), nil
	}
	return Null(), runtimeErrorf(e.pos, "unknown operator %s", e.op)
}

func arithmetic(op string, l, r Value, pos Pos) (Value, error) {
	if op == "+" && l.kind == KindString && r.kind == KindString {
		return Value{kind: KindString, str: l.str + r.str, secret: l.secret || r.secret}, nil
	}
	if !l.IsNumber() || !r.IsNumber() {
		return Null(), typeErrorf(pos, "cannot apply %s to %s and %s", op, l.kind, r.kind)
	}

	if op == "/" {
		if r.Float() == 0 {
			return Null(), runtimeErrorf(pos, "division by zero")
		}
		return FloatValue(l.Float() / r.Float()), nil
	}

	if l.kind == KindInt && r.kind == KindInt {
		a, b := l.num, r.num
		switch op {
		case "+":
			return IntValue(a + b), nil
		case "-":
			return IntValue(a - b), nil
		case "*":
			return IntValue(a * b), nil
		case "%":
			if b == 0 {
				return Null(), runtimeErrorf(pos, "division by zero")
			}
			return IntValue(a % b), nil
		}
	}

	a, b := l.Float(), r.Float()
	switch op {
	case "+":
		return FloatValue(a + b), nil
	case "-":
		return FloatValue(a - b), nil
	case "*":
		return FloatValue(a * b), nil
	case "%":
		if b == 0 {
			return Null(), runtimeErrorf(pos, "division by zero")
		}
		return FloatValue(math.Mod(a, b)), nil
	}
	return Null(), runtimeErrorf(pos, "unknown operator %s", op)
}

// compare orders numbers, strings and datetimes. Any comparison with null is false.
func compare(op string, l, r Value, pos Pos) (Value, error) {
	if l.IsNull() || r.IsNull() {
		return BoolValue(false), nil
	}
	var c int
	switch {
	case l.kind == KindInt && r.kind == KindInt:
		c = cmpInt(l.num, r.num)
	case l.IsNumber() && r.IsNumber():
		a, b := l.Float(), r.Float()
		switch {
		case a < b:
			c = -1
		case a > b:
			c = 1
		}
	case l.kind == KindString && r.kind == KindString:
		c = strings.Compare(l.str, r.str)
	case l.kind == KindDateTime && r.kind == KindDateTime:
		c = l.Time().Compare(r.Time())
	default:
		return Null(), typeErrorf(pos, "cannot compare %s with %s", l.kind, r.kind)
	}

	switch op {
	case "<":
		return BoolValue(c < 0), nil
	case "<=":
		return BoolValue(c <= 0), nil
	case ">":
		return BoolValue(c > 0), nil
	default:
		return BoolValue(c >= 0), nil
	}
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// contains implements `needle in haystack`.
func (in *interpreter) contains(haystack, needle Value, pos Pos) (bool, error) {
	switch haystack.kind {
	case KindNull:
		return false, nil
	case KindList, KindTuple:
		w := in.walker(pos)
		for _, it := range haystack.Items() {
			if eq, err := w.equal(it, needle); eq || err != nil {
				return eq, err
			}
		}
		return false, nil
	case KindMap:
		k, err := mapKey(needle, pos)
		if err != nil {
			return false, err
		}
		return haystack.Map().Has(k), nil
	case KindString:
		if needle.kind != KindString {
			return false, typeErrorf(pos, "cannot search for %s in a string", needle.kind)
		}
		return strings.Contains(haystack.str, needle.str), nil
	}
	return false, typeErrorf(pos, "cannot search in %s", haystack.kind)
}

func (in *interpreter) like(l, r Value, insensitive bool, pos Pos) (bool, error) {
	if l.IsNull() {
		return false, nil
	}
	if l.kind != KindString || r.kind != KindString {
		return false, typeErrorf(pos, "like expects strings, got %s and %s", l.kind, r.kind)
	}
	var sb strings.Builder
	sb.WriteString("(?s)")
	if insensitive {
		sb.WriteString("(?i)")
	}
	sb.WriteString("^")
	escaped := false
	for _, ch := range r.str {
		switch {
		case escaped:
			sb.WriteString(regexp.QuoteMeta(string(ch)))
			escaped = false
		case ch == '\\':
			escaped = true
		case ch == '%':
			sb.WriteString(".*")
		case ch == '_':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(ch)))
		}
	}
	sb.WriteString("$")
	re, err := in.compileRegex(sb.String(), pos)
	if err != nil {
		return false, err
	}
	return re.MatchString(l.str), nil
}

func (in *interpreter) regexMatch(l, r Value, pos Pos) (bool, error) {
	if l.IsNull() {
		return false, nil
	}
	if l.kind != KindString || r.kind != KindString {
		return false, typeErrorf(pos, "regex match expects strings, got %s and %s", l.kind, r.kind)
	}
	re, err := in.compileRegex(r.str, pos)
	if err != nil {
		return false, err
	}
	return re.MatchString(l.str), nil
}

func (in *interpreter) compileRegex(pattern string, pos Pos) (*regexp.Regexp, error) {
	if re, ok := in.regexps[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, runtimeErrorf(pos, "invalid regular expression")
	}
	in.regexps[pattern] = re
	return re, nil
}
