package hog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MaxValueDepth bounds how deeply a value may nest when it is printed, compared,
// encoded or copied. A container stored inside itself always exceeds it.
const MaxValueDepth = 128

// maxDetachedNodes bounds walks made outside an execution, which have no step budget.
const maxDetachedNodes = DefaultMaxSteps

// walker bounds one traversal of a value. Shared sub-values are visited once per
// reference, so a walk costs what the value would cost to print. Inside an
// execution every visited node is charged as a step.
type walker struct {
	in    *interpreter
	pos   Pos
	depth int
	nodes int
	// limit caps the output of format and writeJSON; zero is unbounded.
	limit int
}

// walker returns a traversal charged to in and capped at the string length limit.
func (in *interpreter) walker(pos Pos) *walker {
	return &walker{in: in, pos: pos, limit: in.opts.MaxStringLength}
}

// detached returns a traversal for values handled outside an execution.
func detached() *walker {
	return &walker{}
}

func (w *walker) enter() error {
	w.depth++
	if w.depth > MaxValueDepth {
		return newError(ExecutionLimitExceeded, w.pos, "value nesting limit of %d exceeded", MaxValueDepth)
	}
	if w.in != nil {
		return w.in.tick(w.pos)
	}
	w.nodes++
	if w.nodes > maxDetachedNodes {
		return newError(ExecutionLimitExceeded, w.pos, "value size limit of %d nodes exceeded", maxDetachedNodes)
	}
	return nil
}

func (w *walker) leave() {
	w.depth--
}

func (w *walker) grown(n int) error {
	if w.limit > 0 && n > w.limit {
		return newError(ExecutionLimitExceeded, w.pos, "string length limit of %d exceeded", w.limit)
	}
	return nil
}

// check walks v without producing anything.
func (w *walker) check(v Value) error {
	if err := w.enter(); err != nil {
		return err
	}
	defer w.leave()
	switch v.kind {
	case KindList, KindTuple:
		for _, it := range v.Items() {
			if err := w.check(it); err != nil {
				return err
			}
		}
	case KindMap:
		return w.rangeMap(v.Map(), func(_ string, val Value) error {
			return w.check(val)
		})
	}
	return nil
}

func (w *walker) rangeMap(m *Map, fn func(k string, val Value) error) error {
	var err error
	m.Range(func(k string, val Value) bool {
		err = fn(k, val)
		return err == nil
	})
	return err
}

func (w *walker) taint(v Value) (Value, error) {
	if err := w.enter(); err != nil {
		return Null(), err
	}
	defer w.leave()
	switch v.kind {
	case KindString:
		v.secret = true
		return v, nil
	case KindList, KindTuple:
		items := make([]Value, len(v.Items()))
		for i, it := range v.Items() {
			t, err := w.taint(it)
			if err != nil {
				return Null(), err
			}
			items[i] = t
		}
		if v.kind == KindTuple {
			return TupleValue(items...), nil
		}
		return ListValue(items...), nil
	case KindMap:
		out := NewMap()
		err := w.rangeMap(v.Map(), func(k string, val Value) error {
			t, err := w.taint(val)
			out.Set(k, t)
			return err
		})
		if err != nil {
			return Null(), err
		}
		return MapValue(out), nil
	}
	return v, nil
}

func (w *walker) containsSecret(v Value) (bool, error) {
	if err := w.enter(); err != nil {
		return false, err
	}
	defer w.leave()
	switch v.kind {
	case KindString:
		return v.secret, nil
	case KindList, KindTuple:
		for _, it := range v.Items() {
			if found, err := w.containsSecret(it); found || err != nil {
				return found, err
			}
		}
	case KindMap:
		found := false
		err := w.rangeMap(v.Map(), func(_ string, val Value) error {
			var err error
			found, err = w.containsSecret(val)
			if found && err == nil {
				return errFound
			}
			return err
		})
		if err == errFound {
			return true, nil
		}
		return false, err
	}
	return false, nil
}

// errFound stops a map range early.
var errFound = errors.New("found")

func (w *walker) collectSecrets(v Value, out []string) ([]string, error) {
	if err := w.enter(); err != nil {
		return out, err
	}
	defer w.leave()
	switch v.kind {
	case KindString:
		if v.secret {
			out = append(out, v.str)
		}
	case KindList, KindTuple:
		for _, it := range v.Items() {
			var err error
			if out, err = w.collectSecrets(it, out); err != nil {
				return out, err
			}
		}
	case KindMap:
		err := w.rangeMap(v.Map(), func(_ string, val Value) error {
			var err error
			out, err = w.collectSecrets(val, out)
			return err
		})
		return out, err
	}
	return out, nil
}

func (w *walker) equal(v, o Value) (bool, error) {
	if err := w.enter(); err != nil {
		return false, err
	}
	defer w.leave()
	if v.IsNumber() && o.IsNumber() {
		if v.kind == KindInt && o.kind == KindInt {
			return v.num == o.num, nil
		}
		return v.Float() == o.Float(), nil
	}
	isSeq := func(k Kind) bool { return k == KindList || k == KindTuple }
	if isSeq(v.kind) && isSeq(o.kind) {
		a, b := v.Items(), o.Items()
		if len(a) != len(b) {
			return false, nil
		}
		for i := range a {
			if eq, err := w.equal(a[i], b[i]); !eq || err != nil {
				return false, err
			}
		}
		return true, nil
	}
	if v.kind != o.kind {
		return false, nil
	}
	switch v.kind {
	case KindNull:
		return true, nil
	case KindBool:
		return v.num == o.num, nil
	case KindString:
		return v.str == o.str, nil
	case KindDateTime:
		return v.Time().Equal(o.Time()), nil
	case KindMap:
		a, b := v.Map(), o.Map()
		if a.Len() != b.Len() {
			return false, nil
		}
		equal := true
		err := w.rangeMap(a, func(k string, val Value) error {
			other, ok := b.Get(k)
			if !ok {
				equal = false
				return errFound
			}
			eq, err := w.equal(val, other)
			if !eq && err == nil {
				equal = false
				return errFound
			}
			return err
		})
		if err != nil && err != errFound {
			return false, err
		}
		return equal, nil
	case KindFunc:
		return v.ref == o.ref, nil
	}
	return false, nil
}

// format renders v. Top-level strings are written raw; nested ones are quoted.
// When r is non-nil secret strings are masked.
func (w *walker) format(v Value, top bool, r *Redactor) (string, error) {
	var sb strings.Builder
	err := w.writeValue(&sb, v, top, r)
	return sb.String(), err
}

var quoteReplacer = strings.NewReplacer(`\`, `\\`, `'`, `\'`, "\n", `\n`)

func (w *walker) writeValue(sb *strings.Builder, v Value, top bool, r *Redactor) error {
	if err := w.enter(); err != nil {
		return err
	}
	defer w.leave()
	switch v.kind {
	case KindNull:
		sb.WriteString("null")
	case KindBool:
		sb.WriteString(strconv.FormatBool(v.Bool()))
	case KindInt:
		sb.WriteString(strconv.FormatInt(v.num, 10))
	case KindFloat:
		sb.WriteString(formatFloat(v.flt))
	case KindString:
		s := v.str
		if r != nil && v.secret {
			s = r.mask(s)
		}
		if top {
			sb.WriteString(s)
			break
		}
		sb.WriteByte('\'')
		quoteReplacer.WriteString(sb, s)
		sb.WriteByte('\'')
	case KindList, KindTuple:
		open, closing := "[", "]"
		if v.kind == KindTuple {
			open, closing = "(", ")"
		}
		sb.WriteString(open)
		for i, it := range v.Items() {
			if i > 0 {
				sb.WriteString(", ")
			}
			if err := w.writeValue(sb, it, false, r); err != nil {
				return err
			}
		}
		sb.WriteString(closing)
	case KindMap:
		sb.WriteString("{")
		i := 0
		err := w.rangeMap(v.Map(), func(k string, val Value) error {
			if i > 0 {
				sb.WriteString(", ")
			}
			i++
			if err := w.writeValue(sb, StringValue(k), false, r); err != nil {
				return err
			}
			sb.WriteString(": ")
			return w.writeValue(sb, val, false, r)
		})
		if err != nil {
			return err
		}
		sb.WriteString("}")
	case KindDateTime:
		sb.WriteString(v.Time().Format(dateTimeLayout))
	case KindFunc:
		fmt.Fprintf(sb, "fn<%s>", v.ref.(callable).name())
	}
	return w.grown(sb.Len())
}

func (w *walker) writeJSON(buf *bytes.Buffer, v Value) error {
	if err := w.enter(); err != nil {
		return err
	}
	defer w.leave()
	switch v.kind {
	case KindNull, KindFunc:
		buf.WriteString("null")
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.Bool()))
	case KindInt:
		buf.WriteString(strconv.FormatInt(v.num, 10))
	case KindFloat:
		b, err := json.Marshal(v.flt)
		if err != nil {
			return err
		}
		buf.Write(b)
	case KindString:
		writeJSONString(buf, v.str)
	case KindDateTime:
		writeJSONString(buf, v.Time().Format(dateTimeLayout))
	case KindList, KindTuple:
		buf.WriteByte('[')
		for i, it := range v.Items() {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := w.writeJSON(buf, it); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindMap:
		buf.WriteByte('{')
		i := 0
		err := w.rangeMap(v.Map(), func(k string, val Value) error {
			if i > 0 {
				buf.WriteByte(',')
			}
			i++
			writeJSONString(buf, k)
			buf.WriteByte(':')
			return w.writeJSON(buf, val)
		})
		if err != nil {
			return err
		}
		buf.WriteByte('}')
	}
	return w.grown(buf.Len())
}

func (w *walker) toInterface(v Value) (interface{}, error) {
	if err := w.enter(); err != nil {
		return nil, err
	}
	defer w.leave()
	switch v.kind {
	case KindNull:
		return nil, nil
	case KindBool:
		return v.Bool(), nil
	case KindInt:
		return v.num, nil
	case KindFloat:
		return v.flt, nil
	case KindString:
		return v.str, nil
	case KindList, KindTuple:
		out := make([]interface{}, len(v.Items()))
		for i, it := range v.Items() {
			x, err := w.toInterface(it)
			if err != nil {
				return nil, err
			}
			out[i] = x
		}
		return out, nil
	case KindMap:
		out := make(map[string]interface{}, v.Map().Len())
		err := w.rangeMap(v.Map(), func(k string, val Value) error {
			x, err := w.toInterface(val)
			out[k] = x
			return err
		})
		return out, err
	case KindDateTime:
		return v.Time().Format(dateTimeLayout), nil
	}
	return nil, nil
}
