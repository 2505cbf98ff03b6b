package hog

import (
	"context"
	"errors"
	"regexp"
	"strings"
)

const contextCheckInterval = 1024

type scope struct {
	vars   map[string]Value
	parent *scope
}

func newScope(parent *scope) *scope {
	return &scope{vars: map[string]Value{}, parent: parent}
}

func (s *scope) lookup(name string) (Value, *scope, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if v, ok := cur.vars[name]; ok {
			return v, cur, true
		}
	}
	return Null(), nil, false
}

func (s *scope) declare(name string, v Value) {
	s.vars[name] = v
}

func (s *scope) assign(name string, v Value) bool {
	for cur := s; cur != nil; cur = cur.parent {
		if _, ok := cur.vars[name]; ok {
			cur.vars[name] = v
			return true
		}
	}
	return false
}

type control int

const (
	ctrlNone control = iota
	ctrlBreak
	ctrlContinue
	ctrlReturn
)

type callable interface {
	name() string
	call(in *interpreter, args []Value, pos Pos) (Value, error)
}

type closure struct {
	decl *funStmt
	env  *scope
}

func (c *closure) name() string {
	return c.decl.name
}

func (c *closure) call(in *interpreter, args []Value, pos Pos) (Value, error) {
	if len(args) > len(c.decl.params) {
		return Null(), runtimeErrorf(pos, "function %s takes %d arguments, got %d", c.decl.name, len(c.decl.params), len(args))
	}
	in.depth++
	defer func() { in.depth-- }()
	if in.depth > in.opts.MaxCallDepth {
		return Null(), newError(ExecutionLimitExceeded, pos, "call depth limit of %d exceeded", in.opts.MaxCallDepth)
	}

	sc := newScope(c.env)
	for i, p := range c.decl.params {
		if i < len(args) {
			sc.declare(p, args[i])
		} else {
			sc.declare(p, Null())
		}
	}
	ctrl, val, err := in.execBlock(c.decl.body.stmts, sc)
	if err != nil {
		return Null(), err
	}
	switch ctrl {
	case ctrlReturn:
		return val, nil
	case ctrlBreak, ctrlContinue:
		return Null(), runtimeErrorf(pos, "break or continue outside of a loop")
	}
	return Null(), nil
}

type interpreter struct {
	ctx      context.Context
	opts     Options
	res      *Result
	redactor *Redactor
	globals  *scope
	steps    int
	depth    int
	fetches  int
	regexps  map[string]*regexp.Regexp
}

func newInterpreter(ctx context.Context, opts Options, res *Result) *interpreter {
	return &interpreter{
		ctx:     ctx,
		opts:    opts,
		res:     res,
		regexps: map[string]*regexp.Regexp{},
	}
}

func (in *interpreter) bindGlobals(g Globals) (*scope, error) {
	root := newScope(nil)
	bind := func(name string, v Value) {
		root.declare(name, Freeze(v))
	}
	bind("event", g.Event)
	bind("person", g.Person)
	bind("inputs", g.Inputs)
	for name, v := range g.Extra {
		bind(name, v)
	}

	var secrets []string
	w := detached()
	for _, v := range root.vars {
		var err error
		if secrets, err = w.collectSecrets(v, secrets); err != nil {
			in.redactor = in.opts.Redactor
			return nil, err
		}
	}
	in.redactor = in.opts.Redactor.With(secrets...)
	in.globals = root
	return root, nil
}

func (in *interpreter) run(body []stmt, root *scope) (Value, error) {
	if err := in.checkContext(Pos{}); err != nil {
		return Null(), err
	}
	ctrl, val, err := in.execBlock(body, newScope(root))
	if err != nil {
		return Null(), err
	}
	switch ctrl {
	case ctrlReturn:
		// The caller encodes the result, so it must be walkable.
		if err := in.walker(Pos{}).check(val); err != nil {
			return Null(), err
		}
		return val, nil
	case ctrlBreak, ctrlContinue:
		return Null(), runtimeErrorf(Pos{}, "break or continue outside of a loop")
	}
	return Null(), nil
}

// scrub guarantees that errors leaving Execute are *Error values without secrets.
func (in *interpreter) scrub(err error) error {
	var he *Error
	if !errors.As(err, &he) {
		return &Error{Kind: RuntimeError, Message: in.redactor.Redact(err.Error())}
	}
	out := *he
	out.Message = in.redactor.Redact(he.Message)
	return &out
}

func (in *interpreter) tick(pos Pos) error {
	in.steps++
	if in.steps > in.opts.MaxSteps {
		return newError(ExecutionLimitExceeded, pos, "step limit of %d exceeded", in.opts.MaxSteps)
	}
	if in.steps%contextCheckInterval == 0 {
		return in.checkContext(pos)
	}
	return nil
}

func (in *interpreter) checkContext(pos Pos) error {
	if err := in.ctx.Err(); err != nil {
		return contextError(err, pos)
	}
	return nil
}

func contextError(err error, pos Pos) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: ExecutionTimeout, Message: "execution timed out", Pos: pos, Cause: err}
	}
	return &Error{Kind: Cancelled, Message: "execution cancelled", Pos: pos, Cause: err}
}

func (in *interpreter) checkString(v Value, pos Pos) error {
	if v.kind == KindString && len(v.str) > in.opts.MaxStringLength {
		return newError(ExecutionLimitExceeded, pos, "string length limit of %d exceeded", in.opts.MaxStringLength)
	}
	return nil
}

func (in *interpreter) execBlock(stmts []stmt, sc *scope) (control, Value, error) {
	for _, s := range stmts {
		ctrl, val, err := in.exec(s, sc)
		if err != nil || ctrl != ctrlNone {
			return ctrl, val, err
		}
	}
	return ctrlNone, Null(), nil
}

func (in *interpreter) exec(s stmt, sc *scope) (control, Value, error) {
	if err := in.tick(s.position()); err != nil {
		return ctrlNone, Null(), err
	}

	switch s := s.(type) {
	case *blockStmt:
		return in.execBlock(s.stmts, newScope(sc))

	case *letStmt:
		val := Null()
		if s.value != nil {
			var err error
			if val, err = in.eval(s.value, sc); err != nil {
				return ctrlNone, Null(), err
			}
		}
		sc.declare(s.name, val)

	case *assignStmt:
		val, err := in.eval(s.value, sc)
		if err != nil {
			return ctrlNone, Null(), err
		}
		if err := in.assign(s.target, val, sc); err != nil {
			return ctrlNone, Null(), err
		}

	case *exprStmt:
		if _, err := in.eval(s.x, sc); err != nil {
			return ctrlNone, Null(), err
		}

	case *ifStmt:
		cond, err := in.eval(s.cond, sc)
		if err != nil {
			return ctrlNone, Null(), err
		}
		if cond.Truthy() {
			return in.exec(s.then, newScope(sc))
		}
		if s.els != nil {
			return in.exec(s.els, newScope(sc))
		}

	case *whileStmt:
		for {
			if err := in.tick(s.pos); err != nil {
				return ctrlNone, Null(), err
			}
			cond, err := in.eval(s.cond, sc)
			if err != nil {
				return ctrlNone, Null(), err
			}
			if !cond.Truthy() {
				break
			}
			ctrl, val, err := in.exec(s.body, newScope(sc))
			if err != nil {
				return ctrlNone, Null(), err
			}
			if ctrl == ctrlBreak {
				break
			}
			if ctrl == ctrlReturn {
				return ctrl, val, nil
			}
		}

	case *forInStmt:
		return in.execForIn(s, sc)

	case *forStmt:
		outer := newScope(sc)
		if s.init != nil {
			if _, _, err := in.exec(s.init, outer); err != nil {
				return ctrlNone, Null(), err
			}
		}
		for {
			if err := in.tick(s.pos); err != nil {
				return ctrlNone, Null(), err
			}
			if s.cond != nil {
				cond, err := in.eval(s.cond, outer)
				if err != nil {
					return ctrlNone, Null(), err
				}
				if !cond.Truthy() {
					break
				}
			}
			ctrl, val, err := in.exec(s.body, newScope(outer))
			if err != nil {
				return ctrlNone, Null(), err
			}
			if ctrl == ctrlBreak {
				break
			}
			if ctrl == ctrlReturn {
				return ctrl, val, nil
			}
			if s.step != nil {
				if _, _, err := in.exec(s.step, outer); err != nil {
					return ctrlNone, Null(), err
				}
			}
		}

	case *returnStmt:
		val := Null()
		if s.value != nil {
			var err error
			if val, err = in.eval(s.value, sc); err != nil {
				return ctrlNone, Null(), err
			}
		}
		return ctrlReturn, val, nil

	case *breakStmt:
		return ctrlBreak, Null(), nil

	case *continueStmt:
		return ctrlContinue, Null(), nil

	case *funStmt:
		sc.declare(s.name, funcValue(&closure{decl: s, env: sc}))
	}
	return ctrlNone, Null(), nil
}

func (in *interpreter) execForIn(s *forInStmt, sc *scope) (control, Value, error) {
	iter, err := in.eval(s.iter, sc)
	if err != nil {
		return ctrlNone, Null(), err
	}

	// Snapshot so the body may modify the collection.
	var keys, vals []Value
	switch iter.kind {
	case KindNull:
		return ctrlNone, Null(), nil
	case KindList, KindTuple:
		items := iter.Items()
		vals = make([]Value, len(items))
		copy(vals, items)
		keys = make([]Value, len(items))
		for i := range items {
			keys[i] = IntValue(int64(i + 1))
		}
	case KindMap:
		iter.Map().Range(func(k string, v Value) bool {
			keys = append(keys, StringValue(k))
			vals = append(vals, v)
			return true
		})
	default:
		return ctrlNone, Null(), typeErrorf(s.iter.position(), "cannot iterate over %s", iter.kind)
	}

	for i := range vals {
		if err := in.tick(s.pos); err != nil {
			return ctrlNone, Null(), err
		}
		body := newScope(sc)
		if s.keyName != "" {
			body.declare(s.keyName, keys[i])
		}
		body.declare(s.valName, vals[i])
		ctrl, val, err := in.exec(s.body, body)
		if err != nil {
			return ctrlNone, Null(), err
		}
		if ctrl == ctrlBreak {
			break
		}
		if ctrl == ctrlReturn {
			return ctrl, val, nil
		}
	}
	return ctrlNone, Null(), nil
}

// assign stores val at target. Frozen containers along the path are copied and the
// copies are written back up to the root variable.
func (in *interpreter) assign(target expr, val Value, sc *scope) error {
	switch t := target.(type) {
	case *identExpr:
		if !sc.assign(t.name, val) {
			return newError(UndefinedVariable, t.pos, "variable %s is not defined", t.name)
		}
		return nil
	case *memberExpr:
		return in.assignInto(t.obj, StringValue(t.name), val, sc, t.pos)
	case *indexExpr:
		key, err := in.eval(t.index, sc)
		if err != nil {
			return err
		}
		return in.assignInto(t.obj, key, val, sc, t.pos)
	}
	return syntaxErrorf(target.position(), "invalid assignment target")
}

func (in *interpreter) assignInto(objExpr expr, key, val Value, sc *scope, pos Pos) error {
	container, err := in.eval(objExpr, sc)
	if err != nil {
		return err
	}
	updated, copied, err := setIn(container, key, val, pos)
	if err != nil {
		return err
	}
	if copied {
		return in.assign(objExpr, updated, sc)
	}
	return nil
}

func setIn(container, key, val Value, pos Pos) (Value, bool, error) {
	switch container.kind {
	case KindMap:
		k, err := mapKey(key, pos)
		if err != nil {
			return Null(), false, err
		}
		m := container.Map()
		copied := false
		if m.frozen {
			m = m.clone()
			copied = true
		}
		m.Set(k, val)
		return MapValue(m), copied, nil
	case KindList:
		l := container.list()
		i, err := resolveIndex(key, len(l.items), pos)
		if err != nil {
			return Null(), false, err
		}
		if i < 0 {
			return Null(), false, runtimeErrorf(pos, "index out of range")
		}
		copied := false
		if l.frozen {
			items := make([]Value, len(l.items))
			copy(items, l.items)
			l = &List{items: items}
			copied = true
		}
		l.items[i] = val
		return Value{kind: KindList, ref: l}, copied, nil
	case KindTuple:
		return Null(), false, typeErrorf(pos, "tuples cannot be modified")
	}
	return Null(), false, typeErrorf(pos, "cannot set a key on %s", container.kind)
}

func mapKey(key Value, pos Pos) (string, error) {
	switch key.kind {
	case KindString:
		return key.str, nil
	case KindInt, KindFloat, KindBool:
		return key.String(), nil
	}
	return "", typeErrorf(pos, "%s cannot be used as a dictionary key", key.kind)
}

// resolveIndex maps a 1-based (or negative, from the end) index to a slice offset.
// It returns -1 when the index is out of range.
func resolveIndex(idx Value, n int, pos Pos) (int, error) {
	var i int64
	switch idx.kind {
	case KindInt:
		i = idx.num
	case KindFloat:
		n, ok := floatToInt(idx.flt)
		if !ok || idx.flt != float64(n) {
			return 0, typeErrorf(pos, "array index must be an integer")
		}
		i = n
	default:
		return 0, typeErrorf(pos, "array index must be an integer, got %s", idx.kind)
	}
	if i == 0 {
		return 0, runtimeErrorf(pos, "arrays are 1-indexed, index 0 is invalid")
	}
	if i < 0 {
		i = int64(n) + i + 1
	}
	if i < 1 || i > int64(n) {
		return -1, nil
	}
	return int(i - 1), nil
}

func (in *interpreter) eval(e expr, sc *scope) (Value, error) {
	if err := in.tick(e.position()); err != nil {
		return Null(), err
	}

	switch e := e.(type) {
	case *literalExpr:
		return e.val, nil

	case *identExpr:
		v, _, ok := sc.lookup(e.name)
		if !ok {
			return Null(), newError(UndefinedVariable, e.pos, "variable %s is not defined", e.name)
		}
		return v, nil

	case *fstringExpr:
		var sb strings.Builder
		secret := false
		w := in.walker(e.pos)
		for _, part := range e.parts {
			v, err := in.eval(part, sc)
			if err != nil {
				return Null(), err
			}
			if v.kind != KindNull {
				if err := w.writeValue(&sb, v, true, nil); err != nil {
					return Null(), err
				}
			}
			if !secret {
				if secret, err = w.containsSecret(v); err != nil {
					return Null(), err
				}
			}
		}
		return Value{kind: KindString, str: sb.String(), secret: secret}, nil

	case *listExpr:
		items, err := in.evalAll(e.items, sc)
		if err != nil {
			return Null(), err
		}
		return ListValue(items...), nil

	case *tupleExpr:
		items, err := in.evalAll(e.items, sc)
		if err != nil {
			return Null(), err
		}
		return TupleValue(items...), nil

	case *dictExpr:
		m := NewMap()
		for i := range e.keys {
			k, err := in.eval(e.keys[i], sc)
			if err != nil {
				return Null(), err
			}
			key, err := mapKey(k, e.keys[i].position())
			if err != nil {
				return Null(), err
			}
			v, err := in.eval(e.vals[i], sc)
			if err != nil {
				return Null(), err
			}
			m.Set(key, v)
		}
		return MapValue(m), nil

	case *memberExpr:
		obj, err := in.eval(e.obj, sc)
		if err != nil {
			return Null(), err
		}
		return in.getKey(e.obj, obj, StringValue(e.name), sc, e.pos)

	case *indexExpr:
		obj, err := in.eval(e.obj, sc)
		if err != nil {
			return Null(), err
		}
		idx, err := in.eval(e.index, sc)
		if err != nil {
			return Null(), err
		}
		return in.getKey(e.obj, obj, idx, sc, e.pos)

	case *callExpr:
		return in.evalCall(e, sc)

	case *unaryExpr:
		x, err := in.eval(e.x, sc)
		if err != nil {
			return Null(), err
		}
		if e.op == "not" {
			return BoolValue(!x.Truthy()), nil
		}
		return negate(x, e.pos)

	case *binaryExpr:
		return in.evalBinary(e, sc)

	case *ternaryExpr:
		cond, err := in.eval(e.cond, sc)
		if err != nil {
			return Null(), err
		}
		if cond.Truthy() {
			return in.eval(e.then, sc)
		}
		return in.eval(e.els, sc)
	}
	return Null(), runtimeErrorf(e.position(), "unsupported expression")
}

func (in *interpreter) evalAll(exprs []expr, sc *scope) ([]Value, error) {
	out := make([]Value, len(exprs))
	for i, x := range exprs {
		v, err := in.eval(x, sc)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// getKey implements property and index reads. Reads through null yield null, and a
// missing key yields null except at the top level of the event, person and inputs globals.
func (in *interpreter) getKey(objExpr expr, obj, key Value, sc *scope, pos Pos) (Value, error) {
	switch obj.kind {
	case KindNull:
		return Null(), nil
	case KindMap:
		k, err := mapKey(key, pos)
		if err != nil {
			return Null(), err
		}
		v, ok := obj.Map().Get(k)
		if !ok && in.isStrictGlobal(objExpr, sc) {
			return Null(), newError(UndefinedVariable, pos, "%s.%s is not defined", objExpr.(*identExpr).name, k)
		}
		return v, nil
	case KindList, KindTuple:
		items := obj.Items()
		i, err := resolveIndex(key, len(items), pos)
		if err != nil {
			return Null(), err
		}
		if i < 0 {
			return Null(), nil
		}
		return items[i], nil
	}
	return Null(), typeErrorf(pos, "cannot read a property of %s", obj.kind)
}

func (in *interpreter) isStrictGlobal(e expr, sc *scope) bool {
	id, ok := e.(*identExpr)
	if !ok || !strictGlobals[id.name] {
		return false
	}
	_, owner, found := sc.lookup(id.name)
	return found && owner == in.globals
}

func (in *interpreter) evalCall(e *callExpr, sc *scope) (Value, error) {
	var fn callable
	if id, ok := e.callee.(*identExpr); ok {
		v, _, found := sc.lookup(id.name)
		switch {
		case found && v.kind == KindFunc:
			fn = v.ref.(callable)
		case found:
			return Null(), typeErrorf(e.pos, "%s is not a function", id.name)
		default:
			b, ok := builtins[id.name]
			if !ok {
				return Null(), newError(UndefinedVariable, e.pos, "function %s is not defined", id.name)
			}
			fn = b
		}
	} else {
		v, err := in.eval(e.callee, sc)
		if err != nil {
			return Null(), err
		}
		if v.kind != KindFunc {
			return Null(), typeErrorf(e.pos, "%s is not a function", v.kind)
		}
		fn = v.ref.(callable)
	}

	args, err := in.evalAll(e.args, sc)
	if err != nil {
		return Null(), err
	}
	out, err := fn.call(in, args, e.pos)
	if err != nil {
		return Null(), err
	}
	if err := in.checkString(out, e.pos); err != nil {
		return Null(), err
	}
	return out, nil
}
