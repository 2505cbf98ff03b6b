package hog

import (
	"bytes"
	"crypto/md5"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

type builtinFunc func(in *interpreter, args []Value, pos Pos) (Value, error)

type builtin struct {
	fname   string
	minArgs int
	// maxArgs < 0 means variadic.
	maxArgs int
	// raw builtins handle secrets themselves and skip result tainting.
	raw bool
	fn  builtinFunc
}

func (b *builtin) name() string {
	return b.fname
}

func (b *builtin) call(in *interpreter, args []Value, pos Pos) (Value, error) {
	if len(args) < b.minArgs || (b.maxArgs >= 0 && len(args) > b.maxArgs) {
		return Null(), runtimeErrorf(pos, "%s: wrong number of arguments (%d)", b.fname, len(args))
	}
	out, err := b.fn(in, args, pos)
	if err != nil {
		return Null(), err
	}
	if !b.raw {
		w := in.walker(pos)
		for _, a := range args {
			secret, err := w.containsSecret(a)
			if err != nil {
				return Null(), err
			}
			if secret {
				return w.taint(out)
			}
		}
	}
	return out, nil
}

var builtins map[string]*builtin

func register(name string, minArgs, maxArgs int, fn builtinFunc) {
	builtins[name] = &builtin{fname: name, minArgs: minArgs, maxArgs: maxArgs, fn: fn}
}

func init() {
	builtins = map[string]*builtin{}

	builtins["print"] = &builtin{fname: "print", maxArgs: -1, raw: true, fn: builtinPrint}
	builtins["fetch"] = &builtin{fname: "fetch", minArgs: 1, maxArgs: 2, raw: true, fn: builtinFetch}

	register("empty", 1, 1, func(_ *interpreter, args []Value, _ Pos) (Value, error) {
		return BoolValue(args[0].Empty()), nil
	})
	register("notEmpty", 1, 1, func(_ *interpreter, args []Value, _ Pos) (Value, error) {
		return BoolValue(!args[0].Empty()), nil
	})
	register("length", 1, 1, builtinLength)
	register("lower", 1, 1, stringFunc("lower", strings.ToLower))
	register("upper", 1, 1, stringFunc("upper", strings.ToUpper))
	register("trim", 1, 1, stringFunc("trim", strings.TrimSpace))
	register("concat", 0, -1, builtinConcat)
	register("toString", 1, 1, func(in *interpreter, args []Value, pos Pos) (Value, error) {
		if args[0].kind == KindString {
			return args[0], nil
		}
		s, err := in.walker(pos).format(args[0], true, nil)
		if err != nil {
			return Null(), err
		}
		return StringValue(s), nil
	})
	register("toInt", 1, 1, builtinToInt)
	register("toFloat", 1, 1, builtinToFloat)
	register("typeof", 1, 1, func(_ *interpreter, args []Value, _ Pos) (Value, error) {
		return StringValue(args[0].kind.String()), nil
	})

	register("base64Encode", 1, 1, stringFunc("base64Encode", func(s string) string {
		return base64.StdEncoding.EncodeToString([]byte(s))
	}))
	register("base64Decode", 1, 1, builtinBase64Decode)
	register("encodeURLComponent", 1, 1, stringFunc("encodeURLComponent", func(s string) string {
		return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
	}))
	register("decodeURLComponent", 1, 1, builtinDecodeURLComponent)
	register("md5Hex", 1, 1, stringFunc("md5Hex", func(s string) string {
		sum := md5.Sum([]byte(s))
		return hex.EncodeToString(sum[:])
	}))
	register("sha256Hex", 1, 1, stringFunc("sha256Hex", func(s string) string {
		sum := sha256.Sum256([]byte(s))
		return hex.EncodeToString(sum[:])
	}))

	register("jsonParse", 1, 1, builtinJSONParse)
	register("jsonStringify", 1, 2, builtinJSONStringify)

	register("keys", 1, 1, builtinKeys)
	register("values", 1, 1, builtinValues)
	register("has", 2, 2, builtinHas)
	register("indexOf", 2, 2, builtinIndexOf)
	register("arrayPushBack", 2, 2, builtinArrayPushBack)
	register("arrayJoin", 1, 2, builtinArrayJoin)

	register("splitByString", 2, 3, builtinSplitByString)
	register("replaceAll", 3, 3, builtinReplaceAll)
	register("substring", 2, 3, builtinSubstring)
	register("startsWith", 2, 2, builtinStartsWith)
	register("endsWith", 2, 2, builtinEndsWith)

	register("round", 1, 2, builtinRound)
	register("floor", 1, 1, mathFunc("floor", math.Floor))
	register("ceil", 1, 1, mathFunc("ceil", math.Ceil))
	register("min", 1, -1, func(_ *interpreter, args []Value, pos Pos) (Value, error) {
		return extremum("min", args, pos, -1)
	})
	register("max", 1, -1, func(_ *interpreter, args []Value, pos Pos) (Value, error) {
		return extremum("max", args, pos, 1)
	})

	registerDateTimeBuiltins()
}

// Builtins returns the sorted names of all builtin functions.
func Builtins() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// builtinPrint writes one log entry. The message is bounded like any other string.
func builtinPrint(in *interpreter, args []Value, pos Pos) (Value, error) {
	var sb strings.Builder
	w := in.walker(pos)
	for i, a := range args {
		if i > 0 {
			sb.WriteByte(' ')
		}
		if err := w.writeValue(&sb, a, true, in.redactor); err != nil {
			return Null(), err
		}
	}
	in.log("info", sb.String())
	return Null(), nil
}

func (in *interpreter) log(level, message string) {
	entry := LogEntry{Level: level, Timestamp: in.opts.Now().UTC(), Message: in.redactor.Redact(message)}
	if len(in.res.Logs) >= in.opts.MaxLogEntries {
		in.res.DroppedLogs++
		return
	}
	in.res.Logs = append(in.res.Logs, entry)
	if in.opts.Log != nil {
		in.opts.Log(entry)
	}
}

// stringFunc lifts a string transformation; null passes through.
func stringFunc(name string, f func(string) string) builtinFunc {
	return func(_ *interpreter, args []Value, pos Pos) (Value, error) {
		a := args[0]
		if a.IsNull() {
			return Null(), nil
		}
		if a.kind != KindString {
			return Null(), typeErrorf(pos, "%s expects a string, got %s", name, a.kind)
		}
		return StringValue(f(a.str)), nil
	}
}

func mathFunc(name string, f func(float64) float64) builtinFunc {
	return func(_ *interpreter, args []Value, pos Pos) (Value, error) {
		a := args[0]
		switch a.kind {
		case KindNull:
			return Null(), nil
		case KindInt:
			return a, nil
		case KindFloat:
			return FloatValue(f(a.flt)), nil
		}
		return Null(), typeErrorf(pos, "%s expects a number, got %s", name, a.kind)
	}
}

func builtinLength(_ *interpreter, args []Value, pos Pos) (Value, error) {
	a := args[0]
	switch a.kind {
	case KindNull:
		return IntValue(0), nil
	case KindString:
		return IntValue(int64(utf8.RuneCountInString(a.str))), nil
	case KindList, KindTuple:
		return IntValue(int64(len(a.Items()))), nil
	case KindMap:
		return IntValue(int64(a.Map().Len())), nil
	}
	return Null(), typeErrorf(pos, "length expects a string or collection, got %s", a.kind)
}

func builtinConcat(in *interpreter, args []Value, pos Pos) (Value, error) {
	var sb strings.Builder
	w := in.walker(pos)
	for _, a := range args {
		if a.IsNull() {
			continue
		}
		if err := w.writeValue(&sb, a, true, nil); err != nil {
			return Null(), err
		}
	}
	return StringValue(sb.String()), nil
}

func builtinToInt(_ *interpreter, args []Value, _ Pos) (Value, error) {
	a := args[0]
	switch a.kind {
	case KindInt:
		return a, nil
	case KindFloat:
		if i, ok := floatToInt(a.flt); ok {
			return IntValue(i), nil
		}
		return Null(), nil
	case KindBool:
		return IntValue(a.num), nil
	case KindDateTime:
		return IntValue(a.Time().Unix()), nil
	case KindString:
		s := strings.TrimSpace(a.str)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return IntValue(i), nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			if i, ok := floatToInt(f); ok {
				return IntValue(i), nil
			}
		}
	}
	return Null(), nil
}

func builtinToFloat(_ *interpreter, args []Value, _ Pos) (Value, error) {
	a := args[0]
	switch a.kind {
	case KindInt:
		return FloatValue(float64(a.num)), nil
	case KindFloat:
		return a, nil
	case KindBool:
		return FloatValue(float64(a.num)), nil
	case KindDateTime:
		return FloatValue(unixSeconds(a.Time())), nil
	case KindString:
		if f, err := strconv.ParseFloat(strings.TrimSpace(a.str), 64); err == nil {
			return FloatValue(f), nil
		}
	}
	return Null(), nil
}

func builtinBase64Decode(_ *interpreter, args []Value, pos Pos) (Value, error) {
	a := args[0]
	if a.IsNull() {
		return Null(), nil
	}
	if a.kind != KindString {
		return Null(), typeErrorf(pos, "base64Decode expects a string, got %s", a.kind)
	}
	b, err := base64.StdEncoding.DecodeString(a.str)
	if err != nil {
		if b, err = base64.RawStdEncoding.DecodeString(a.str); err != nil {
			return Null(), runtimeErrorf(pos, "base64Decode: invalid input")
		}
	}
	return StringValue(string(b)), nil
}

func builtinDecodeURLComponent(_ *interpreter, args []Value, pos Pos) (Value, error) {
	a := args[0]
	if a.IsNull() {
		return Null(), nil
	}
	if a.kind != KindString {
		return Null(), typeErrorf(pos, "decodeURLComponent expects a string, got %s", a.kind)
	}
	s, err := url.PathUnescape(a.str)
	if err != nil {
		return Null(), runtimeErrorf(pos, "decodeURLComponent: invalid input")
	}
	return StringValue(s), nil
}

func builtinJSONParse(_ *interpreter, args []Value, pos Pos) (Value, error) {
	a := args[0]
	if a.kind != KindString {
		return Null(), typeErrorf(pos, "jsonParse expects a string, got %s", a.kind)
	}
	v, err := ParseJSON([]byte(a.str))
	if err != nil {
		return Null(), runtimeErrorf(pos, "jsonParse: invalid JSON")
	}
	return v, nil
}

func builtinJSONStringify(in *interpreter, args []Value, pos Pos) (Value, error) {
	b, err := in.encodeJSON(args[0], pos)
	if err != nil {
		return Null(), err
	}
	if len(args) > 1 && args[1].kind == KindInt && args[1].num > 0 {
		indented, err := indentJSON(b, int(args[1].num))
		if err != nil {
			return Null(), runtimeErrorf(pos, "jsonStringify: value cannot be encoded")
		}
		b = indented
	}
	return StringValue(string(b)), nil
}

// encodeJSON is MarshalJSON charged to the execution and capped at the string limit.
func (in *interpreter) encodeJSON(v Value, pos Pos) ([]byte, error) {
	var buf bytes.Buffer
	if err := in.walker(pos).writeJSON(&buf, v); err != nil {
		if KindOf(err) == "" {
			return nil, runtimeErrorf(pos, "value cannot be encoded as JSON")
		}
		return nil, err
	}
	return buf.Bytes(), nil
}

func builtinKeys(_ *interpreter, args []Value, pos Pos) (Value, error) {
	a := args[0]
	switch a.kind {
	case KindNull:
		return ListValue(), nil
	case KindMap:
		keys := a.Map().Keys()
		out := make([]Value, len(keys))
		for i, k := range keys {
			out[i] = StringValue(k)
		}
		return ListValue(out...), nil
	case KindList, KindTuple:
		out := make([]Value, len(a.Items()))
		for i := range out {
			out[i] = IntValue(int64(i + 1))
		}
		return ListValue(out...), nil
	}
	return Null(), typeErrorf(pos, "keys expects a collection, got %s", a.kind)
}

func builtinValues(_ *interpreter, args []Value, pos Pos) (Value, error) {
	a := args[0]
	switch a.kind {
	case KindNull:
		return ListValue(), nil
	case KindMap:
		var out []Value
		a.Map().Range(func(_ string, v Value) bool {
			out = append(out, v)
			return true
		})
		return ListValue(out...), nil
	case KindList, KindTuple:
		out := make([]Value, len(a.Items()))
		copy(out, a.Items())
		return ListValue(out...), nil
	}
	return Null(), typeErrorf(pos, "values expects a collection, got %s", a.kind)
}

func builtinHas(in *interpreter, args []Value, pos Pos) (Value, error) {
	found, err := in.contains(args[0], args[1], pos)
	if err != nil {
		return Null(), err
	}
	return BoolValue(found), nil
}

func builtinIndexOf(in *interpreter, args []Value, pos Pos) (Value, error) {
	a := args[0]
	switch a.kind {
	case KindNull:
		return IntValue(0), nil
	case KindList, KindTuple:
		w := in.walker(pos)
		for i, it := range a.Items() {
			eq, err := w.equal(it, args[1])
			if err != nil {
				return Null(), err
			}
			if eq {
				return IntValue(int64(i + 1)), nil
			}
		}
		return IntValue(0), nil
	case KindString:
		if args[1].kind != KindString {
			return Null(), typeErrorf(pos, "indexOf expects a string needle, got %s", args[1].kind)
		}
		i := strings.Index(a.str, args[1].str)
		if i < 0 {
			return IntValue(0), nil
		}
		return IntValue(int64(utf8.RuneCountInString(a.str[:i]) + 1)), nil
	}
	return Null(), typeErrorf(pos, "indexOf expects an array or string, got %s", a.kind)
}

func builtinArrayPushBack(_ *interpreter, args []Value, pos Pos) (Value, error) {
	a := args[0]
	if a.IsNull() {
		return ListValue(args[1]), nil
	}
	if a.kind != KindList && a.kind != KindTuple {
		return Null(), typeErrorf(pos, "arrayPushBack expects an array, got %s", a.kind)
	}
	out := make([]Value, len(a.Items()), len(a.Items())+1)
	copy(out, a.Items())
	return ListValue(append(out, args[1])...), nil
}

func builtinArrayJoin(in *interpreter, args []Value, pos Pos) (Value, error) {
	a := args[0]
	sep := ""
	if len(args) > 1 {
		if args[1].kind != KindString {
			return Null(), typeErrorf(pos, "arrayJoin expects a string separator, got %s", args[1].kind)
		}
		sep = args[1].str
	}
	if a.IsNull() {
		return StringValue(""), nil
	}
	if a.kind != KindList && a.kind != KindTuple {
		return Null(), typeErrorf(pos, "arrayJoin expects an array, got %s", a.kind)
	}
	var sb strings.Builder
	w := in.walker(pos)
	n := 0
	for _, it := range a.Items() {
		if it.IsNull() {
			continue
		}
		if n > 0 {
			sb.WriteString(sep)
		}
		n++
		if err := w.writeValue(&sb, it, true, nil); err != nil {
			return Null(), err
		}
	}
	return StringValue(sb.String()), nil
}

func builtinSplitByString(_ *interpreter, args []Value, pos Pos) (Value, error) {
	sep, s := args[0], args[1]
	if s.IsNull() {
		return ListValue(), nil
	}
	if sep.kind != KindString || s.kind != KindString {
		return Null(), typeErrorf(pos, "splitByString expects strings")
	}
	limit := -1
	if len(args) > 2 {
		if args[2].kind != KindInt {
			return Null(), typeErrorf(pos, "splitByString expects an integer limit")
		}
		limit = int(args[2].num)
	}
	var parts []string
	if sep.str == "" {
		parts = strings.Split(s.str, "")
		if limit > 0 && len(parts) > limit {
			parts = parts[:limit]
		}
	} else {
		parts = strings.SplitN(s.str, sep.str, limit)
	}
	out := make([]Value, len(parts))
	for i, p := range parts {
		out[i] = StringValue(p)
	}
	return ListValue(out...), nil
}

func builtinReplaceAll(_ *interpreter, args []Value, pos Pos) (Value, error) {
	if args[0].IsNull() {
		return Null(), nil
	}
	for _, a := range args {
		if a.kind != KindString {
			return Null(), typeErrorf(pos, "replaceAll expects strings, got %s", a.kind)
		}
	}
	return StringValue(strings.ReplaceAll(args[0].str, args[1].str, args[2].str)), nil
}

// substring takes a 1-based start and an optional length, counted in characters.
func builtinSubstring(_ *interpreter, args []Value, pos Pos) (Value, error) {
	s := args[0]
	if s.IsNull() {
		return Null(), nil
	}
	if s.kind != KindString || args[1].kind != KindInt {
		return Null(), typeErrorf(pos, "substring expects a string and an integer start")
	}
	runes := []rune(s.str)
	start := int(args[1].num)
	if start < 1 {
		start = 1
	}
	if start > len(runes) {
		return StringValue(""), nil
	}
	end := len(runes)
	if len(args) > 2 {
		if args[2].kind != KindInt {
			return Null(), typeErrorf(pos, "substring expects an integer length")
		}
		if n := int(args[2].num); n >= 0 && start-1+n < end {
			end = start - 1 + n
		}
	}
	return StringValue(string(runes[start-1 : end])), nil
}

func builtinStartsWith(_ *interpreter, args []Value, pos Pos) (Value, error) {
	if args[0].IsNull() {
		return BoolValue(false), nil
	}
	if args[0].kind != KindString || args[1].kind != KindString {
		return Null(), typeErrorf(pos, "startsWith expects strings")
	}
	return BoolValue(strings.HasPrefix(args[0].str, args[1].str)), nil
}

func builtinEndsWith(_ *interpreter, args []Value, pos Pos) (Value, error) {
	if args[0].IsNull() {
		return BoolValue(false), nil
	}
	if args[0].kind != KindString || args[1].kind != KindString {
		return Null(), typeErrorf(pos, "endsWith expects strings")
	}
	return BoolValue(strings.HasSuffix(args[0].str, args[1].str)), nil
}

func builtinRound(_ *interpreter, args []Value, pos Pos) (Value, error) {
	a := args[0]
	digits := int64(0)
	if len(args) > 1 {
		if args[1].kind != KindInt {
			return Null(), typeErrorf(pos, "round expects an integer precision")
		}
		digits = args[1].num
	}
	switch a.kind {
	case KindNull:
		return Null(), nil
	case KindInt:
		return a, nil
	case KindFloat:
		p := math.Pow(10, float64(digits))
		return FloatValue(math.Round(a.flt*p) / p), nil
	}
	return Null(), typeErrorf(pos, "round expects a number, got %s", a.kind)
}

func extremum(name string, args []Value, pos Pos, sign int) (Value, error) {
	best := Null()
	for _, a := range args {
		if a.IsNull() {
			continue
		}
		if !a.IsNumber() {
			return Null(), typeErrorf(pos, "%s expects numbers, got %s", name, a.kind)
		}
		if best.IsNull() || (sign < 0 && a.Float() < best.Float()) || (sign > 0 && a.Float() > best.Float()) {
			best = a
		}
	}
	return best, nil
}

func unixSeconds(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}
