package hog

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Kind is the runtime type tag of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindList
	KindTuple
	KindMap
	KindDateTime
	KindFunc
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "boolean"
	case KindInt:
		return "integer"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindList:
		return "array"
	case KindTuple:
		return "tuple"
	case KindMap:
		return "object"
	case KindDateTime:
		return "datetime"
	case KindFunc:
		return "function"
	default:
		return "unknown"
	}
}

// Value is a tagged script value. The zero Value is null.
type Value struct {
	kind Kind
	num  int64
	flt  float64
	str  string
	// secret marks strings derived from secret inputs.
	secret bool
	ref    interface{}
}

// List backs both lists and tuples. Frozen lists are never modified in place.
type List struct {
	items  []Value
	frozen bool
}

// Map is an insertion-ordered string-keyed dictionary.
type Map struct {
	keys   []string
	index  map[string]int
	vals   []Value
	frozen bool
}

func Null() Value {
	return Value{}
}

func BoolValue(b bool) Value {
	v := Value{kind: KindBool}
	if b {
		v.num = 1
	}
	return v
}

func IntValue(i int64) Value {
	return Value{kind: KindInt, num: i}
}

func FloatValue(f float64) Value {
	return Value{kind: KindFloat, flt: f}
}

func StringValue(s string) Value {
	return Value{kind: KindString, str: s}
}

// SecretString returns a string value that is redacted wherever it is logged.
func SecretString(s string) Value {
	return Value{kind: KindString, str: s, secret: true}
}

func ListValue(items ...Value) Value {
	return Value{kind: KindList, ref: &List{items: items}}
}

func TupleValue(items ...Value) Value {
	return Value{kind: KindTuple, ref: &List{items: items, frozen: true}}
}

func MapValue(m *Map) Value {
	if m == nil {
		m = NewMap()
	}
	return Value{kind: KindMap, ref: m}
}

func DateTimeValue(t time.Time) Value {
	return Value{kind: KindDateTime, ref: t.UTC()}
}

func funcValue(f callable) Value {
	return Value{kind: KindFunc, ref: f}
}

func NewMap() *Map {
	return &Map{index: map[string]int{}}
}

func (v Value) Kind() Kind {
	return v.kind
}

func (v Value) IsNull() bool {
	return v.kind == KindNull
}

func (v Value) Bool() bool {
	return v.num != 0
}

func (v Value) Int() int64 {
	return v.num
}

func (v Value) Float() float64 {
	if v.kind == KindInt {
		return float64(v.num)
	}
	return v.flt
}

func (v Value) Str() string {
	return v.str
}

func (v Value) IsSecret() bool {
	return v.secret
}

func (v Value) IsNumber() bool {
	return v.kind == KindInt || v.kind == KindFloat
}

// Map returns the dictionary of a map value, or nil.
func (v Value) Map() *Map {
	if v.kind != KindMap {
		return nil
	}
	return v.ref.(*Map)
}

// Items returns the elements of a list or tuple. Callers must not modify the slice.
func (v Value) Items() []Value {
	if v.kind != KindList && v.kind != KindTuple {
		return nil
	}
	return v.ref.(*List).items
}

func (v Value) Time() time.Time {
	if v.kind != KindDateTime {
		return time.Time{}
	}
	return v.ref.(time.Time)
}

func (v Value) list() *List {
	return v.ref.(*List)
}

// Get returns a map entry or null.
func (v Value) Get(key string) Value {
	if m := v.Map(); m != nil {
		val, _ := m.Get(key)
		return val
	}
	return Null()
}

func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

func (m *Map) Get(key string) (Value, bool) {
	if m == nil {
		return Null(), false
	}
	i, ok := m.index[key]
	if !ok {
		return Null(), false
	}
	return m.vals[i], true
}

func (m *Map) Has(key string) bool {
	_, ok := m.Get(key)
	return ok
}

// Set inserts or replaces key, keeping the original insertion position on replace.
func (m *Map) Set(key string, val Value) {
	if i, ok := m.index[key]; ok {
		m.vals[i] = val
		return
	}
	m.index[key] = len(m.keys)
	m.keys = append(m.keys, key)
	m.vals = append(m.vals, val)
}

func (m *Map) Delete(key string) {
	i, ok := m.index[key]
	if !ok {
		return
	}
	m.keys = append(m.keys[:i], m.keys[i+1:]...)
	m.vals = append(m.vals[:i], m.vals[i+1:]...)
	delete(m.index, key)
	for j := i; j < len(m.keys); j++ {
		m.index[m.keys[j]] = j
	}
}

// Keys returns the keys in insertion order.
func (m *Map) Keys() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Range calls fn for each entry in insertion order until fn returns false.
func (m *Map) Range(fn func(key string, val Value) bool) {
	if m == nil {
		return
	}
	for i, k := range m.keys {
		if !fn(k, m.vals[i]) {
			return
		}
	}
}

func (m *Map) clone() *Map {
	c := &Map{
		keys:  make([]string, len(m.keys)),
		index: make(map[string]int, len(m.keys)),
		vals:  make([]Value, len(m.vals)),
	}
	copy(c.keys, m.keys)
	copy(c.vals, m.vals)
	for k, i := range m.index {
		c.index[k] = i
	}
	return c
}

// Freeze marks v and everything reachable from it read-only. Values shared between
// concurrent executions must be frozen before they are shared.
func Freeze(v Value) Value {
	switch v.kind {
	case KindList, KindTuple:
		l := v.list()
		if l.frozen && v.kind == KindList {
			return v
		}
		l.frozen = true
		for _, it := range l.items {
			Freeze(it)
		}
	case KindMap:
		m := v.Map()
		if m.frozen {
			return v
		}
		m.frozen = true
		for _, it := range m.vals {
			Freeze(it)
		}
	}
	return v
}

// Taint marks every string reachable from v as secret. Containers are copied.
// Values nested deeper than MaxValueDepth taint to null.
func Taint(v Value) Value {
	out, err := detached().taint(v)
	if err != nil {
		return Null()
	}
	return out
}

// Truthy implements script truthiness: null, false, 0, "" and empty containers are false.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindNull:
		return false
	case KindBool:
		return v.Bool()
	case KindInt:
		return v.num != 0
	case KindFloat:
		return v.flt != 0
	case KindString:
		return v.str != ""
	case KindList, KindTuple:
		return len(v.Items()) > 0
	case KindMap:
		return v.Map().Len() > 0
	default:
		return true
	}
}

// Empty reports whether v is null, an empty string or an empty container.
func (v Value) Empty() bool {
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.str == ""
	case KindList, KindTuple:
		return len(v.Items()) == 0
	case KindMap:
		return v.Map().Len() == 0
	default:
		return false
	}
}

// Equal compares values structurally. Integers and floats compare numerically.
// Values that cannot be walked within MaxValueDepth are never equal.
func (v Value) Equal(o Value) bool {
	eq, err := detached().equal(v, o)
	return eq && err == nil
}

// String renders v the way print and toString do, without redaction.
func (v Value) String() string {
	s, _ := detached().format(v, true, nil)
	return s
}

const dateTimeLayout = "2006-01-02T15:04:05.000Z07:00"

func formatFloat(f float64) string {
	if math.IsInf(f, 1) {
		return "Infinity"
	}
	if math.IsInf(f, -1) {
		return "-Infinity"
	}
	if math.IsNaN(f) {
		return "NaN"
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

// FromGo converts decoded JSON or YAML data into a Value. Go maps have no order, so
// their keys are sorted; use ParseJSON to keep document order.
func FromGo(x interface{}) Value {
	switch t := x.(type) {
	case nil:
		return Null()
	case Value:
		return t
	case bool:
		return BoolValue(t)
	case int:
		return IntValue(int64(t))
	case int32:
		return IntValue(int64(t))
	case int64:
		return IntValue(t)
	case uint:
		return IntValue(int64(t))
	case uint64:
		return IntValue(int64(t))
	case float32:
		return numberFromFloat(float64(t))
	case float64:
		return numberFromFloat(t)
	case string:
		return StringValue(t)
	case []byte:
		return StringValue(string(t))
	case time.Time:
		return DateTimeValue(t)
	case []interface{}:
		items := make([]Value, len(t))
		for i, it := range t {
			items[i] = FromGo(it)
		}
		return ListValue(items...)
	case []string:
		items := make([]Value, len(t))
		for i, it := range t {
			items[i] = StringValue(it)
		}
		return ListValue(items...)
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		m := NewMap()
		for _, k := range keys {
			m.Set(k, FromGo(t[k]))
		}
		return MapValue(m)
	case map[string]string:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		m := NewMap()
		for _, k := range keys {
			m.Set(k, StringValue(t[k]))
		}
		return MapValue(m)
	case map[interface{}]interface{}:
		conv := make(map[string]interface{}, len(t))
		for k, val := range t {
			conv[fmt.Sprint(k)] = val
		}
		return FromGo(conv)
	default:
		return StringValue(fmt.Sprint(t))
	}
}

// JSON numbers decoded as float64 become integers when they have no fraction.
func numberFromFloat(f float64) Value {
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return IntValue(int64(f))
	}
	return FloatValue(f)
}

// floatToInt truncates f toward zero. It fails for NaN and values outside the int64 range.
func floatToInt(f float64) (int64, bool) {
	if math.IsNaN(f) || f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}
	return int64(f), true
}

// Interface converts v into plain Go data. Maps lose their order.
func (v Value) Interface() interface{} {
	out, _ := detached().toInterface(v)
	return out
}
