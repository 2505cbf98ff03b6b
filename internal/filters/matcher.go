package filters

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"hogflow/internal/logger"
	"hogflow/pkg/cel"
	"hogflow/pkg/hog"
	"hogflow/pkg/metrics"
)

const (
	ReasonNoFilters   = "no_filters"
	ReasonEvent       = "event"
	ReasonAction      = "action"
	ReasonTestAccount = "test_account"
	ReasonProperties  = "properties"
	ReasonNoMatch     = "no_match"
)

// Action is a named CEL predicate over the event and person.
type Action struct {
	ID         string
	Name       string
	Expression string
}

// Input is what a filter sees: the event and person globals of one invocation.
type Input struct {
	Event  hog.Value
	Person hog.Value
}

func (in Input) eventName() string {
	return in.Event.Get("name").Str()
}

type Result struct {
	Matched bool
	Entry   *Entry
	Reason  string
}

// Matcher evaluates Filters against events. It is safe for concurrent use; the
// action set can be replaced while matching is in progress.
type Matcher struct {
	evaluator    *cel.Evaluator
	testAccounts []*cel.Predicate

	mu      sync.RWMutex
	actions map[string]*cel.Predicate

	regexMu sync.RWMutex
	regexps map[string]*regexp.Regexp

	logger logger.Logger
}

// NewMatcher compiles the test account expressions; an event matching any of them
// is excluded from functions with filter_test_accounts set.
func NewMatcher(evaluator *cel.Evaluator, testAccountFilters []string, log logger.Logger) (*Matcher, error) {
	m := &Matcher{
		evaluator: evaluator,
		actions:   map[string]*cel.Predicate{},
		regexps:   map[string]*regexp.Regexp{},
		logger:    log,
	}
	for _, expr := range testAccountFilters {
		p, err := evaluator.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("invalid test account filter %q: %w", expr, err)
		}
		m.testAccounts = append(m.testAccounts, p)
	}
	return m, nil
}

// SetActions replaces the known actions. Actions that fail to compile are skipped
// and reported in the returned error; the others are installed.
func (m *Matcher) SetActions(actions []Action) error {
	compiled := make(map[string]*cel.Predicate, len(actions))
	var problems []string
	for _, a := range actions {
		p, err := m.evaluator.Compile(a.Expression)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", a.ID, err))
			continue
		}
		compiled[a.ID] = p
	}

	m.mu.Lock()
	m.actions = compiled
	m.mu.Unlock()

	if len(problems) > 0 {
		return fmt.Errorf("invalid actions: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (m *Matcher) action(id string) (*cel.Predicate, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.actions[id]
	return p, ok
}

// Match applies f to in. Entries are tried in ascending order, ties kept in
// declaration order with events before actions; the first match wins.
func (m *Matcher) Match(ctx context.Context, f Filters, in Input) Result {
	res := m.match(ctx, f, in)
	metrics.FilterEvaluationsTotal.WithLabelValues(res.Reason).Inc()
	return res
}

func (m *Matcher) match(ctx context.Context, f Filters, in Input) Result {
	var act *cel.Activation
	activation := func() cel.Activation {
		if act == nil {
			act = &cel.Activation{Event: toMap(in.Event), Person: toMap(in.Person)}
		}
		return *act
	}

	if f.FilterTestAccounts && m.isTestAccount(ctx, activation()) {
		return Result{Reason: ReasonTestAccount}
	}
	if !m.propertiesMatch(f.Properties, in) {
		return Result{Reason: ReasonProperties}
	}

	entries := sortedEntries(f)
	if len(entries) == 0 {
		return Result{Matched: true, Reason: ReasonNoFilters}
	}

	name := in.eventName()
	for i := range entries {
		e := entries[i]
		switch e.Type {
		case EntryTypeActions:
			p, ok := m.action(e.ID)
			if !ok {
				m.logger.DebugwCtx(ctx, "Filter references unknown action", "action_id", e.ID)
				continue
			}
			matched, err := p.Eval(ctx, activation())
			if err != nil {
				m.logger.DebugwCtx(ctx, "Action predicate failed", "action_id", e.ID, "error", err)
				continue
			}
			if matched && m.propertiesMatch(e.Properties, in) {
				return Result{Matched: true, Entry: &e, Reason: ReasonAction}
			}
		default:
			want := e.eventName()
			if (want == "" || want == name) && m.propertiesMatch(e.Properties, in) {
				return Result{Matched: true, Entry: &e, Reason: ReasonEvent}
			}
		}
	}
	return Result{Reason: ReasonNoMatch}
}

func sortedEntries(f Filters) []Entry {
	entries := make([]Entry, 0, len(f.Events)+len(f.Actions))
	for _, e := range f.Events {
		e.Type = EntryTypeEvents
		entries = append(entries, e)
	}
	for _, e := range f.Actions {
		e.Type = EntryTypeActions
		entries = append(entries, e)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Order < entries[j].Order
	})
	return entries
}

func (m *Matcher) isTestAccount(ctx context.Context, act cel.Activation) bool {
	for _, p := range m.testAccounts {
		ok, err := p.Eval(ctx, act)
		if err == nil && ok {
			return true
		}
	}
	return false
}

func (m *Matcher) propertiesMatch(props []PropertyFilter, in Input) bool {
	for _, p := range props {
		source := in.Event
		if p.Type == PropertyTypePerson {
			source = in.Person
		}
		value, present := lookup(source.Get("properties"), p.Key)
		if !m.evaluate(p, value, present) {
			return false
		}
	}
	return true
}

func lookup(props hog.Value, key string) (hog.Value, bool) {
	mp := props.Map()
	if mp == nil {
		return hog.Null(), false
	}
	v, ok := mp.Get(key)
	return v, ok && !v.IsNull()
}

func (m *Matcher) evaluate(p PropertyFilter, value hog.Value, present bool) bool {
	switch p.operator() {
	case OpIsSet:
		return present
	case OpIsNotSet:
		return !present
	case OpIsNot:
		return !present || !equalsAny(value, p.Value)
	case OpNotIContains:
		return !present || !strings.Contains(strings.ToLower(value.String()), strings.ToLower(fmt.Sprint(p.Value)))
	case OpNotRegex:
		return !present || !m.regexMatch(fmt.Sprint(p.Value), value.String())
	}

	if !present {
		return false
	}
	switch p.operator() {
	case OpExact:
		return equalsAny(value, p.Value)
	case OpIContains:
		return strings.Contains(strings.ToLower(value.String()), strings.ToLower(fmt.Sprint(p.Value)))
	case OpRegex:
		return m.regexMatch(fmt.Sprint(p.Value), value.String())
	case OpGT, OpLT:
		a, okA := number(value.String())
		b, okB := number(fmt.Sprint(p.Value))
		if !okA || !okB {
			return false
		}
		if p.operator() == OpGT {
			return a > b
		}
		return a < b
	}
	return false
}

// equalsAny compares the textual form of value with want, or with any element of
// want when it is a list.
func equalsAny(value hog.Value, want interface{}) bool {
	got := value.String()
	if list, ok := want.([]interface{}); ok {
		for _, w := range list {
			if got == scalarString(w) {
				return true
			}
		}
		return false
	}
	return got == scalarString(want)
}

func scalarString(v interface{}) string {
	if v == nil {
		return "null"
	}
	return hog.FromGo(v).String()
}

func number(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f, err == nil
}

func (m *Matcher) regexMatch(pattern, s string) bool {
	m.regexMu.RLock()
	re, ok := m.regexps[pattern]
	m.regexMu.RUnlock()
	if !ok {
		var err error
		if re, err = regexp.Compile(pattern); err != nil {
			return false
		}
		m.regexMu.Lock()
		m.regexps[pattern] = re
		m.regexMu.Unlock()
	}
	return re.MatchString(s)
}

func toMap(v hog.Value) map[string]interface{} {
	if m, ok := v.Interface().(map[string]interface{}); ok {
		return m
	}
	return map[string]interface{}{}
}
