package hog

import (
	"context"
	"time"
)

const (
	DefaultMaxSteps        = 1_000_000
	DefaultMaxCallDepth    = 64
	DefaultTimeout         = 30 * time.Second
	DefaultMaxStringLength = 1 << 20
	DefaultMaxLogEntries   = 100
	DefaultMaxFetches      = 5
)

// Sentinel statuses for fetch calls that never produced an HTTP response.
const (
	StatusFetchTimeout = 598
	StatusFetchError   = 599
)

// Globals are the read-only bindings of one execution.
type Globals struct {
	Event  Value
	Person Value
	Inputs Value
	// Extra holds additional top-level bindings.
	Extra map[string]Value
}

// strictGlobals fail with UndefinedVariable when a missing top-level key is read.
var strictGlobals = map[string]bool{"event": true, "person": true, "inputs": true}

type LogEntry struct {
	Level     string    `json:"level" bson:"level"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
	Message   string    `json:"message" bson:"message"`
}

// FetchRecord describes one fetch call. URL and Error are redacted.
type FetchRecord struct {
	Method   string        `json:"method" bson:"method"`
	URL      string        `json:"url" bson:"url"`
	Status   int           `json:"status" bson:"status"`
	Duration time.Duration `json:"duration" bson:"duration"`
	Error    string        `json:"error,omitempty" bson:"error,omitempty"`
}

type FetchRequest struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    string
}

type FetchResponse struct {
	Status  int
	Body    string
	Headers map[string]string
}

// Fetcher performs outbound calls for scripts. It returns an error only when the
// request is refused (a FetchDenied *Error) or the context ends; transport failures
// are reported as responses with StatusFetchTimeout or StatusFetchError.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (FetchResponse, error)
}

type FetcherFunc func(ctx context.Context, req FetchRequest) (FetchResponse, error)

func (f FetcherFunc) Fetch(ctx context.Context, req FetchRequest) (FetchResponse, error) {
	return f(ctx, req)
}

type Options struct {
	MaxSteps        int
	MaxCallDepth    int
	Timeout         time.Duration
	MaxStringLength int
	MaxLogEntries   int
	MaxFetches      int
	// Now is the clock seen by now(). Defaults to time.Now.
	Now     func() time.Time
	Fetcher Fetcher
	// Redactor masks extra literal secrets; secrets found in Globals are added automatically.
	Redactor *Redactor
	// Log receives every print entry as it is produced.
	Log func(LogEntry)
}

func (o Options) withDefaults() Options {
	if o.MaxSteps <= 0 {
		o.MaxSteps = DefaultMaxSteps
	}
	if o.MaxCallDepth <= 0 {
		o.MaxCallDepth = DefaultMaxCallDepth
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxStringLength <= 0 {
		o.MaxStringLength = DefaultMaxStringLength
	}
	if o.MaxLogEntries <= 0 {
		o.MaxLogEntries = DefaultMaxLogEntries
	}
	if o.MaxFetches <= 0 {
		o.MaxFetches = DefaultMaxFetches
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

type Result struct {
	// Value is the operand of a top-level return, or null.
	Value       Value
	Logs        []LogEntry
	DroppedLogs int
	Fetches     []FetchRecord
	Steps       int
	Duration    time.Duration
}

// Execute runs prog against globals. The returned Result is non-nil even when
// execution fails, so logs written before the failure are kept.
//
// Globals are frozen and never modified. Values shared between concurrent
// executions must already be frozen (see Freeze).
func Execute(ctx context.Context, prog *Program, globals Globals, opts Options) (*Result, error) {
	opts = opts.withDefaults()
	res := &Result{}
	started := time.Now()

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	in := newInterpreter(ctx, opts, res)
	root, err := in.bindGlobals(globals)
	if err != nil {
		res.Duration = time.Since(started)
		return res, in.scrub(err)
	}

	val, err := in.run(prog.body, root)
	res.Value = val
	res.Steps = in.steps
	res.Duration = time.Since(started)
	if err != nil {
		return res, in.scrub(err)
	}
	return res, nil
}
