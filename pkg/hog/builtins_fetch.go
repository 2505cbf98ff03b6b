package hog

import (
	"bytes"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"
)

// builtinFetch is the only way a script reaches the network:
//
//	fetch(url, {'method': 'POST', 'headers': {...}, 'body': {...}})
//
// Transport failures come back as responses; only policy denial and
// cancellation abort the execution.
func builtinFetch(in *interpreter, args []Value, pos Pos) (Value, error) {
	if err := in.checkContext(pos); err != nil {
		return Null(), err
	}
	target := args[0]
	if target.kind != KindString {
		return Null(), typeErrorf(pos, "fetch expects a URL string, got %s", target.kind)
	}

	req := FetchRequest{URL: target.str, Method: "GET", Headers: map[string]string{}}
	if len(args) > 1 && !args[1].IsNull() {
		if err := in.applyFetchOptions(&req, args[1], pos); err != nil {
			return Null(), err
		}
	}

	if in.fetches >= in.opts.MaxFetches {
		return Null(), newError(ExecutionLimitExceeded, pos, "fetch limit of %d reached", in.opts.MaxFetches)
	}
	in.fetches++

	record := FetchRecord{Method: req.Method, URL: in.redactValue(target)}
	if in.opts.Fetcher == nil {
		record.Error = "no fetch bridge configured"
		in.res.Fetches = append(in.res.Fetches, record)
		return Null(), &Error{Kind: FetchDenied, Message: record.Error, Pos: pos}
	}

	started := time.Now()
	resp, err := in.opts.Fetcher.Fetch(in.ctx, req)
	record.Duration = time.Since(started)
	if err != nil {
		record.Error = in.redactor.Redact(err.Error())
		in.res.Fetches = append(in.res.Fetches, record)
		var denied *Error
		if errors.As(err, &denied) && denied.Kind == FetchDenied {
			he := *denied
			if !he.Pos.IsValid() {
				he.Pos = pos
			}
			return Null(), &he
		}
		if ctxErr := in.ctx.Err(); ctxErr != nil {
			return Null(), contextError(ctxErr, pos)
		}
		record.Status = StatusFetchError
		resp = FetchResponse{Status: StatusFetchError, Body: err.Error()}
	} else {
		record.Status = resp.Status
		if resp.Status == StatusFetchTimeout || resp.Status == StatusFetchError {
			record.Error = in.redactor.Redact(resp.Body)
		}
		in.res.Fetches = append(in.res.Fetches, record)
	}

	if err := in.checkContext(pos); err != nil {
		return Null(), err
	}
	return responseValue(resp), nil
}

func (in *interpreter) applyFetchOptions(req *FetchRequest, opts Value, pos Pos) error {
	m := opts.Map()
	if m == nil {
		return typeErrorf(pos, "fetch options must be a dictionary, got %s", opts.kind)
	}
	if method, ok := m.Get("method"); ok && !method.IsNull() {
		if method.kind != KindString {
			return typeErrorf(pos, "fetch method must be a string")
		}
		req.Method = strings.ToUpper(method.str)
	}
	if headers, ok := m.Get("headers"); ok && !headers.IsNull() {
		hm := headers.Map()
		if hm == nil {
			return typeErrorf(pos, "fetch headers must be a dictionary")
		}
		w := in.walker(pos)
		err := w.rangeMap(hm, func(k string, v Value) error {
			if v.IsNull() {
				return nil
			}
			s, err := w.format(v, true, nil)
			req.Headers[k] = s
			return err
		})
		if err != nil {
			return err
		}
	}
	if body, ok := m.Get("body"); ok && !body.IsNull() {
		if body.kind == KindString {
			req.Body = body.str
		} else {
			b, err := in.encodeJSON(body, pos)
			if err != nil {
				return err
			}
			req.Body = string(b)
			if !hasHeader(req.Headers, "Content-Type") {
				req.Headers["Content-Type"] = "application/json"
			}
		}
	}
	return nil
}

func hasHeader(headers map[string]string, name string) bool {
	for k := range headers {
		if strings.EqualFold(k, name) {
			return true
		}
	}
	return false
}

// responseValue exposes status, body (parsed as JSON when possible) and headers.
func responseValue(resp FetchResponse) Value {
	m := NewMap()
	m.Set("status", IntValue(int64(resp.Status)))
	body := StringValue(resp.Body)
	if trimmed := strings.TrimSpace(resp.Body); trimmed != "" {
		if parsed, err := ParseJSON([]byte(trimmed)); err == nil {
			body = parsed
		}
	}
	m.Set("body", body)
	headers := NewMap()
	for _, k := range sortedKeys(resp.Headers) {
		headers.Set(strings.ToLower(k), StringValue(resp.Headers[k]))
	}
	m.Set("headers", MapValue(headers))
	return MapValue(m)
}

func (in *interpreter) redactValue(v Value) string {
	if v.secret {
		return in.redactor.mask(v.str)
	}
	return in.redactor.Redact(v.str)
}

func indentJSON(b []byte, width int) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, b, "", strings.Repeat(" ", width)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
