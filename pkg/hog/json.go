package hog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ParseJSON decodes a JSON document keeping object key order.
func ParseJSON(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decodeJSONValue(dec)
	if err != nil {
		return Null(), err
	}
	if _, err := dec.Token(); err != io.EOF {
		return Null(), fmt.Errorf("unexpected data after JSON value")
	}
	return v, nil
}

func decodeJSONValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Null(), err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			m := NewMap()
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return Null(), err
				}
				key, ok := kt.(string)
				if !ok {
					return Null(), fmt.Errorf("invalid object key")
				}
				val, err := decodeJSONValue(dec)
				if err != nil {
					return Null(), err
				}
				m.Set(key, val)
			}
			if _, err := dec.Token(); err != nil {
				return Null(), err
			}
			return MapValue(m), nil
		case '[':
			var items []Value
			for dec.More() {
				val, err := decodeJSONValue(dec)
				if err != nil {
					return Null(), err
				}
				items = append(items, val)
			}
			if _, err := dec.Token(); err != nil {
				return Null(), err
			}
			if items == nil {
				items = []Value{}
			}
			return ListValue(items...), nil
		}
		return Null(), fmt.Errorf("unexpected delimiter %v", t)
	case json.Number:
		s := t.String()
		if !strings.ContainsAny(s, ".eE") {
			if i, err := strconv.ParseInt(s, 10, 64); err == nil {
				return IntValue(i), nil
			}
		}
		f, err := t.Float64()
		if err != nil {
			return Null(), err
		}
		return FloatValue(f), nil
	case string:
		return StringValue(t), nil
	case bool:
		return BoolValue(t), nil
	case nil:
		return Null(), nil
	}
	return Null(), fmt.Errorf("unexpected JSON token %v", tok)
}

// MarshalJSON writes maps in insertion order. Secret strings are written in clear;
// this is the encoding used for request bodies.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := detached().writeJSON(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := ParseJSON(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func writeJSONString(buf *bytes.Buffer, s string) {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	// Encode appends a newline.
	buf.Truncate(buf.Len() - 1)
}
