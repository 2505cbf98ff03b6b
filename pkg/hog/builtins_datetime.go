package hog

import (
	"math"
	"strconv"
	"strings"
	"time"
)

var dateTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

func registerDateTimeBuiltins() {
	register("now", 0, 0, func(in *interpreter, _ []Value, _ Pos) (Value, error) {
		return DateTimeValue(in.opts.Now()), nil
	})
	register("toDateTime", 1, 1, builtinToDateTime)
	register("toUnixTimestamp", 1, 1, builtinToUnixTimestamp)
	register("formatDateTime", 2, 2, builtinFormatDateTime)
}

// ParseDateTime accepts RFC 3339 and the common SQL-style layouts; naive times are UTC.
func ParseDateTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func fromUnixSeconds(f float64, pos Pos) (Value, error) {
	sec, frac := math.Modf(f)
	s, ok := floatToInt(sec)
	if !ok {
		return Null(), runtimeErrorf(pos, "toDateTime: timestamp out of range")
	}
	return DateTimeValue(time.Unix(s, int64(frac*float64(time.Second)))), nil
}

func builtinToDateTime(_ *interpreter, args []Value, pos Pos) (Value, error) {
	a := args[0]
	switch a.kind {
	case KindNull:
		return Null(), nil
	case KindDateTime:
		return a, nil
	case KindInt, KindFloat:
		return fromUnixSeconds(a.Float(), pos)
	case KindString:
		if t, ok := ParseDateTime(a.str); ok {
			return DateTimeValue(t), nil
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(a.str), 64); err == nil {
			return fromUnixSeconds(f, pos)
		}
		return Null(), runtimeErrorf(pos, "toDateTime: cannot parse date")
	}
	return Null(), typeErrorf(pos, "toDateTime expects a string or number, got %s", a.kind)
}

// toUnixTimestamp returns seconds since the epoch as a float.
func builtinToUnixTimestamp(in *interpreter, args []Value, pos Pos) (Value, error) {
	a := args[0]
	switch a.kind {
	case KindNull:
		return Null(), nil
	case KindInt, KindFloat:
		return FloatValue(a.Float()), nil
	}
	dt, err := builtinToDateTime(in, args, pos)
	if err != nil {
		return Null(), err
	}
	return FloatValue(unixSeconds(dt.Time())), nil
}

// formatDateTime supports the MySQL style specifiers %Y %m %d %H %i %S %f %j %y %Z and %%.
func builtinFormatDateTime(in *interpreter, args []Value, pos Pos) (Value, error) {
	dt, err := builtinToDateTime(in, args[:1], pos)
	if err != nil {
		return Null(), err
	}
	if dt.IsNull() {
		return Null(), nil
	}
	if args[1].kind != KindString {
		return Null(), typeErrorf(pos, "formatDateTime expects a string format")
	}
	t := dt.Time()
	var sb strings.Builder
	format := []rune(args[1].str)
	for i := 0; i < len(format); i++ {
		if format[i] != '%' || i == len(format)-1 {
			sb.WriteRune(format[i])
			continue
		}
		i++
		switch format[i] {
		case 'Y':
			sb.WriteString(t.Format("2006"))
		case 'y':
			sb.WriteString(t.Format("06"))
		case 'm':
			sb.WriteString(t.Format("01"))
		case 'd':
			sb.WriteString(t.Format("02"))
		case 'H':
			sb.WriteString(t.Format("15"))
		case 'i':
			sb.WriteString(t.Format("04"))
		case 'S':
			sb.WriteString(t.Format("05"))
		case 'f':
			sb.WriteString(t.Format(".000000")[1:])
		case 'j':
			sb.WriteString(t.Format("002"))
		case 'Z':
			sb.WriteString(t.Format("Z07:00"))
		case '%':
			sb.WriteRune('%')
		default:
			sb.WriteRune('%')
			sb.WriteRune(format[i])
		}
	}
	return StringValue(sb.String()), nil
}
