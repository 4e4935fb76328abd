package probe

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ServerTimingTag is the metric name the edge uses for its L4 timing entry.
const ServerTimingTag = "cfL4"

// ErrMalformedTiming is wrapped by every server timing parse failure.
var ErrMalformedTiming = errors.New("malformed server timing")

// TimingStatus distinguishes the three outcomes of reading server timing.
type TimingStatus int

const (
	// TimingAbsent means the header is missing or does not carry the edge tag.
	TimingAbsent TimingStatus = iota
	// TimingPresent means the header was parsed.
	TimingPresent
	// TimingMalformed means the tag matched but the payload could not be parsed.
	TimingMalformed
)

func (s TimingStatus) String() string {
	switch s {
	case TimingAbsent:
		return "absent"
	case TimingPresent:
		return "present"
	case TimingMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// TimingValue is a single key=value sub-field. Values made only of digits
// are integers; anything else is kept verbatim.
type TimingValue struct {
	Int   int64
	Str   string
	IsInt bool
}

func (v TimingValue) String() string {
	if v.IsInt {
		return strconv.FormatInt(v.Int, 10)
	}
	return v.Str
}

// TimingField is one parsed key=value pair, in header order.
type TimingField struct {
	Key   string
	Value TimingValue
}

// ServerTiming is the parsed edge timing entry.
type ServerTiming struct {
	Fields []TimingField
}

// Get returns the value for key.
func (t ServerTiming) Get(key string) (TimingValue, bool) {
	for _, f := range t.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return TimingValue{}, false
}

// RTTMicros returns the edge-measured round trip in microseconds.
func (t ServerTiming) RTTMicros() (int64, bool) {
	v, ok := t.Get("rtt")
	if !ok || !v.IsInt {
		return 0, false
	}
	return v.Int, true
}

// String renders the entry in header form. Parsing the output yields the
// same fields.
func (t ServerTiming) String() string {
	parts := make([]string, 0, len(t.Fields))
	for _, f := range t.Fields {
		parts = append(parts, f.Key+"="+f.Value.String())
	}
	return ServerTimingTag + `;desc="?` + strings.Join(parts, "&") + `"`
}

// TimingResult is the outcome of inspecting a response's Server-Timing header.
type TimingResult struct {
	Status TimingStatus
	Timing ServerTiming
	Err    error
}

// ComputeMicros returns the server compute time, or 0 when unavailable.
func (r TimingResult) ComputeMicros() int64 {
	if r.Status != TimingPresent {
		return 0
	}
	rtt, _ := r.Timing.RTTMicros()
	return rtt
}

// ParseServerTiming inspects a raw Server-Timing header value.
//
// Intermediaries sometimes prepend their own copy of the header, so only
// the last whitespace-delimited token is considered.
func ParseServerTiming(header string) TimingResult {
	tokens := strings.Fields(header)
	if len(tokens) == 0 {
		return TimingResult{Status: TimingAbsent}
	}
	token := tokens[len(tokens)-1]
	if !strings.HasPrefix(token, ServerTimingTag) {
		return TimingResult{Status: TimingAbsent}
	}

	timing, err := parseTimingDesc(strings.TrimPrefix(token, ServerTimingTag))
	if err != nil {
		return TimingResult{Status: TimingMalformed, Err: err}
	}
	if _, ok := timing.RTTMicros(); !ok {
		return TimingResult{Status: TimingMalformed, Err: fmt.Errorf("%w: rtt missing or not numeric", ErrMalformedTiming)}
	}
	return TimingResult{Status: TimingPresent, Timing: timing}
}

func parseTimingDesc(rest string) (ServerTiming, error) {
	const prefix = `;desc="`
	if !strings.HasPrefix(rest, prefix) || !strings.HasSuffix(rest, `"`) || len(rest) < len(prefix)+1 {
		return ServerTiming{}, fmt.Errorf("%w: expected %s;desc=\"...\"", ErrMalformedTiming, ServerTimingTag)
	}
	body := rest[len(prefix) : len(rest)-1]
	body = strings.TrimPrefix(body, "?")
	if body == "" {
		return ServerTiming{}, fmt.Errorf("%w: empty description", ErrMalformedTiming)
	}

	items := strings.Split(body, "&")
	fields := make([]TimingField, 0, len(items))
	for _, item := range items {
		key, value, ok := strings.Cut(item, "=")
		if !ok || key == "" || strings.Contains(value, "=") {
			return ServerTiming{}, fmt.Errorf("%w: bad pair %q", ErrMalformedTiming, item)
		}
		fields = append(fields, TimingField{Key: key, Value: parseTimingValue(value)})
	}
	return ServerTiming{Fields: fields}, nil
}

func parseTimingValue(s string) TimingValue {
	if s == "" || strings.TrimLeft(s, "0123456789") != "" {
		return TimingValue{Str: s}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return TimingValue{Str: s}
	}
	return TimingValue{Int: n, IsInt: true}
}
