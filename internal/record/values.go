package record

import (
	"encoding/json"
	"math"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// asMap принимает map из кода на Go, encoding/json и драйвера mongo.
func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Document:
		return m, true
	case primitive.M:
		return m, true
	case primitive.D:
		out := make(map[string]any, len(m))
		for _, e := range m {
			out[e.Key] = e.Value
		}
		return out, true
	}
	return nil, false
}

func asSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case primitive.A:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i, x := range s {
			out[i] = x
		}
		return out, true
	case []map[string]any:
		out := make([]any, len(s))
		for i, x := range s {
			out[i] = x
		}
		return out, true
	case []Document:
		out := make([]any, len(s))
		for i, x := range s {
			out[i] = x
		}
		return out, true
	}
	return nil, false
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// asID читает id пользователя или документа. В старых записях id пользователей числа.
func asID(v any) (string, bool) {
	if s, ok := v.(string); ok {
		return s, s != ""
	}
	if n, ok := asInt64(v); ok {
		return strconv.FormatInt(n, 10), true
	}
	return "", false
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float32:
		return wholeFloat(float64(n))
	case float64:
		return wholeFloat(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		if f, err := n.Float64(); err == nil {
			return wholeFloat(f)
		}
	}
	return 0, false
}

func wholeFloat(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) ||
		f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	if i, ok := asInt64(v); ok {
		return float64(i), true
	}
	return 0, false
}

func asBool(v any) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

// decodeTimestamp читает родной time.Time, иначе старый вид {_seconds, _nanoseconds}.
func decodeTimestamp(v any) (time.Time, error) {
	if t, ok := nativeTimestamp(v); ok {
		return t.UTC(), nil
	}
	m, ok := asMap(v)
	if !ok {
		return time.Time{}, malformed(FieldTimestamp, "unsupported value %T", v)
	}
	sec, ok := asInt64(m[fieldSeconds])
	if !ok {
		return time.Time{}, malformed(FieldTimestamp, "legacy map without integer %s", fieldSeconds)
	}
	nsec, ok := asInt64(m[fieldNanoseconds])
	if !ok {
		return time.Time{}, malformed(FieldTimestamp, "legacy map without integer %s", fieldNanoseconds)
	}
	if nsec < 0 || nsec >= int64(time.Second) {
		return time.Time{}, malformed(FieldTimestamp, "%s out of range: %d", fieldNanoseconds, nsec)
	}
	return time.Unix(sec, nsec).UTC(), nil
}

func nativeTimestamp(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t != nil {
			return *t, true
		}
	case primitive.DateTime:
		return t.Time(), true
	case primitive.Timestamp:
		return time.Unix(int64(t.T), 0), true
	}
	return time.Time{}, false
}

// EncodeLegacyTimestamp записывает t в виде {_seconds, _nanoseconds} для хранилищ на JSON.
func EncodeLegacyTimestamp(t time.Time) Document {
	return Document{
		fieldSeconds:     t.Unix(),
		fieldNanoseconds: int64(t.Nanosecond()),
	}
}

// WithLegacyTimestamps возвращает глубокую копию doc, где каждый time.Time заменён
// на map старого вида, чтобы документ пережил JSON.
func WithLegacyTimestamps(doc Document) Document {
	out, _ := legacyValue(doc).(Document)
	return out
}

func legacyValue(v any) any {
	if t, ok := nativeTimestamp(v); ok {
		return EncodeLegacyTimestamp(t)
	}
	if m, ok := asMap(v); ok {
		out := make(Document, len(m))
		for k, x := range m {
			out[k] = legacyValue(x)
		}
		return out
	}
	if s, ok := asSlice(v); ok {
		out := make([]any, len(s))
		for i, x := range s {
			out[i] = legacyValue(x)
		}
		return out
	}
	return v
}
