package aggregator

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// fallbackRecencyField is consulted when a document lacks its source's
// configured recency field.
const fallbackRecencyField = "timestamp"

// Dater is implemented by platform timestamp objects that can convert
// themselves to a time.
type Dater interface {
	ToDate() time.Time
}

type normalizer func(v any) (time.Time, bool)

// normalizers are tried in order; the first that accepts the value wins.
var normalizers = []normalizer{
	normalizePrimitive,
	normalizeTimestampObject,
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// NormalizeTimestamp converts a feed's native recency marker into UTC time.
// It reports false for anything it does not recognise.
func NormalizeTimestamp(v any) (time.Time, bool) {
	if v == nil {
		return time.Time{}, false
	}
	for _, n := range normalizers {
		if t, ok := n(v); ok {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// normalizePrimitive accepts values that already are timestamps: time.Time,
// date strings and epoch milliseconds.
func normalizePrimitive(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, !x.IsZero()
	case *time.Time:
		if x == nil {
			return time.Time{}, false
		}
		return *x, !x.IsZero()
	case string:
		return parseTimeString(x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return time.Time{}, false
		}
		return fromEpochMillis(f)
	case float64:
		return fromEpochMillis(x)
	case float32:
		return fromEpochMillis(float64(x))
	case int:
		return fromEpochMillis(float64(x))
	case int32:
		return fromEpochMillis(float64(x))
	case int64:
		return fromEpochMillis(float64(x))
	}
	return time.Time{}, false
}

// normalizeTimestampObject accepts platform timestamp objects: values with a
// ToDate conversion, pgx timestamp types and serialized {seconds, nanoseconds}
// objects.
func normalizeTimestampObject(v any) (time.Time, bool) {
	switch x := v.(type) {
	case Dater:
		t := x.ToDate()
		return t, !t.IsZero()
	case pgtype.Timestamptz:
		return x.Time, x.Valid && x.InfinityModifier == pgtype.Finite
	case *pgtype.Timestamptz:
		if x == nil {
			return time.Time{}, false
		}
		return x.Time, x.Valid && x.InfinityModifier == pgtype.Finite
	case pgtype.Timestamp:
		return x.Time, x.Valid && x.InfinityModifier == pgtype.Finite
	case pgtype.Date:
		return x.Time, x.Valid && x.InfinityModifier == pgtype.Finite
	case map[string]any:
		return fromSecondsObject(x)
	}
	return time.Time{}, false
}

func parseTimeString(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func fromEpochMillis(ms float64) (time.Time, bool) {
	if ms <= 0 || math.IsNaN(ms) || math.IsInf(ms, 0) {
		return time.Time{}, false
	}
	return time.UnixMilli(int64(ms)), true
}

func fromSecondsObject(m map[string]any) (time.Time, bool) {
	secs, ok := numberField(m, "seconds", "_seconds")
	if !ok {
		return time.Time{}, false
	}
	nanos, _ := numberField(m, "nanoseconds", "_nanoseconds")
	return time.Unix(int64(secs), int64(nanos)), true
}

func numberField(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		switch n := m[k].(type) {
		case float64:
			return n, true
		case int64:
			return float64(n), true
		case int:
			return float64(n), true
		case json.Number:
			if f, err := n.Float64(); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

// recencyMarker finds the raw recency value for a document.
func recencyMarker(fields map[string]any, field string) any {
	if v, ok := fields[field]; ok && v != nil {
		return v
	}
	return fields[fallbackRecencyField]
}
