package message

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/sanspareilsmyn/timelens/internal/window"
)

// DynamicMessage is one row with arbitrary fields, typically parsed from JSON.
type DynamicMessage map[string]interface{}

var timeFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
}

// GetFloat64 returns the numeric value stored under key. Missing keys, nulls
// and non-numeric values report false.
func (dm DynamicMessage) GetFloat64(key string) (float64, bool) {
	val, exists := dm[key]
	if !exists || val == nil {
		return math.NaN(), false
	}

	switch v := val.(type) {
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	}
	return math.NaN(), false
}

// GetTimestamp reads key as seconds. Numbers are taken as-is; strings are
// parsed as RFC 3339 or "2006-01-02 15:04:05" and converted to Unix seconds.
func (dm DynamicMessage) GetTimestamp(key string) (float64, bool) {
	if f, ok := dm.GetFloat64(key); ok {
		return f, !math.IsNaN(f) && !math.IsInf(f, 0)
	}
	s, ok := dm[key].(string)
	if !ok {
		return math.NaN(), false
	}
	for _, format := range timeFormats {
		if t, err := time.Parse(format, s); err == nil {
			return float64(t.UnixNano()) / 1e9, true
		}
	}
	return math.NaN(), false
}

// ToSample projects the row onto columns. Absent, null or non-numeric column
// values become NaN.
func (dm DynamicMessage) ToSample(timestampField string, columns []string) (window.Sample, error) {
	ts, ok := dm.GetTimestamp(timestampField)
	if !ok {
		return window.Sample{}, fmt.Errorf("%w: field %q = %s", ErrMissingTimestamp, timestampField, dm.GetFieldSnippet(timestampField, 32))
	}
	values := make([]float64, len(columns))
	for i, col := range columns {
		if v, ok := dm.GetFloat64(col); ok {
			values[i] = v
		} else {
			values[i] = math.NaN()
		}
	}
	return window.Sample{Timestamp: ts, Values: values}, nil
}

// GetFieldSnippet returns a string snippet of a field's value for logging.
func (dm DynamicMessage) GetFieldSnippet(fieldName string, maxLength int) string {
	value, exists := dm[fieldName]
	if !exists {
		return "<missing>"
	}

	strValue := fmt.Sprintf("%v", value)
	if maxLength <= 0 {
		return "..."
	}
	if len(strValue) > maxLength {
		return strValue[:maxLength] + "..."
	}
	return strValue
}
