package entity

import (
	"encoding/json"
	"strconv"
)

// Snapshot is a copy of the request data the workflow is deciding on
type Snapshot map[string]interface{}

// Clone returns a shallow copy so callers cannot mutate stored snapshots
func (s Snapshot) Clone() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// String retrieves a string value
func (s Snapshot) String(key string) string {
	if v, ok := s[key].(string); ok {
		return v
	}
	return ""
}

// Number retrieves a numeric value. Numeric strings and json.Number are accepted.
func (s Snapshot) Number(key string) (float64, bool) {
	switch v := s[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}
	return 0, false
}
