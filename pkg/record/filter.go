package record

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Filter is an exact-match conjunction: a record matches when every key maps
// to a strictly equal value.
type Filter map[string]any

// Keys returns the filter keys sorted, so generated statements are stable.
func (f Filter) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Validate rejects filter values that are not scalars. Null is not a value a
// field can be matched against.
func (f Filter) Validate() error {
	for _, k := range f.Keys() {
		if !IsScalar(f[k]) {
			return fmt.Errorf("filter value for %q must be a string, number or boolean", k)
		}
	}
	return nil
}

// Matches reports whether r satisfies every key of f.
func (f Filter) Matches(r Record) bool {
	for k, want := range f {
		got, ok := r.Get(k)
		if !ok || !StrictEqual(got, want) {
			return false
		}
	}
	return true
}

// Apply returns the records of rs that match f, preserving order.
func (f Filter) Apply(rs []Record) []Record {
	if len(f) == 0 {
		return rs
	}
	out := make([]Record, 0, len(rs))
	for _, r := range rs {
		if f.Matches(r) {
			out = append(out, r)
		}
	}
	return out
}

// IsScalar reports whether v is a string, boolean or number.
func IsScalar(v any) bool {
	switch v.(type) {
	case string, bool, json.Number:
		return true
	}
	_, ok := toFloat(v)
	return ok
}

// StrictEqual compares two field values by type and value. All numeric kinds
// form a single type, as they do on the wire. A time.Time equals a string in a
// timestamp layout denoting the same instant, since that is how it is sent.
func StrictEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if ia, ok := asInt64(a); ok {
		if ib, ok := asInt64(b); ok {
			return ia == ib
		}
	}
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case time.Time:
		bv, ok := AsTime(b)
		return ok && av.Equal(bv)
	}
	if bv, ok := b.(time.Time); ok {
		av, ok := AsTime(a)
		return ok && av.Equal(bv)
	}
	return false
}

// AsNumber returns v as a float64 when it is a numeric value.
func AsNumber(v any) (float64, bool) {
	return toFloat(v)
}

// asInt64 accepts the integer kinds that fit an int64 exactly.
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
	}
	return 0, false
}

// normalizeNumber turns a decoded json.Number into an int64 when it is an
// integer literal in range, and a float64 otherwise. Literals a float64 cannot
// hold are kept as they are.
func normalizeNumber(v any) any {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
