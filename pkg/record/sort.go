package record

import (
	"cmp"
	"fmt"
	"sort"
	"strings"
	"time"
)

// DescendingMarker prefixes a sort field to select descending order.
const DescendingMarker = "-"

// SortSpec names the field a list is ordered by.
type SortSpec struct {
	Field string
	Desc  bool
}

// DefaultSort orders newest records first.
var DefaultSort = SortSpec{Field: FieldCreatedDate, Desc: true}

// ParseSort reads "-field" as descending and "field" as ascending. An empty
// string yields DefaultSort.
func ParseSort(s string) SortSpec {
	s = strings.TrimSpace(s)
	if s == "" || s == DescendingMarker {
		return DefaultSort
	}
	if strings.HasPrefix(s, DescendingMarker) {
		return SortSpec{Field: strings.TrimPrefix(s, DescendingMarker), Desc: true}
	}
	return SortSpec{Field: s}
}

func (s SortSpec) String() string {
	if s.Desc {
		return DescendingMarker + s.Field
	}
	return s.Field
}

// Sort orders rs in place by spec. The sort is stable; missing and null
// values sort lowest.
func Sort(rs []Record, spec SortSpec) {
	sort.SliceStable(rs, func(i, j int) bool {
		a, _ := rs[i].Get(spec.Field)
		b, _ := rs[j].Get(spec.Field)
		c := Compare(a, b)
		if spec.Desc {
			return c > 0
		}
		return c < 0
	})
}

// Limit truncates rs to n records. n <= 0 means no limit.
func Limit(rs []Record, n int) []Record {
	if n <= 0 || len(rs) <= n {
		return rs
	}
	return rs[:n]
}

// timestampLayouts are tried, in order, when a string value may be a date.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// AsTime interprets v as a timestamp when it is a time.Time or a string in a
// recognised date layout.
func AsTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		if len(t) < len("2006-01-02") || t[4] != '-' {
			return time.Time{}, false
		}
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, t); err == nil {
				return ts, true
			}
		}
	}
	return time.Time{}, false
}

// Compare returns -1, 0 or 1. Nulls are lowest; numbers compare numerically,
// timestamps chronologically, booleans false<true, everything else as text.
func Compare(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if ia, ok := asInt64(a); ok {
		if ib, ok := asInt64(b); ok {
			return cmp.Compare(ia, ib)
		}
	}
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return cmpOrdered(fa, fb)
		}
	}
	if ta, ok := AsTime(a); ok {
		if tb, ok := AsTime(b); ok {
			return ta.Compare(tb)
		}
	}
	if ba, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			switch {
			case ba == bb:
				return 0
			case !ba:
				return -1
			default:
				return 1
			}
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func cmpOrdered(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
