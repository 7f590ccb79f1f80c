package record

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Query parameter names understood by the list endpoint.
const (
	ParamSort   = "sort"
	ParamLimit  = "limit"
	ParamFilter = "filter"
)

// Query describes a list request: exact-match filter, ordering and limit.
type Query struct {
	Filter Filter
	Sort   SortSpec
	Limit  int
}

// ParseQuery reads sort, limit and filter from URL query values. filter is a
// JSON object so that value types survive the trip.
func ParseQuery(v url.Values) (Query, error) {
	q := Query{Sort: ParseSort(v.Get(ParamSort))}

	if raw := strings.TrimSpace(v.Get(ParamLimit)); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return Query{}, fmt.Errorf("limit must be a non-negative integer")
		}
		q.Limit = n
	}

	if raw := strings.TrimSpace(v.Get(ParamFilter)); raw != "" {
		var f Filter
		dec := json.NewDecoder(strings.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&f); err != nil {
			return Query{}, fmt.Errorf("filter must be a JSON object: %w", err)
		}
		if err := expectEOF(dec); err != nil {
			return Query{}, fmt.Errorf("filter must be a JSON object: %w", err)
		}
		for k, v := range f {
			f[k] = normalizeNumber(v)
		}
		if err := f.Validate(); err != nil {
			return Query{}, err
		}
		q.Filter = f
	}
	return q, nil
}

// Values encodes q for the list endpoint. Default parts are omitted.
func (q Query) Values() url.Values {
	v := url.Values{}
	if q.Sort.Field != "" && q.Sort != DefaultSort {
		v.Set(ParamSort, q.Sort.String())
	}
	if q.Limit > 0 {
		v.Set(ParamLimit, strconv.Itoa(q.Limit))
	}
	if len(q.Filter) > 0 {
		b, err := json.Marshal(q.Filter)
		if err == nil {
			v.Set(ParamFilter, string(b))
		}
	}
	return v
}

// Apply filters, sorts and truncates rs in memory with the same semantics the
// gateway applies in SQL. rs is not modified.
func (q Query) Apply(rs []Record) []Record {
	out := make([]Record, 0, len(rs))
	out = append(out, q.Filter.Apply(rs)...)
	spec := q.Sort
	if spec.Field == "" {
		spec = DefaultSort
	}
	Sort(out, spec)
	return Limit(out, q.Limit)
}
