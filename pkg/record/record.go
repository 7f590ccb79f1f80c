// Package record defines the wire shape shared by the gateway and its client:
// an ordered field→value Record, exact-match Filters, SortSpecs and the list
// Query that carries them.
package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Reserved fields present on every entity table.
const (
	FieldID          = "id"
	FieldCreatedBy   = "created_by"
	FieldCreatedDate = "created_date"
	FieldUpdatedDate = "updated_date"
	FieldDeletedAt   = "deleted_at"
)

// ReservedFields lists the columns clients can never write directly.
var ReservedFields = map[string]bool{
	FieldID:          true,
	FieldCreatedBy:   true,
	FieldCreatedDate: true,
	FieldUpdatedDate: true,
	FieldDeletedAt:   true,
}

// Record is an ordered mapping from field name to value. The zero value is
// an empty record ready to use.
type Record struct {
	fields *orderedmap.OrderedMap[string, any]
}

// New returns an empty record.
func New() Record {
	return Record{fields: orderedmap.New[string, any]()}
}

// FromPairs builds a record from alternating key/value arguments. It panics
// on an odd argument count or a non-string key; it is meant for literals.
func FromPairs(kv ...any) Record {
	if len(kv)%2 != 0 {
		panic("record.FromPairs: odd argument count")
	}
	r := New()
	for i := 0; i < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			panic(fmt.Sprintf("record.FromPairs: key %v is not a string", kv[i]))
		}
		r.Set(k, kv[i+1])
	}
	return r
}

func (r *Record) init() {
	if r.fields == nil {
		r.fields = orderedmap.New[string, any]()
	}
}

// Get returns the value of field k.
func (r Record) Get(k string) (any, bool) {
	if r.fields == nil {
		return nil, false
	}
	return r.fields.Get(k)
}

// Has reports whether field k is present, even with a nil value.
func (r Record) Has(k string) bool {
	_, ok := r.Get(k)
	return ok
}

// Set assigns v to field k. New keys are appended; existing keys keep their
// position.
func (r *Record) Set(k string, v any) {
	r.init()
	r.fields.Set(k, v)
}

// Delete removes field k if present.
func (r *Record) Delete(k string) {
	if r.fields == nil {
		return
	}
	r.fields.Delete(k)
}

// Len returns the number of fields.
func (r Record) Len() int {
	if r.fields == nil {
		return 0
	}
	return r.fields.Len()
}

// Keys returns the field names in insertion order.
func (r Record) Keys() []string {
	keys := make([]string, 0, r.Len())
	r.Range(func(k string, _ any) bool {
		keys = append(keys, k)
		return true
	})
	return keys
}

// Range calls fn for every field in order until fn returns false.
func (r Record) Range(fn func(k string, v any) bool) {
	if r.fields == nil {
		return
	}
	for p := r.fields.Oldest(); p != nil; p = p.Next() {
		if !fn(p.Key, p.Value) {
			return
		}
	}
}

// Clone returns a shallow copy that can be mutated independently.
func (r Record) Clone() Record {
	c := New()
	r.Range(func(k string, v any) bool {
		c.Set(k, v)
		return true
	})
	return c
}

// ID returns the record id rendered as a string, or "" when absent.
func (r Record) ID() string {
	v, ok := r.Get(FieldID)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// MarshalJSON renders the record as a JSON object preserving field order.
func (r Record) MarshalJSON() ([]byte, error) {
	if r.fields == nil {
		return []byte("{}"), nil
	}
	return r.fields.MarshalJSON()
}

// UnmarshalJSON decodes a JSON object, keeping the key order of the input.
// Anything other than an object is rejected. Integer literals that fit an int64
// decode as int64, other numbers as float64.
func (r *Record) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return fmt.Errorf("record: expected a JSON object")
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("record: %w", err)
	}
	fields := orderedmap.New[string, any]()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("record: %w", err)
		}
		key, _ := tok.(string)
		var v any
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("record: field %q: %w", key, err)
		}
		fields.Set(key, normalizeNumber(v))
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("record: %w", err)
	}
	if err := expectEOF(dec); err != nil {
		return err
	}
	r.fields = fields
	return nil
}

// expectEOF fails when dec holds anything after the value just decoded.
func expectEOF(dec *json.Decoder) error {
	if _, err := dec.Token(); err != io.EOF {
		return fmt.Errorf("record: unexpected data after JSON value")
	}
	return nil
}

// DecodeList decodes a JSON array of objects.
func DecodeList(data []byte) ([]Record, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("record: expected a JSON array: %w", err)
	}
	out := make([]Record, 0, len(raw))
	for i, item := range raw {
		var r Record
		if err := r.UnmarshalJSON(item); err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		out = append(out, r)
	}
	return out, nil
}
