package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ehr/records/pkg/record"
)

// MemoryStore keeps entity rows in process memory. It backs the memory
// driver and the tests, mirroring the PostgreSQL store's semantics.
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[string][]record.Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tables: make(map[string][]record.Record)}
}

func isLive(d *Descriptor, r record.Record) bool {
	if d.DeleteMode != DeleteSoft {
		return true
	}
	v, _ := r.Get(record.FieldDeletedAt)
	return v == nil
}

func (s *MemoryStore) indexOf(d *Descriptor, id string) int {
	for i, r := range s.tables[d.TableName] {
		if r.ID() == id && isLive(d, r) {
			return i
		}
	}
	return -1
}

func (s *MemoryStore) Select(_ context.Context, d *Descriptor, q record.Query) ([]record.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	live := make([]record.Record, 0, len(s.tables[d.TableName]))
	for _, r := range s.tables[d.TableName] {
		if isLive(d, r) {
			live = append(live, r.Clone())
		}
	}
	return q.Apply(live), nil
}

func (s *MemoryStore) Get(_ context.Context, d *Descriptor, id string) (record.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.indexOf(d, id)
	if i < 0 {
		return record.Record{}, ErrNotFound
	}
	return s.tables[d.TableName][i].Clone(), nil
}

// buildRow lays fields out in table column order when the schema is known,
// with unset columns as null, like RETURNING * would.
func buildRow(d *Descriptor, fields []Field) record.Record {
	r := record.New()
	for _, c := range d.Columns() {
		r.Set(c, nil)
	}
	for _, f := range fields {
		r.Set(f.Column, f.Value)
	}
	return r
}

func (s *MemoryStore) checkUnique(d *Descriptor, id string, pending []record.Record) error {
	for _, r := range s.tables[d.TableName] {
		if r.ID() == id {
			return &StoreError{Kind: StoreConstraint, Op: "insert " + d.TableName, Err: fmt.Errorf("duplicate id %s", id)}
		}
	}
	for _, r := range pending {
		if r.ID() == id {
			return &StoreError{Kind: StoreConstraint, Op: "insert " + d.TableName, Err: fmt.Errorf("duplicate id %s", id)}
		}
	}
	return nil
}

func (s *MemoryStore) Insert(_ context.Context, d *Descriptor, fields []Field) (record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := buildRow(d, fields)
	if err := s.checkUnique(d, r.ID(), nil); err != nil {
		return record.Record{}, err
	}
	s.tables[d.TableName] = append(s.tables[d.TableName], r)
	return r.Clone(), nil
}

func (s *MemoryStore) InsertBatch(_ context.Context, d *Descriptor, rows [][]Field) ([]record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	built := make([]record.Record, 0, len(rows))
	for _, fields := range rows {
		r := buildRow(d, fields)
		if err := s.checkUnique(d, r.ID(), built); err != nil {
			return nil, err
		}
		built = append(built, r)
	}
	s.tables[d.TableName] = append(s.tables[d.TableName], built...)

	out := make([]record.Record, len(built))
	for i, r := range built {
		out[i] = r.Clone()
	}
	return out, nil
}

func (s *MemoryStore) Update(_ context.Context, d *Descriptor, id string, fields []Field, updatedAt time.Time) (record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(d, id)
	if i < 0 {
		return record.Record{}, ErrNotFound
	}
	r := s.tables[d.TableName][i].Clone()
	for _, f := range fields {
		r.Set(f.Column, f.Value)
	}
	r.Set(record.FieldUpdatedDate, laterOf(r, updatedAt))
	s.tables[d.TableName][i] = r
	return r.Clone(), nil
}

func (s *MemoryStore) Delete(_ context.Context, d *Descriptor, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(d, id)
	if i < 0 {
		return nil
	}
	rows := s.tables[d.TableName]
	if d.DeleteMode == DeleteSoft {
		r := rows[i].Clone()
		r.Set(record.FieldDeletedAt, at)
		r.Set(record.FieldUpdatedDate, laterOf(r, at))
		rows[i] = r
		return nil
	}
	s.tables[d.TableName] = append(rows[:i:i], rows[i+1:]...)
	return nil
}

// laterOf returns the later of r's updated_date and t.
func laterOf(r record.Record, t time.Time) time.Time {
	v, _ := r.Get(record.FieldUpdatedDate)
	if prev, ok := record.AsTime(v); ok && prev.After(t) {
		return prev
	}
	return t
}
