package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/ehr/records/internal/platform/db"
	"github.com/ehr/records/pkg/record"
)

// pgDB is satisfied by *pgxpool.Pool.
type pgDB interface {
	db.Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PGStore runs generated statements on PostgreSQL.
type PGStore struct {
	db pgDB
}

func NewPGStore(conn pgDB) *PGStore {
	return &PGStore{db: conn}
}

func (s *PGStore) Select(ctx context.Context, d *Descriptor, q record.Query) ([]record.Record, error) {
	st := BuildSelect(d, q)
	rs, err := queryRecords(ctx, s.db, st)
	if err != nil {
		return nil, classifyStoreError("select "+d.TableName, err)
	}
	return rs, nil
}

func (s *PGStore) Get(ctx context.Context, d *Descriptor, id string) (record.Record, error) {
	rs, err := queryRecords(ctx, s.db, BuildGet(d, id))
	if err != nil {
		return record.Record{}, classifyStoreError("get "+d.TableName, err)
	}
	if len(rs) == 0 {
		return record.Record{}, ErrNotFound
	}
	return rs[0], nil
}

func (s *PGStore) Insert(ctx context.Context, d *Descriptor, fields []Field) (record.Record, error) {
	rs, err := queryRecords(ctx, s.db, BuildInsert(d, fields))
	if err != nil {
		return record.Record{}, classifyStoreError("insert "+d.TableName, err)
	}
	if len(rs) == 0 {
		return record.Record{}, classifyStoreError("insert "+d.TableName, fmt.Errorf("insert returned no row"))
	}
	return rs[0], nil
}

// InsertBatch writes all rows in one transaction; a failing row aborts the
// whole batch.
func (s *PGStore) InsertBatch(ctx context.Context, d *Descriptor, rows [][]Field) ([]record.Record, error) {
	if len(rows) == 0 {
		return []record.Record{}, nil
	}
	var out []record.Record
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		rs, err := queryRecords(ctx, tx, BuildInsertBatch(d, rows))
		if err != nil {
			return err
		}
		if len(rs) != len(rows) {
			return fmt.Errorf("batch insert returned %d rows for %d records", len(rs), len(rows))
		}
		out = rs
		return nil
	})
	if err != nil {
		return nil, classifyStoreError("bulk insert "+d.TableName, err)
	}
	return out, nil
}

func (s *PGStore) Update(ctx context.Context, d *Descriptor, id string, fields []Field, updatedAt time.Time) (record.Record, error) {
	rs, err := queryRecords(ctx, s.db, BuildUpdate(d, id, fields, updatedAt))
	if err != nil {
		return record.Record{}, classifyStoreError("update "+d.TableName, err)
	}
	if len(rs) == 0 {
		return record.Record{}, ErrNotFound
	}
	return rs[0], nil
}

// Delete does not report whether a row matched.
func (s *PGStore) Delete(ctx context.Context, d *Descriptor, id string, at time.Time) error {
	st := BuildDelete(d, id, at)
	if _, err := s.db.Exec(ctx, st.SQL, st.Args...); err != nil {
		return classifyStoreError("delete "+d.TableName, err)
	}
	return nil
}

// queryRecords scans every column of every row, keeping column order.
func queryRecords(ctx context.Context, q db.Querier, st Statement) ([]record.Record, error) {
	rows, err := q.Query(ctx, st.SQL, st.Args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fds := rows.FieldDescriptions()
	out := []record.Record{}
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, err
		}
		r := record.New()
		for i, fd := range fds {
			r.Set(fd.Name, normalizeValue(vals[i]))
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// normalizeValue converts driver values into JSON-friendly forms.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case [16]byte:
		return uuid.UUID(x).String()
	case pgtype.Numeric:
		f, err := x.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case time.Time:
		return x.UTC()
	default:
		return v
	}
}
