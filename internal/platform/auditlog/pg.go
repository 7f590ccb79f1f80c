package auditlog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DefaultTable is the audit table used when none is configured.
const DefaultTable = "record_audit"

type auditDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PGSink appends entries to an append-only PostgreSQL table:
//
//	CREATE TABLE record_audit (
//	    at          TIMESTAMPTZ NOT NULL,
//	    request_id  TEXT,
//	    subject     TEXT NOT NULL,
//	    fallback    BOOLEAN NOT NULL,
//	    entity      TEXT NOT NULL,
//	    operation   TEXT NOT NULL,
//	    record_id   TEXT,
//	    method      TEXT NOT NULL,
//	    path        TEXT NOT NULL,
//	    status      INTEGER NOT NULL,
//	    remote_ip   TEXT
//	);
type PGSink struct {
	DB    auditDB
	Table string
}

func NewPGSink(db auditDB, table string) *PGSink {
	if table == "" {
		table = DefaultTable
	}
	return &PGSink{DB: db, Table: table}
}

func (s *PGSink) Record(ctx context.Context, e Entry) error {
	sql := fmt.Sprintf(`
		INSERT INTO %s
		(at, request_id, subject, fallback, entity, operation, record_id, method, path, status, remote_ip)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`, pgx.Identifier{s.Table}.Sanitize())
	_, err := s.DB.Exec(ctx, sql,
		e.Time, e.RequestID, e.Subject, e.Fallback, e.Entity, e.Operation,
		e.RecordID, e.Method, e.Path, e.Status, e.RemoteIP)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}
