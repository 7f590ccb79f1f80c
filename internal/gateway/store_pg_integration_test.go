//go:build integration

package gateway

import (
	"context"
	"errors"
	"log"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ehr/records/internal/platform/db"
	"github.com/ehr/records/pkg/record"
)

const integrationSchema = `
CREATE TABLE patient (
	id           UUID PRIMARY KEY,
	nom          TEXT NOT NULL,
	prenom       TEXT,
	naissance    DATE,
	poids        NUMERIC(5,2),
	age          INTEGER,
	dossier      BIGINT,
	created_by   TEXT NOT NULL,
	created_date TIMESTAMPTZ NOT NULL,
	updated_date TIMESTAMPTZ NOT NULL
);
CREATE TABLE prescription (
	id           UUID PRIMARY KEY,
	patient_id   UUID NOT NULL,
	dose         TEXT DEFAULT '1 cp',
	created_by   TEXT NOT NULL,
	created_date TIMESTAMPTZ NOT NULL,
	updated_date TIMESTAMPTZ NOT NULL,
	deleted_at   TIMESTAMPTZ
);`

// Run with: go test -tags=integration -timeout 180s ./internal/gateway/...
func setupPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("records"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			log.Printf("failed to terminate postgres container: %v", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}
	pool, err := db.NewPool(ctx, connStr, 4, 1)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(pool.Close)

	if _, err := pool.Exec(ctx, integrationSchema); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}
	return pool
}

func TestPGStore_Integration(t *testing.T) {
	pool := setupPostgres(t)
	ctx := context.Background()

	reg, err := NewRegistry([]Entry{{Name: "Patient"}, {Name: "Prescription", Delete: DeleteSoft}})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	if err := reg.LoadSchema(ctx, db.SchemaSource{DB: pool}); err != nil {
		t.Fatalf("load schema: %v", err)
	}
	svc := NewService(reg, NewPGStore(pool))
	patient, _ := reg.Lookup("Patient")
	rx, _ := reg.Lookup("Prescription")

	t.Run("create returns stored row", func(t *testing.T) {
		r, err := svc.Create(ctx, patient, record.FromPairs("nom", "Dupont", "poids", 61.5, "naissance", "1980-02-03"), doctor)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if _, err := uuid.Parse(r.ID()); err != nil {
			t.Errorf("expected uuid string id, got %v", r.ID())
		}
		if keys := r.Keys(); keys[0] != "id" || keys[1] != "nom" {
			t.Errorf("expected table column order, got %v", keys)
		}
		if w, _ := r.Get("poids"); w != 61.5 {
			t.Errorf("expected numeric as float64, got %#v", w)
		}
		if p, _ := r.Get("prenom"); p != nil {
			t.Errorf("expected null prenom, got %v", p)
		}
	})

	t.Run("unknown column is rejected before SQL", func(t *testing.T) {
		_, err := svc.Create(ctx, patient, record.FromPairs("nom", "X", "age", 3), doctor)
		var fe *FieldError
		if !errors.As(err, &fe) {
			t.Errorf("expected FieldError, got %v", err)
		}
	})

	t.Run("not null violation is a constraint error", func(t *testing.T) {
		_, err := svc.Create(ctx, patient, record.FromPairs("prenom", "Alice"), doctor)
		var se *StoreError
		if !errors.As(err, &se) || se.Kind != StoreConstraint {
			t.Errorf("expected constraint error, got %v", err)
		}
	})

	t.Run("bad value is an invalid data error", func(t *testing.T) {
		_, err := svc.Create(ctx, patient, record.FromPairs("nom", "X", "naissance", "not a date"), doctor)
		var se *StoreError
		if !errors.As(err, &se) || se.Kind != StoreInvalidData {
			t.Errorf("expected invalid data error, got %v", err)
		}
	})

	t.Run("list filter sort limit", func(t *testing.T) {
		for _, n := range []string{"Durand", "Martin"} {
			if _, err := svc.Create(ctx, patient, record.FromPairs("nom", n), doctor); err != nil {
				t.Fatalf("create: %v", err)
			}
		}
		rs, err := svc.List(ctx, patient, record.Query{Sort: record.SortSpec{Field: "nom"}, Limit: 2})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(rs) != 2 {
			t.Fatalf("expected 2 rows, got %d", len(rs))
		}
		if n, _ := rs[0].Get("nom"); n != "Dupont" {
			t.Errorf("expected Dupont first, got %v", n)
		}

		rs, _ = svc.List(ctx, patient, record.Query{Filter: record.Filter{"nom": "Martin"}})
		if len(rs) != 1 {
			t.Errorf("expected 1 Martin, got %d", len(rs))
		}
	})

	t.Run("filter value of the wrong kind matches nothing", func(t *testing.T) {
		r, err := svc.Create(ctx, patient, record.FromPairs("nom", "Typed", "age", int64(42), "dossier", int64(9007199254740993)), doctor)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if v, _ := r.Get("dossier"); v != int64(9007199254740993) {
			t.Errorf("expected bigint to keep precision, got %#v", v)
		}
		for _, f := range []record.Filter{{"age": "42"}, {"nom": true}, {"age": 42.5}, {"id": "nope"}} {
			rs, err := svc.List(ctx, patient, record.Query{Filter: f})
			if err != nil {
				t.Errorf("filter %v: unexpected error: %v", f, err)
				continue
			}
			if len(rs) != 0 {
				t.Errorf("filter %v: expected no match, got %d", f, len(rs))
			}
		}
		rs, err := svc.List(ctx, patient, record.Query{Filter: record.Filter{"age": int64(42), "nom": "Typed"}})
		if err != nil || len(rs) != 1 {
			t.Errorf("expected one typed match, got %d (%v)", len(rs), err)
		}

		created, _ := r.Get("created_date")
		wire := created.(time.Time).Format(time.RFC3339Nano)
		rs, err = svc.List(ctx, patient, record.Query{Filter: record.Filter{"created_date": wire}})
		if err != nil || len(rs) != 1 || rs[0].ID() != r.ID() {
			t.Errorf("expected the record for its own created_date, got %d (%v)", len(rs), err)
		}
	})

	t.Run("update and delete", func(t *testing.T) {
		r, _ := svc.Create(ctx, patient, record.FromPairs("nom", "Leroy"), doctor)
		u, err := svc.Update(ctx, patient, r.ID(), record.FromPairs("prenom", "Paul"))
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		if n, _ := u.Get("nom"); n != "Leroy" {
			t.Errorf("partial update lost nom: %v", n)
		}
		if err := svc.Delete(ctx, patient, r.ID()); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if err := svc.Delete(ctx, patient, r.ID()); err != nil {
			t.Fatalf("second delete: %v", err)
		}
		if _, err := svc.Get(ctx, patient, r.ID()); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("bulk insert uses column defaults and is atomic", func(t *testing.T) {
		pid := uuid.NewString()
		rs, err := svc.BulkCreate(ctx, rx, []record.Record{
			record.FromPairs("patient_id", pid),
			record.FromPairs("patient_id", pid, "dose", "2 cp"),
		}, doctor)
		if err != nil {
			t.Fatalf("bulk: %v", err)
		}
		if d, _ := rs[0].Get("dose"); d != "1 cp" {
			t.Errorf("expected column default, got %v", d)
		}

		_, err = svc.BulkCreate(ctx, rx, []record.Record{
			record.FromPairs("patient_id", pid),
			record.FromPairs("dose", "missing patient"),
		}, doctor)
		if err == nil {
			t.Fatal("expected batch to fail")
		}
		all, _ := svc.List(ctx, rx, record.Query{Filter: record.Filter{"patient_id": pid}})
		if len(all) != 2 {
			t.Errorf("failed batch must not leave rows, got %d", len(all))
		}
	})

	t.Run("soft delete hides rows", func(t *testing.T) {
		r, err := svc.Create(ctx, rx, record.FromPairs("patient_id", uuid.NewString()), doctor)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if err := svc.Delete(ctx, rx, r.ID()); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if _, err := svc.Get(ctx, rx, r.ID()); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected hidden row, got %v", err)
		}
		var deletedAt *time.Time
		if err := pool.QueryRow(ctx, "SELECT deleted_at FROM prescription WHERE id = $1", r.ID()).Scan(&deletedAt); err != nil {
			t.Fatalf("raw select: %v", err)
		}
		if deletedAt == nil {
			t.Error("expected deleted_at to be stamped")
		}
	})
}
