package gateway

import (
	"strings"
	"testing"
	"time"

	"github.com/ehr/records/pkg/record"
)

var (
	hardPatient = &Descriptor{PublicName: "Patient", TableName: "patient", DeleteMode: DeleteHard}
	softPatient = &Descriptor{PublicName: "Patient", TableName: "patient", DeleteMode: DeleteSoft}
)

func TestBuildSelect_Default(t *testing.T) {
	st := BuildSelect(hardPatient, record.Query{})
	want := `SELECT * FROM "patient" WHERE TRUE ORDER BY "created_date" DESC NULLS LAST`
	if st.SQL != want {
		t.Errorf("unexpected SQL:\n got %s\nwant %s", st.SQL, want)
	}
	if len(st.Args) != 0 {
		t.Errorf("expected no args, got %v", st.Args)
	}
}

func TestBuildSelect_FilterSortLimit(t *testing.T) {
	q := record.Query{
		Filter: record.Filter{"prenom": "Alice", "nom": "Dupont"},
		Sort:   record.SortSpec{Field: "nom"},
		Limit:  5,
	}
	st := BuildSelect(hardPatient, q)
	want := `SELECT * FROM "patient" WHERE TRUE AND "nom" = $1 AND "prenom" = $2 ORDER BY "nom" ASC NULLS FIRST LIMIT $3`
	if st.SQL != want {
		t.Errorf("unexpected SQL:\n got %s\nwant %s", st.SQL, want)
	}
	if len(st.Args) != 3 || st.Args[0] != "Dupont" || st.Args[1] != "Alice" || st.Args[2] != 5 {
		t.Errorf("unexpected args: %v", st.Args)
	}
}

func TestBuildSelect_SoftDeleteHidesRows(t *testing.T) {
	st := BuildSelect(softPatient, record.Query{})
	if !strings.Contains(st.SQL, `AND "deleted_at" IS NULL`) {
		t.Errorf("expected deleted rows to be hidden: %s", st.SQL)
	}
}

func TestBuildGet(t *testing.T) {
	st := BuildGet(softPatient, "abc")
	want := `SELECT * FROM "patient" WHERE "id" = $1 AND "deleted_at" IS NULL`
	if st.SQL != want {
		t.Errorf("unexpected SQL: %s", st.SQL)
	}
}

func TestBuildInsert(t *testing.T) {
	st := BuildInsert(hardPatient, []Field{{"nom", "Dupont"}, {"id", "x"}, {"created_by", "doc"}})
	want := `INSERT INTO "patient" ("nom", "id", "created_by") VALUES ($1, $2, $3) RETURNING *`
	if st.SQL != want {
		t.Errorf("unexpected SQL:\n got %s\nwant %s", st.SQL, want)
	}
	if len(st.Args) != 3 {
		t.Errorf("expected 3 args, got %d", len(st.Args))
	}
}

func TestBuildInsert_QuotesIdentifiers(t *testing.T) {
	st := BuildInsert(hardPatient, []Field{{`we"ird`, 1}})
	if !strings.Contains(st.SQL, `("we""ird")`) {
		t.Errorf("expected embedded quote to be escaped: %s", st.SQL)
	}
}

func TestBuildInsertBatch_UnionOfColumns(t *testing.T) {
	rows := [][]Field{
		{{"nom", "Dupont"}, {"id", "1"}},
		{{"prenom", "Alice"}, {"id", "2"}},
	}
	st := BuildInsertBatch(hardPatient, rows)
	want := `INSERT INTO "patient" ("nom", "id", "prenom") VALUES ($1, $2, DEFAULT), (DEFAULT, $3, $4) RETURNING *`
	if st.SQL != want {
		t.Errorf("unexpected SQL:\n got %s\nwant %s", st.SQL, want)
	}
	if len(st.Args) != 4 || st.Args[2] != "2" || st.Args[3] != "Alice" {
		t.Errorf("unexpected args: %v", st.Args)
	}
}

func TestBuildUpdate(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	st := BuildUpdate(softPatient, "abc", []Field{{"nom", "Martin"}}, now)
	want := `UPDATE "patient" SET "nom" = $1, "updated_date" = GREATEST("updated_date", $2) WHERE "id" = $3 AND "deleted_at" IS NULL RETURNING *`
	if st.SQL != want {
		t.Errorf("unexpected SQL:\n got %s\nwant %s", st.SQL, want)
	}
	if st.Args[1] != now || st.Args[2] != "abc" {
		t.Errorf("unexpected args: %v", st.Args)
	}
}

func TestBuildUpdate_EmptyPayloadRefreshesTimestamp(t *testing.T) {
	st := BuildUpdate(hardPatient, "abc", nil, time.Now())
	want := `UPDATE "patient" SET "updated_date" = GREATEST("updated_date", $1) WHERE "id" = $2 RETURNING *`
	if st.SQL != want {
		t.Errorf("unexpected SQL: %s", st.SQL)
	}
}

func TestBuildDelete(t *testing.T) {
	at := time.Now()

	hard := BuildDelete(hardPatient, "abc", at)
	if hard.SQL != `DELETE FROM "patient" WHERE "id" = $1` {
		t.Errorf("unexpected hard delete: %s", hard.SQL)
	}

	soft := BuildDelete(softPatient, "abc", at)
	want := `UPDATE "patient" SET "deleted_at" = $1, "updated_date" = GREATEST("updated_date", $1) WHERE "id" = $2 AND "deleted_at" IS NULL`
	if soft.SQL != want {
		t.Errorf("unexpected soft delete:\n got %s\nwant %s", soft.SQL, want)
	}
	if len(soft.Args) != 2 {
		t.Errorf("expected 2 args, got %v", soft.Args)
	}
}
