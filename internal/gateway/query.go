package gateway

import (
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ehr/records/pkg/record"
)

// Field is one column/value pair of a write.
type Field struct {
	Column string
	Value  any
}

// Statement is a parameterized SQL statement ready for the driver.
type Statement struct {
	SQL  string
	Args []any
}

// quoteIdent quotes a table or column name for PostgreSQL.
func quoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// argList collects positional arguments and hands out $n placeholders.
type argList struct {
	args []any
	idx  int
}

func newArgList() *argList {
	return &argList{idx: 1}
}

func (a *argList) add(v any) string {
	a.args = append(a.args, v)
	p := fmt.Sprintf("$%d", a.idx)
	a.idx++
	return p
}

// liveClause hides soft-deleted rows.
func liveClause(d *Descriptor) string {
	if d.DeleteMode == DeleteSoft {
		return " AND " + quoteIdent(record.FieldDeletedAt) + " IS NULL"
	}
	return ""
}

// BuildSelect renders a list query. Filter keys and the sort field must
// already be validated against d.
func BuildSelect(d *Descriptor, q record.Query) Statement {
	a := newArgList()
	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT * FROM %s WHERE TRUE", quoteIdent(d.TableName))
	sb.WriteString(liveClause(d))
	for _, k := range q.Filter.Keys() {
		fmt.Fprintf(&sb, " AND %s = %s", quoteIdent(k), a.add(q.Filter[k]))
	}

	spec := q.Sort
	if spec.Field == "" {
		spec = record.DefaultSort
	}
	// NULLs sort lowest, matching record.Compare.
	if spec.Desc {
		fmt.Fprintf(&sb, " ORDER BY %s DESC NULLS LAST", quoteIdent(spec.Field))
	} else {
		fmt.Fprintf(&sb, " ORDER BY %s ASC NULLS FIRST", quoteIdent(spec.Field))
	}
	if q.Limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %s", a.add(q.Limit))
	}
	return Statement{SQL: sb.String(), Args: a.args}
}

// BuildGet renders a single-row read by id.
func BuildGet(d *Descriptor, id string) Statement {
	a := newArgList()
	sql := fmt.Sprintf("SELECT * FROM %s WHERE %s = %s%s",
		quoteIdent(d.TableName), quoteIdent(record.FieldID), a.add(id), liveClause(d))
	return Statement{SQL: sql, Args: a.args}
}

// BuildInsert renders a single-row insert returning the stored row.
func BuildInsert(d *Descriptor, fields []Field) Statement {
	a := newArgList()
	cols := make([]string, len(fields))
	vals := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = quoteIdent(f.Column)
		vals[i] = a.add(f.Value)
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING *",
		quoteIdent(d.TableName), strings.Join(cols, ", "), strings.Join(vals, ", "))
	return Statement{SQL: sql, Args: a.args}
}

// BuildInsertBatch renders one multi-row insert over the union of all rows'
// columns. Cells a row does not provide take the column default.
func BuildInsertBatch(d *Descriptor, rows [][]Field) Statement {
	var order []string
	seen := map[string]bool{}
	for _, row := range rows {
		for _, f := range row {
			if !seen[f.Column] {
				seen[f.Column] = true
				order = append(order, f.Column)
			}
		}
	}

	a := newArgList()
	cols := make([]string, len(order))
	for i, c := range order {
		cols[i] = quoteIdent(c)
	}
	tuples := make([]string, len(rows))
	for i, row := range rows {
		byCol := make(map[string]any, len(row))
		for _, f := range row {
			byCol[f.Column] = f.Value
		}
		cells := make([]string, len(order))
		for j, c := range order {
			if v, ok := byCol[c]; ok {
				cells[j] = a.add(v)
			} else {
				cells[j] = "DEFAULT"
			}
		}
		tuples[i] = "(" + strings.Join(cells, ", ") + ")"
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s RETURNING *",
		quoteIdent(d.TableName), strings.Join(cols, ", "), strings.Join(tuples, ", "))
	return Statement{SQL: sql, Args: a.args}
}

// BuildUpdate renders a partial update by id. updated_date never moves
// backwards even when clocks disagree.
func BuildUpdate(d *Descriptor, id string, fields []Field, updatedAt time.Time) Statement {
	a := newArgList()
	sets := make([]string, 0, len(fields)+1)
	for _, f := range fields {
		sets = append(sets, fmt.Sprintf("%s = %s", quoteIdent(f.Column), a.add(f.Value)))
	}
	upd := quoteIdent(record.FieldUpdatedDate)
	sets = append(sets, fmt.Sprintf("%s = GREATEST(%s, %s)", upd, upd, a.add(updatedAt)))

	sql := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s%s RETURNING *",
		quoteIdent(d.TableName), strings.Join(sets, ", "), quoteIdent(record.FieldID), a.add(id), liveClause(d))
	return Statement{SQL: sql, Args: a.args}
}

// BuildDelete renders a hard delete, or for soft-delete entities an update
// stamping deleted_at.
func BuildDelete(d *Descriptor, id string, at time.Time) Statement {
	a := newArgList()
	if d.DeleteMode == DeleteSoft {
		ts := a.add(at)
		upd := quoteIdent(record.FieldUpdatedDate)
		sql := fmt.Sprintf("UPDATE %s SET %s = %s, %s = GREATEST(%s, %s) WHERE %s = %s%s",
			quoteIdent(d.TableName), quoteIdent(record.FieldDeletedAt), ts, upd, upd, ts,
			quoteIdent(record.FieldID), a.add(id), liveClause(d))
		return Statement{SQL: sql, Args: a.args}
	}
	sql := fmt.Sprintf("DELETE FROM %s WHERE %s = %s",
		quoteIdent(d.TableName), quoteIdent(record.FieldID), a.add(id))
	return Statement{SQL: sql, Args: a.args}
}
