package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is satisfied by *pgxpool.Pool, *pgxpool.Conn and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const tableColumnsSQL = `
	SELECT column_name
	FROM information_schema.columns
	WHERE table_schema = current_schema() AND table_name = $1
	ORDER BY ordinal_position`

// TableColumns returns the column names of table in the current schema, in
// declaration order. A missing table yields an empty slice.
func TableColumns(ctx context.Context, q Querier, table string) ([]string, error) {
	rows, err := q.Query(ctx, tableColumnsSQL, table)
	if err != nil {
		return nil, fmt.Errorf("load columns of %s: %w", table, err)
	}
	cols, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("load columns of %s: %w", table, err)
	}
	return cols, nil
}

const tableColumnTypesSQL = `
	SELECT column_name, data_type
	FROM information_schema.columns
	WHERE table_schema = current_schema() AND table_name = $1`

// TableColumnTypes maps each column of table to its information_schema
// data_type (e.g. "integer", "text", "timestamp with time zone").
func TableColumnTypes(ctx context.Context, q Querier, table string) (map[string]string, error) {
	rows, err := q.Query(ctx, tableColumnTypesSQL, table)
	if err != nil {
		return nil, fmt.Errorf("load column types of %s: %w", table, err)
	}
	types := make(map[string]string)
	var name, dataType string
	_, err = pgx.ForEachRow(rows, []any{&name, &dataType}, func() error {
		types[name] = dataType
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load column types of %s: %w", table, err)
	}
	return types, nil
}

// SchemaSource loads table columns through a Querier.
type SchemaSource struct {
	DB Querier
}

func (s SchemaSource) Columns(ctx context.Context, table string) ([]string, error) {
	return TableColumns(ctx, s.DB, table)
}

func (s SchemaSource) ColumnTypes(ctx context.Context, table string) (map[string]string, error) {
	return TableColumnTypes(ctx, s.DB, table)
}
