package gateway

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrUnknownEntity  = errors.New("unknown entity")
	ErrNotFound       = errors.New("not found")
	ErrInvalidPayload = errors.New("invalid payload")
	ErrBatchTooLarge  = errors.New("batch too large")
)

// FieldError reports payload, filter or sort keys that are not columns of the
// entity's table.
type FieldError struct {
	Entity string
	Fields []string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("unknown field(s) for %s: %s", e.Entity, strings.Join(e.Fields, ", "))
}

// StoreErrorKind classifies failures reported by the relational store.
type StoreErrorKind int

const (
	StoreInternal   StoreErrorKind = iota
	StoreConstraint                // SQLSTATE class 23
	StoreInvalidData               // SQLSTATE class 22
)

// StoreError wraps a driver error. Its Error text is safe to show to clients;
// the wrapped error carries the raw store message for logs.
type StoreError struct {
	Kind StoreErrorKind
	Op   string
	Err  error
}

func (e *StoreError) Error() string {
	switch e.Kind {
	case StoreConstraint:
		return "Constraint violation"
	case StoreInvalidData:
		return "Invalid value for column type"
	default:
		return "Internal store error"
	}
}

func (e *StoreError) Unwrap() error { return e.Err }

// Detail returns the raw store message, for logging only.
func (e *StoreError) Detail() string {
	var pgErr *pgconn.PgError
	if errors.As(e.Err, &pgErr) {
		return fmt.Sprintf("%s: %s (SQLSTATE %s)", e.Op, pgErr.Message, pgErr.Code)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// classifyStoreError turns driver failures into *StoreError. Sentinel errors
// of this package pass through unchanged.
func classifyStoreError(op string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	kind := StoreInternal
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "23"):
			kind = StoreConstraint
		case strings.HasPrefix(pgErr.Code, "22"):
			kind = StoreInvalidData
		}
	}
	return &StoreError{Kind: kind, Op: op, Err: err}
}
