// Package auditlog records who did what to which entity record. Entries are
// produced after every entity operation and handed to one or more sinks.
package auditlog

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Echo context keys set by the entity handlers and read when building entries.
const (
	KeyEntity    = "entity"
	KeyOperation = "operation"
	KeyRecordID  = "record_id"
)

// Entry is one audited entity operation.
type Entry struct {
	Time      time.Time `json:"time"`
	RequestID string    `json:"request_id,omitempty"`
	Subject   string    `json:"subject"`
	Fallback  bool      `json:"fallback,omitempty"`
	Entity    string    `json:"entity"`
	Operation string    `json:"operation"`
	RecordID  string    `json:"record_id,omitempty"`
	Method    string    `json:"method"`
	Path      string    `json:"path"`
	Status    int       `json:"status"`
	RemoteIP  string    `json:"remote_ip,omitempty"`
}

// Succeeded reports whether the operation completed with a 2xx status.
func (e Entry) Succeeded() bool {
	return e.Status >= 200 && e.Status < 300
}

// Sink persists audit entries.
type Sink interface {
	Record(ctx context.Context, e Entry) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Entry) error

func (f SinkFunc) Record(ctx context.Context, e Entry) error {
	return f(ctx, e)
}

// LogSink writes entries as structured log lines.
type LogSink struct {
	Logger zerolog.Logger
}

func (s LogSink) Record(_ context.Context, e Entry) error {
	evt := s.Logger.Info()
	if !e.Succeeded() {
		evt = s.Logger.Warn()
	}
	evt.
		Str("type", "record_access").
		Str("request_id", e.RequestID).
		Str("subject", e.Subject).
		Bool("fallback_identity", e.Fallback).
		Str("entity", e.Entity).
		Str("operation", e.Operation).
		Str("record_id", e.RecordID).
		Str("method", e.Method).
		Str("path", e.Path).
		Int("status", e.Status).
		Str("remote_ip", e.RemoteIP).
		Time("at", e.Time).
		Msg("record_access")
	return nil
}

// Multi fans an entry out to every sink. All sinks are tried; their errors are
// joined.
type Multi []Sink

func (m Multi) Record(ctx context.Context, e Entry) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
