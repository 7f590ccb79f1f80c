package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/records/internal/platform/auth"
	"github.com/ehr/records/pkg/record"
)

// DefaultBatchLimit bounds bulk creates when no limit is configured.
const DefaultBatchLimit = 1000

// Service validates requests against the registry and runs them on a Store.
type Service struct {
	registry   *Registry
	store      Store
	stamper    *Stamper
	batchLimit int
	logger     zerolog.Logger
}

type Option func(*Service)

func WithStamper(st *Stamper) Option {
	return func(s *Service) { s.stamper = st }
}

// WithBatchLimit caps the number of records a bulk create accepts.
func WithBatchLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchLimit = n
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func NewService(registry *Registry, store Store, opts ...Option) *Service {
	s := &Service{
		registry:   registry,
		store:      store,
		stamper:    NewStamper(),
		batchLimit: DefaultBatchLimit,
		logger:     zerolog.Nop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) Registry() *Registry {
	return s.registry
}

// Entity resolves a public entity name.
func (s *Service) Entity(name string) (*Descriptor, error) {
	return s.registry.Lookup(name)
}

// List returns the entity's records matching q.
func (s *Service) List(ctx context.Context, d *Descriptor, q record.Query) (out []record.Record, err error) {
	defer func(start time.Time) { observe(d.PublicName, "list", start, err) }(time.Now())

	if err := q.Filter.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	var unknown []string
	for _, k := range q.Filter.Keys() {
		if !d.HasColumn(k) {
			unknown = append(unknown, k)
		}
	}
	if q.Sort.Field != "" && !d.HasColumn(q.Sort.Field) {
		unknown = append(unknown, q.Sort.Field)
	}
	if len(unknown) > 0 {
		return nil, &FieldError{Entity: d.PublicName, Fields: unknown}
	}
	if q.Limit < 0 {
		q.Limit = 0
	}
	for _, k := range q.Filter.Keys() {
		if !d.CanMatch(k, q.Filter[k]) {
			return []record.Record{}, nil
		}
	}
	return s.store.Select(ctx, d, q)
}

// Get returns one record. Ids that are not UUIDs cannot exist.
func (s *Service) Get(ctx context.Context, d *Descriptor, id string) (r record.Record, err error) {
	defer func(start time.Time) { observe(d.PublicName, "get", start, err) }(time.Now())

	if _, err := uuid.Parse(id); err != nil {
		return record.Record{}, ErrNotFound
	}
	return s.store.Get(ctx, d, id)
}

// Create stores payload as a new record created by who. Reserved fields in
// the payload are ignored.
func (s *Service) Create(ctx context.Context, d *Descriptor, payload record.Record, who auth.Identity) (r record.Record, err error) {
	defer func(start time.Time) { observe(d.PublicName, "create", start, err) }(time.Now())

	fields, err := payloadFields(d, payload)
	if err != nil {
		return record.Record{}, err
	}
	return s.store.Insert(ctx, d, s.stamper.ForInsert(fields, who))
}

// BulkCreate stores every payload atomically: either all records are created
// or none are.
func (s *Service) BulkCreate(ctx context.Context, d *Descriptor, payloads []record.Record, who auth.Identity) (out []record.Record, err error) {
	defer func(start time.Time) { observe(d.PublicName, "bulk_create", start, err) }(time.Now())

	if len(payloads) > s.batchLimit {
		return nil, fmt.Errorf("%w: %d records, limit is %d", ErrBatchTooLarge, len(payloads), s.batchLimit)
	}
	if len(payloads) == 0 {
		return []record.Record{}, nil
	}
	rows := make([][]Field, len(payloads))
	for i, p := range payloads {
		fields, err := payloadFields(d, p)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		rows[i] = s.stamper.ForInsert(fields, who)
	}
	return s.store.InsertBatch(ctx, d, rows)
}

// Update applies a partial change. An empty payload only refreshes
// updated_date.
func (s *Service) Update(ctx context.Context, d *Descriptor, id string, payload record.Record) (r record.Record, err error) {
	defer func(start time.Time) { observe(d.PublicName, "update", start, err) }(time.Now())

	if _, err := uuid.Parse(id); err != nil {
		return record.Record{}, ErrNotFound
	}
	fields, err := payloadFields(d, payload)
	if err != nil {
		return record.Record{}, err
	}
	return s.store.Update(ctx, d, id, fields, s.stamper.ForUpdate())
}

// Delete removes the record. Deleting a missing record succeeds.
func (s *Service) Delete(ctx context.Context, d *Descriptor, id string) (err error) {
	defer func(start time.Time) { observe(d.PublicName, "delete", start, err) }(time.Now())

	if _, err := uuid.Parse(id); err != nil {
		s.logger.Debug().Str("entity", d.PublicName).Str("id", id).Msg("delete of malformed id ignored")
		return nil
	}
	return s.store.Delete(ctx, d, id, s.stamper.Now())
}

// payloadFields strips reserved fields and rejects keys that are not columns.
func payloadFields(d *Descriptor, payload record.Record) ([]Field, error) {
	fields := make([]Field, 0, payload.Len())
	var unknown []string
	payload.Range(func(k string, v any) bool {
		switch {
		case record.ReservedFields[k]:
		case !d.HasColumn(k):
			unknown = append(unknown, k)
		default:
			fields = append(fields, Field{Column: k, Value: v})
		}
		return true
	})
	if len(unknown) > 0 {
		return nil, &FieldError{Entity: d.PublicName, Fields: unknown}
	}
	return fields, nil
}
