package gateway

import (
	"context"
	"time"

	"github.com/ehr/records/pkg/record"
)

// Store executes entity operations against the backing tables. Field lists
// are already validated and stamped by the Service.
type Store interface {
	Select(ctx context.Context, d *Descriptor, q record.Query) ([]record.Record, error)
	Get(ctx context.Context, d *Descriptor, id string) (record.Record, error)
	Insert(ctx context.Context, d *Descriptor, fields []Field) (record.Record, error)
	InsertBatch(ctx context.Context, d *Descriptor, rows [][]Field) ([]record.Record, error)
	Update(ctx context.Context, d *Descriptor, id string, fields []Field, updatedAt time.Time) (record.Record, error)
	Delete(ctx context.Context, d *Descriptor, id string, at time.Time) error
}
