package gateway

import (
	"time"

	"github.com/google/uuid"

	"github.com/ehr/records/internal/platform/auth"
	"github.com/ehr/records/pkg/record"
)

// Stamper supplies server-controlled columns: ids, creator and timestamps.
type Stamper struct {
	Now   func() time.Time
	NewID func() string
}

// NewStamper returns a Stamper on the wall clock. Times are UTC truncated to
// the microsecond resolution of PostgreSQL timestamps.
func NewStamper() *Stamper {
	return &Stamper{
		Now: func() time.Time {
			return time.Now().UTC().Truncate(time.Microsecond)
		},
		NewID: uuid.NewString,
	}
}

// ForInsert appends id, created_by, created_date and updated_date after the
// payload fields. Both dates are the same instant.
func (s *Stamper) ForInsert(payload []Field, who auth.Identity) []Field {
	now := s.Now()
	out := make([]Field, 0, len(payload)+4)
	out = append(out, payload...)
	return append(out,
		Field{Column: record.FieldID, Value: s.NewID()},
		Field{Column: record.FieldCreatedBy, Value: who.Subject},
		Field{Column: record.FieldCreatedDate, Value: now},
		Field{Column: record.FieldUpdatedDate, Value: now},
	)
}

// ForUpdate returns the new updated_date.
func (s *Stamper) ForUpdate() time.Time {
	return s.Now()
}
