package gateway

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/ehr/records/pkg/record"
)

// DeleteMode selects how an entity's delete operation treats rows.
type DeleteMode string

const (
	// DeleteHard physically removes the row.
	DeleteHard DeleteMode = "hard"
	// DeleteSoft stamps deleted_at and hides the row from reads.
	DeleteSoft DeleteMode = "soft"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// ValidIdentifier reports whether s can be used as a table or column name.
func ValidIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}

// Entry is one line of the registry list.
type Entry struct {
	Name   string     `yaml:"name"`
	Table  string     `yaml:"table,omitempty"`
	Delete DeleteMode `yaml:"delete,omitempty"`
}

// Descriptor is the resolved, immutable view of one entity.
type Descriptor struct {
	PublicName string
	TableName  string
	DeleteMode DeleteMode

	columns     map[string]bool
	columnOrder []string
	columnTypes map[string]string
}

// SchemaLoaded reports whether the column allowlist came from the live schema.
func (d *Descriptor) SchemaLoaded() bool {
	return d.columns != nil
}

// Columns returns the table columns in declaration order, or nil when the
// schema was not loaded.
func (d *Descriptor) Columns() []string {
	return d.columnOrder
}

// HasColumn reports whether name may be used as a column of this entity.
// Without a loaded schema any well-formed identifier is accepted.
func (d *Descriptor) HasColumn(name string) bool {
	if d.columns == nil {
		return ValidIdentifier(name)
	}
	return d.columns[name]
}

// Registry maps public entity names to descriptors. It is built once at start
// and never mutated afterwards.
type Registry struct {
	entities []*Descriptor
	byName   map[string]*Descriptor
}

// NewRegistry validates entries and builds the registry. Table names default
// to the lower-cased public name and delete mode defaults to hard.
func NewRegistry(entries []Entry) (*Registry, error) {
	r := &Registry{byName: make(map[string]*Descriptor, len(entries))}
	for _, e := range entries {
		if !ValidIdentifier(e.Name) {
			return nil, fmt.Errorf("invalid entity name %q", e.Name)
		}
		if _, dup := r.byName[e.Name]; dup {
			return nil, fmt.Errorf("duplicate entity %q", e.Name)
		}
		table := e.Table
		if table == "" {
			table = strings.ToLower(e.Name)
		}
		if !ValidIdentifier(table) {
			return nil, fmt.Errorf("invalid table name %q for entity %s", table, e.Name)
		}
		mode := e.Delete
		switch mode {
		case "":
			mode = DeleteHard
		case DeleteHard, DeleteSoft:
		default:
			return nil, fmt.Errorf("entity %s: delete mode must be %q or %q, got %q", e.Name, DeleteHard, DeleteSoft, mode)
		}
		d := &Descriptor{PublicName: e.Name, TableName: table, DeleteMode: mode}
		r.entities = append(r.entities, d)
		r.byName[e.Name] = d
	}
	return r, nil
}

// Lookup resolves a public entity name. Names are case-sensitive.
func (r *Registry) Lookup(name string) (*Descriptor, error) {
	d, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, name)
	}
	return d, nil
}

// All returns the descriptors in registration order.
func (r *Registry) All() []*Descriptor {
	return r.entities
}

// ColumnSource supplies the live column list of a table.
type ColumnSource interface {
	Columns(ctx context.Context, table string) ([]string, error)
}

// ColumnTypeSource is implemented by column sources that also report each
// column's data type. LoadSchema uses it when available.
type ColumnTypeSource interface {
	ColumnTypes(ctx context.Context, table string) (map[string]string, error)
}

// requiredColumns must exist on every entity table.
var requiredColumns = []string{
	record.FieldID,
	record.FieldCreatedBy,
	record.FieldCreatedDate,
	record.FieldUpdatedDate,
}

// LoadSchema fills every descriptor's column allowlist from src. It fails when
// a table is missing, lacks an audit column, or is configured for soft delete
// without a deleted_at column. Call it before serving requests.
func (r *Registry) LoadSchema(ctx context.Context, src ColumnSource) error {
	for _, d := range r.entities {
		cols, err := src.Columns(ctx, d.TableName)
		if err != nil {
			return fmt.Errorf("entity %s: %w", d.PublicName, err)
		}
		if len(cols) == 0 {
			return fmt.Errorf("entity %s: table %q not found", d.PublicName, d.TableName)
		}
		set := make(map[string]bool, len(cols))
		for _, c := range cols {
			set[c] = true
		}
		for _, c := range requiredColumns {
			if !set[c] {
				return fmt.Errorf("entity %s: table %q has no %s column", d.PublicName, d.TableName, c)
			}
		}
		if d.DeleteMode == DeleteSoft && !set[record.FieldDeletedAt] {
			return fmt.Errorf("entity %s: soft delete needs a %s column on %q", d.PublicName, record.FieldDeletedAt, d.TableName)
		}
		if ts, ok := src.(ColumnTypeSource); ok {
			types, err := ts.ColumnTypes(ctx, d.TableName)
			if err != nil {
				return fmt.Errorf("entity %s: %w", d.PublicName, err)
			}
			d.columnTypes = types
		}
		d.columns = set
		d.columnOrder = cols
	}
	return nil
}

// DefaultEntities is the record types of the clinical records application.
func DefaultEntities() []Entry {
	names := []string{
		"Patient",
		"Consultation",
		"Exam",
		"ExamResult",
		"Prescription",
		"PrescriptionItem",
		"Medication",
		"Allergy",
		"MedicalHistory",
		"Vaccination",
		"VitalSign",
		"Appointment",
		"Referral",
		"LabOrder",
		"ImagingOrder",
		"Document",
		"Certificate",
		"Letter",
		"Invoice",
		"InvoiceLine",
		"Payment",
		"Insurance",
		"Practitioner",
		"Note",
	}
	entries := make([]Entry, len(names))
	for i, n := range names {
		entries[i] = Entry{Name: n}
	}
	return entries
}
