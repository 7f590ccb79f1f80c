package gateway

import (
	"math"
	"strings"

	"github.com/google/uuid"

	"github.com/ehr/records/pkg/record"
)

type valueKind int

const (
	kindUnchecked valueKind = iota
	kindText
	kindUUID
	kindTime
	kindBool
	kindInt16
	kindInt32
	kindInt64
	kindDecimal
)

// columnKind maps an information_schema data_type to the kind of JSON value a
// column can hold. Types without a clear JSON scalar form are unchecked.
func columnKind(dataType string) valueKind {
	switch dt := strings.ToLower(dataType); {
	case dt == "text", dt == "character varying", dt == "character", dt == "name":
		return kindText
	case dt == "uuid":
		return kindUUID
	case dt == "date", strings.HasPrefix(dt, "timestamp"):
		return kindTime
	case dt == "boolean":
		return kindBool
	case dt == "smallint":
		return kindInt16
	case dt == "integer":
		return kindInt32
	case dt == "bigint":
		return kindInt64
	case dt == "numeric", dt == "real", dt == "double precision":
		return kindDecimal
	}
	return kindUnchecked
}

// CanMatch reports whether a filter value v could strictly equal a value read
// back from column. A value of the wrong kind (a string against an integer
// column, a boolean against text) matches nothing. Without loaded types
// every value can match.
func (d *Descriptor) CanMatch(column string, v any) bool {
	dataType, ok := d.columnTypes[column]
	if !ok {
		return true
	}
	switch columnKind(dataType) {
	case kindText:
		_, ok := v.(string)
		return ok
	case kindUUID:
		s, ok := v.(string)
		if !ok {
			return false
		}
		_, err := uuid.Parse(s)
		return err == nil
	case kindTime:
		s, ok := v.(string)
		if !ok {
			return false
		}
		_, ok = record.AsTime(s)
		return ok
	case kindBool:
		_, ok := v.(bool)
		return ok
	case kindInt16:
		return fitsInt(v, 16)
	case kindInt32:
		return fitsInt(v, 32)
	case kindInt64:
		return fitsInt(v, 64)
	case kindDecimal:
		_, ok := record.AsNumber(v)
		return ok
	}
	return true
}

// fitsInt reports whether v is an integral number within a signed bits-wide
// range.
func fitsInt(v any, bits int) bool {
	if n, ok := v.(int64); ok {
		return bits == 64 || (n >= -(1<<(bits-1)) && n < 1<<(bits-1))
	}
	f, ok := record.AsNumber(v)
	if !ok || f != math.Trunc(f) || math.IsInf(f, 0) {
		return false
	}
	lim := math.Ldexp(1, bits-1)
	return f >= -lim && f < lim
}
