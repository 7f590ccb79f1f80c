package gateway

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "records_operations_total",
			Help: "Entity operations by entity, operation and outcome.",
		},
		[]string{"entity", "op", "outcome"},
	)

	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "records_operation_duration_seconds",
			Help:    "Duration of entity operations in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"entity", "op"},
	)
)

// outcome collapses an operation error into a low-cardinality label.
func outcome(err error) string {
	var fe *FieldError
	var se *StoreError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.As(err, &fe), errors.Is(err, ErrInvalidPayload), errors.Is(err, ErrBatchTooLarge):
		return "invalid"
	case errors.As(err, &se):
		switch se.Kind {
		case StoreConstraint:
			return "conflict"
		case StoreInvalidData:
			return "invalid"
		}
	}
	return "error"
}

func observe(entity, op string, start time.Time, err error) {
	operationsTotal.WithLabelValues(entity, op, outcome(err)).Inc()
	operationDuration.WithLabelValues(entity, op).Observe(time.Since(start).Seconds())
}
