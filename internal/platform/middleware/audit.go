package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/records/internal/platform/auditlog"
	"github.com/ehr/records/internal/platform/auth"
)

// Audit returns Echo middleware that runs after every entity operation and
// hands an auditlog.Entry to sink. Requests that never reached an entity
// handler (health, metrics, unknown entities) are not audited.
//
// Sink failures are logged and never change the response.
func Audit(sink auditlog.Sink, logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)

			entity, ok := c.Get(auditlog.KeyEntity).(string)
			if !ok || sink == nil {
				return err
			}

			req := c.Request()
			entry := auditlog.Entry{
				Time:     time.Now().UTC(),
				Entity:   entity,
				Method:   req.Method,
				Path:     req.URL.Path,
				Status:   responseStatus(c, err),
				RemoteIP: c.RealIP(),
			}
			entry.RequestID, _ = c.Get(RequestIDKey).(string)
			entry.Operation, _ = c.Get(auditlog.KeyOperation).(string)
			entry.RecordID, _ = c.Get(auditlog.KeyRecordID).(string)
			if id, ok := auth.FromContext(req.Context()); ok {
				entry.Subject = id.Subject
				entry.Fallback = id.Fallback
			}

			// Record even when the client has gone away.
			ctx, cancel := context.WithTimeout(context.WithoutCancel(req.Context()), 2*time.Second)
			defer cancel()
			if recErr := sink.Record(ctx, entry); recErr != nil {
				logger.Error().Err(recErr).
					Str("request_id", entry.RequestID).
					Str("entity", entry.Entity).
					Msg("failed to record audit entry")
			}
			return err
		}
	}
}

// responseStatus is the status the client will see: the written one, or the
// one the error handler will write for err.
func responseStatus(c echo.Context, err error) int {
	if err == nil || c.Response().Committed {
		return c.Response().Status
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return http.StatusInternalServerError
}
