package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/records/internal/platform/auditlog"
	"github.com/ehr/records/internal/platform/auth"
	"github.com/ehr/records/pkg/record"
)

// Keys set on the echo context for the audit middleware.
const (
	CtxEntity    = auditlog.KeyEntity
	CtxOperation = auditlog.KeyOperation
	CtxRecordID  = auditlog.KeyRecordID
)

type errorBody struct {
	Error  string   `json:"error"`
	Fields []string `json:"fields,omitempty"`
}

// Handler exposes every registered entity over HTTP.
type Handler struct {
	svc      *Service
	fallback auth.Identity
	logger   zerolog.Logger
}

func NewHandler(svc *Service, fallback auth.Identity, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, fallback: fallback, logger: logger}
}

// RegisterRoutes mounts the six routes of every entity on api, plus catch-all
// routes answering for names that are not registered.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	for _, d := range h.svc.Registry().All() {
		base := "/" + d.PublicName
		api.GET(base, h.bind(d, "list", h.list))
		api.POST(base, h.bind(d, "create", h.create))
		api.POST(base+"/_bulk", h.bind(d, "bulk_create", h.bulkCreate))
		api.GET(base+"/:id", h.bind(d, "get", h.get))
		api.PUT(base+"/:id", h.bind(d, "update", h.update))
		api.DELETE(base+"/:id", h.bind(d, "delete", h.delete))
	}
	api.Any("/:entity", h.unknownEntity)
	api.Any("/:entity/*", h.unknownEntity)
}

type entityHandler func(c echo.Context, d *Descriptor) error

func (h *Handler) bind(d *Descriptor, op string, fn entityHandler) echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Set(CtxEntity, d.PublicName)
		c.Set(CtxOperation, op)
		return fn(c, d)
	}
}

func (h *Handler) unknownEntity(c echo.Context) error {
	name := c.Param("entity")
	if _, err := h.svc.Entity(name); err == nil {
		// Known entity reached through an unsupported method.
		return c.JSON(http.StatusMethodNotAllowed, errorBody{Error: "Method not allowed"})
	}
	return c.JSON(http.StatusNotFound, errorBody{Error: "Unknown entity: " + name})
}

func (h *Handler) list(c echo.Context, d *Descriptor) error {
	q, err := record.ParseQuery(c.QueryParams())
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
	}
	rs, err := h.svc.List(c.Request().Context(), d, q)
	if err != nil {
		return h.fail(c, err)
	}
	if rs == nil {
		rs = []record.Record{}
	}
	return c.JSON(http.StatusOK, rs)
}

func (h *Handler) get(c echo.Context, d *Descriptor) error {
	id := c.Param("id")
	c.Set(CtxRecordID, id)
	r, err := h.svc.Get(c.Request().Context(), d, id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) create(c echo.Context, d *Descriptor) error {
	payload, err := decodeRecord(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
	}
	r, err := h.svc.Create(c.Request().Context(), d, payload, h.identity(c))
	if err != nil {
		return h.fail(c, err)
	}
	c.Set(CtxRecordID, r.ID())
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) bulkCreate(c echo.Context, d *Descriptor) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "invalid request body"})
	}
	payloads, err := record.DecodeList(body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
	}
	rs, err := h.svc.BulkCreate(c.Request().Context(), d, payloads, h.identity(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, rs)
}

func (h *Handler) update(c echo.Context, d *Descriptor) error {
	id := c.Param("id")
	c.Set(CtxRecordID, id)
	payload, err := decodeRecord(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
	}
	r, err := h.svc.Update(c.Request().Context(), d, id, payload)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) delete(c echo.Context, d *Descriptor) error {
	id := c.Param("id")
	c.Set(CtxRecordID, id)
	if err := h.svc.Delete(c.Request().Context(), d, id); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) identity(c echo.Context) auth.Identity {
	if id, ok := auth.FromContext(c.Request().Context()); ok {
		return id
	}
	return h.fallback
}

// fail maps service errors onto the JSON error envelope. Raw store messages
// are logged, never returned.
func (h *Handler) fail(c echo.Context, err error) error {
	var fe *FieldError
	var se *StoreError
	switch {
	case errors.Is(err, ErrNotFound):
		return c.JSON(http.StatusNotFound, errorBody{Error: "Not found"})
	case errors.Is(err, context.DeadlineExceeded):
		return c.JSON(http.StatusGatewayTimeout, errorBody{Error: "Request timed out"})
	case errors.As(err, &fe):
		return c.JSON(http.StatusBadRequest, errorBody{Error: fe.Error(), Fields: fe.Fields})
	case errors.Is(err, ErrInvalidPayload), errors.Is(err, ErrBatchTooLarge):
		return c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.As(err, &se):
		status := http.StatusInternalServerError
		switch se.Kind {
		case StoreConstraint:
			status = http.StatusConflict
		case StoreInvalidData:
			status = http.StatusBadRequest
		}
		entity, _ := c.Get(CtxEntity).(string)
		ev := h.logger.Warn()
		if status == http.StatusInternalServerError {
			ev = h.logger.Error()
		}
		ev.Str("entity", entity).Str("detail", se.Detail()).Msg("store operation failed")
		return c.JSON(status, errorBody{Error: se.Error()})
	default:
		h.logger.Error().Err(err).Msg("entity operation failed")
		return c.JSON(http.StatusInternalServerError, errorBody{Error: "Internal store error"})
	}
}

// decodeRecord reads one JSON object. An empty body is an empty record.
func decodeRecord(body io.Reader) (record.Record, error) {
	var r record.Record
	dec := json.NewDecoder(body)
	if err := dec.Decode(&r); err != nil {
		if errors.Is(err, io.EOF) {
			return record.New(), nil
		}
		return record.Record{}, errors.New("request body must be a JSON object")
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return record.Record{}, errors.New("request body must be a single JSON object")
	}
	return r, nil
}
