package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ehr/records/pkg/record"
)

// EntityClient issues calls against /api/{Entity}.
type EntityClient struct {
	c    *Client
	name string
}

func (e *EntityClient) path(parts ...string) string {
	p := "/api/" + url.PathEscape(e.name)
	for _, s := range parts {
		p += "/" + url.PathEscape(s)
	}
	return p
}

// List returns records ordered by sort ("-field" for descending, "" for
// newest first), truncated to limit when limit > 0.
func (e *EntityClient) List(ctx context.Context, sort string, limit int) ([]record.Record, error) {
	return e.query(ctx, record.Query{Sort: record.ParseSort(sort), Limit: limit})
}

// Filter returns records whose fields equal every filter value, ordered and
// truncated like List.
func (e *EntityClient) Filter(ctx context.Context, filter record.Filter, sort string, limit int) ([]record.Record, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	return e.query(ctx, record.Query{Filter: filter, Sort: record.ParseSort(sort), Limit: limit})
}

func (e *EntityClient) query(ctx context.Context, q record.Query) ([]record.Record, error) {
	params := q.Values()
	if e.c.localQuery {
		params = nil
	}

	var raw json.RawMessage
	if err := e.c.do(ctx, http.MethodGet, e.path(), params, "", nil, &raw); err != nil {
		return nil, err
	}
	rs, err := record.DecodeList(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s list: %w", e.name, err)
	}
	if e.c.localQuery {
		rs = q.Apply(rs)
	}
	return rs, nil
}

func (e *EntityClient) Get(ctx context.Context, id string) (record.Record, error) {
	var r record.Record
	err := e.c.do(ctx, http.MethodGet, e.path(id), nil, "", nil, &r)
	return r, err
}

// Create stores data and returns the persisted record, including the
// server-assigned id and audit fields.
func (e *EntityClient) Create(ctx context.Context, data record.Record) (record.Record, error) {
	var r record.Record
	err := e.send(ctx, http.MethodPost, e.path(), data, &r)
	return r, err
}

// Update applies the fields of data to record id.
func (e *EntityClient) Update(ctx context.Context, id string, data record.Record) (record.Record, error) {
	var r record.Record
	err := e.send(ctx, http.MethodPut, e.path(id), data, &r)
	return r, err
}

func (e *EntityClient) Delete(ctx context.Context, id string) error {
	return e.c.do(ctx, http.MethodDelete, e.path(id), nil, "", nil, nil)
}

// BulkCreate stores all records in one request. The server inserts them in a
// single transaction: either every record is created or none is.
func (e *EntityClient) BulkCreate(ctx context.Context, data []record.Record) ([]record.Record, error) {
	if data == nil {
		data = []record.Record{}
	}
	var raw json.RawMessage
	if err := e.send(ctx, http.MethodPost, e.path("_bulk"), data, &raw); err != nil {
		return nil, err
	}
	return record.DecodeList(raw)
}

func (e *EntityClient) send(ctx context.Context, method, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", e.name, err)
	}
	return e.c.do(ctx, method, path, nil, "application/json", bytes.NewReader(body), out)
}
