// Package client is a typed Go client for the records API. Every entity is
// reached through the same six calls; list queries are pushed down to the
// server unless WithLocalQuery is set.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultMessage is reported when a failed response carries no error text.
const DefaultMessage = "Request failed"

// TransportError is returned for non-success responses and network failures.
// Status is 0 when no response was received.
type TransportError struct {
	Status  int
	Message string
	Err     error
}

func (e *TransportError) Error() string {
	if e.Status == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (HTTP %d)", e.Message, e.Status)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Status == http.StatusNotFound
}

type Option func(*Client)

// WithHTTPClient replaces the default client (30s timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithToken sends token as a bearer credential on every call.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithLocalQuery fetches whole tables and applies filter, sort and limit in
// memory, for servers that ignore the list query parameters.
func WithLocalQuery() Option {
	return func(c *Client) { c.localQuery = true }
}

type Client struct {
	baseURL    string
	http       *http.Client
	token      string
	localQuery bool
}

// New returns a client for the API served at baseURL (e.g.
// "https://records.example.org").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Entity returns the client for one entity name, e.g. "Patient".
func (c *Client) Entity(name string) *EntityClient {
	return &EntityClient{c: c, name: name}
}

// Upload stores content under fileName and returns its absolute URL.
func (c *Client) Upload(ctx context.Context, fileName string, content io.Reader) (string, error) {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	part, err := w.CreateFormFile("file", fileName)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, content); err != nil {
		return "", fmt.Errorf("read upload content: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	var out struct {
		FileURL string `json:"file_url"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/upload", nil, w.FormDataContentType(), body, &out); err != nil {
		return "", err
	}
	return out.FileURL, nil
}

// do sends one request and decodes a success body into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, contentType string, body io.Reader, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	if body == nil {
		body = http.NoBody
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Message: DefaultMessage, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Status: resp.StatusCode, Message: DefaultMessage, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errorFromResponse(resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func errorFromResponse(status int, body []byte) *TransportError {
	te := &TransportError{Status: status, Message: DefaultMessage}
	var env struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &env) == nil && env.Error != "" {
		te.Message = env.Error
	}
	return te
}
