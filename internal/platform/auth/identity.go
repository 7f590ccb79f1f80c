package auth

import (
	"context"
	"errors"
	"net/http"
)

type contextKey string

const IdentityKey contextKey = "identity"

// ErrInvalidCredentials is returned by a Provider when credentials are present
// but cannot be verified.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Identity is the resolved caller used for audit attribution.
type Identity struct {
	Subject     string `json:"subject"`
	DisplayName string `json:"display_name,omitempty"`
	Role        string `json:"role,omitempty"`
	// Fallback marks the configured stand-in used when no caller could be
	// resolved.
	Fallback bool `json:"fallback,omitempty"`
}

// Provider resolves the caller of a request. It returns (nil, nil) when the
// request carries no credentials at all.
type Provider interface {
	Resolve(r *http.Request) (*Identity, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(r *http.Request) (*Identity, error)

func (f ProviderFunc) Resolve(r *http.Request) (*Identity, error) {
	return f(r)
}

// StaticProvider resolves every request to the same identity. Used in
// development mode.
type StaticProvider struct {
	Identity Identity
}

func (p StaticProvider) Resolve(*http.Request) (*Identity, error) {
	id := p.Identity
	return &id, nil
}

// NoopProvider never resolves anyone; every request falls back.
type NoopProvider struct{}

func (NoopProvider) Resolve(*http.Request) (*Identity, error) {
	return nil, nil
}

// FallbackIdentity builds the documented stand-in identity for subject.
func FallbackIdentity(subject string) Identity {
	return Identity{Subject: subject, DisplayName: subject, Role: "system", Fallback: true}
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, IdentityKey, id)
}

// FromContext returns the identity placed by Middleware.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(IdentityKey).(Identity)
	return id, ok
}

// SubjectFromContext returns the subject of the request identity, or "".
func SubjectFromContext(ctx context.Context) string {
	id, _ := FromContext(ctx)
	return id.Subject
}
