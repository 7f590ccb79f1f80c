package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

type Claims struct {
	jwt.RegisteredClaims
	Email             string   `json:"email"`
	Name              string   `json:"name"`
	PreferredUsername string   `json:"preferred_username"`
	Role              string   `json:"role"`
	Roles             []string `json:"roles"`
}

type JWTConfig struct {
	Issuer   string
	Audience string
	JWKSURL  string
	// SigningKey selects HMAC validation; used for development and tests.
	SigningKey []byte
	// CacheSize and CacheTTL bound the verified-token cache.
	CacheSize int
	CacheTTL  time.Duration
}

// JWTProvider resolves identities from bearer tokens.
type JWTProvider struct {
	cfg     JWTConfig
	keyFunc jwt.Keyfunc
	opts    []jwt.ParserOption
	cache   *expirable.LRU[string, cachedIdentity]
}

type cachedIdentity struct {
	identity  Identity
	expiresAt time.Time
}

const (
	defaultTokenCacheSize = 1024
	defaultTokenCacheTTL  = time.Minute
)

// NewJWTProvider builds a provider. With no SigningKey the JWKS URL is used to
// fetch RSA/EC keys; keys are refreshed in the background by keyfunc. When only
// an issuer is configured the JWKS URL is discovered from it.
func NewJWTProvider(cfg JWTConfig) (*JWTProvider, error) {
	if len(cfg.SigningKey) == 0 && cfg.JWKSURL == "" && cfg.Issuer != "" {
		url, err := DiscoverJWKSURL(cfg.Issuer)
		if err != nil {
			return nil, err
		}
		cfg.JWKSURL = url
	}
	p := &JWTProvider{cfg: cfg}

	switch {
	case len(cfg.SigningKey) > 0:
		key := cfg.SigningKey
		p.keyFunc = func(*jwt.Token) (interface{}, error) { return key, nil }
		p.opts = append(p.opts, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	case cfg.JWKSURL != "":
		kf, err := keyfunc.NewDefault([]string{cfg.JWKSURL})
		if err != nil {
			return nil, fmt.Errorf("load JWKS from %s: %w", cfg.JWKSURL, err)
		}
		p.keyFunc = kf.Keyfunc
		p.opts = append(p.opts, jwt.WithValidMethods([]string{"RS256", "RS384", "RS512", "ES256", "ES384", "PS256"}))
	default:
		return nil, fmt.Errorf("jwt provider requires a signing key, a JWKS URL or an issuer")
	}

	if cfg.Issuer != "" {
		p.opts = append(p.opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		p.opts = append(p.opts, jwt.WithAudience(cfg.Audience))
	}
	p.opts = append(p.opts, jwt.WithExpirationRequired())

	size, ttl := cfg.CacheSize, cfg.CacheTTL
	if size <= 0 {
		size = defaultTokenCacheSize
	}
	if ttl <= 0 {
		ttl = defaultTokenCacheTTL
	}
	p.cache = expirable.NewLRU[string, cachedIdentity](size, nil, ttl)
	return p, nil
}

// Resolve validates the bearer token of r. A request without an Authorization
// header is unauthenticated, not invalid.
func (p *JWTProvider) Resolve(r *http.Request) (*Identity, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, nil
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		return nil, fmt.Errorf("%w: invalid authorization format", ErrInvalidCredentials)
	}
	tokenStr := parts[1]

	if hit, ok := p.cache.Get(tokenStr); ok && time.Now().Before(hit.expiresAt) {
		id := hit.identity
		return &id, nil
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, p.keyFunc, p.opts...)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}

	id := claims.identity()
	if id.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrInvalidCredentials)
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		p.cache.Add(tokenStr, cachedIdentity{identity: id, expiresAt: exp.Time})
	}
	return &id, nil
}

// identity prefers the e-mail address as subject, matching how clinicians are
// attributed in records.
func (c *Claims) identity() Identity {
	subject := c.Email
	if subject == "" {
		subject = c.Subject
	}
	display := c.Name
	if display == "" {
		display = c.PreferredUsername
	}
	if display == "" {
		display = subject
	}
	role := c.Role
	if role == "" && len(c.Roles) > 0 {
		role = c.Roles[0]
	}
	return Identity{Subject: subject, DisplayName: display, Role: role}
}
