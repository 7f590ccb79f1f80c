package auth

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

type MiddlewareConfig struct {
	Provider Provider
	// Fallback is attached when the provider resolves nobody.
	Fallback Identity
	// RequireIdentity rejects unauthenticated requests instead of falling back.
	RequireIdentity bool
	Logger          zerolog.Logger
}

// Middleware resolves the caller once per request and stores the Identity on
// the request context. Invalid credentials are always rejected; missing
// credentials use cfg.Fallback unless RequireIdentity is set.
func Middleware(cfg MiddlewareConfig) echo.MiddlewareFunc {
	provider := cfg.Provider
	if provider == nil {
		provider = NoopProvider{}
	}
	fallback := cfg.Fallback
	fallback.Fallback = true

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if IsPublicPath(c.Request().URL.Path) {
				return next(c)
			}

			id, err := provider.Resolve(c.Request())
			if err != nil {
				if errors.Is(err, ErrInvalidCredentials) {
					cfg.Logger.Debug().Err(err).Str("path", c.Request().URL.Path).Msg("rejected credentials")
					return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
				}
				cfg.Logger.Error().Err(err).Msg("identity provider failed")
				return echo.NewHTTPError(http.StatusServiceUnavailable, "identity provider unavailable")
			}

			resolved := fallback
			if id != nil {
				resolved = *id
			} else {
				if cfg.RequireIdentity {
					return echo.NewHTTPError(http.StatusUnauthorized, "missing credentials")
				}
				cfg.Logger.Debug().
					Str("subject", fallback.Subject).
					Str("path", c.Request().URL.Path).
					Msg("no identity resolved, using fallback")
			}

			ctx := WithIdentity(c.Request().Context(), resolved)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("identity_subject", resolved.Subject)
			return next(c)
		}
	}
}
