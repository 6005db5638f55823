package auth

import (
	"net/http"

	authlib "example.com/ergorisk/internal/platform/auth"
)

// PublicPaths are served without a bearer token.
var PublicPaths = []string{"/healthz", "/health", "/metrics"}

// Middleware authenticates every API route except PublicPaths.
type Middleware struct {
	inner authlib.Middleware
}

func NewMiddleware(cfg Config) Middleware {
	return Middleware{inner: authlib.NewMiddleware(cfg, authlib.SkipPaths(PublicPaths...))}
}

func (m Middleware) Wrap(next http.Handler) http.Handler { return m.inner.Wrap(next) }
