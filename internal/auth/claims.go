// Package auth applies the platform bearer-token checks to the assessment API.
package auth

import (
	"context"

	authlib "example.com/ergorisk/internal/platform/auth"
)

type (
	Claims = authlib.Claims
	Config = authlib.Config
)

// FromContext returns the caller's claims, if the request was authenticated.
func FromContext(ctx context.Context) (*Claims, bool) { return authlib.FromContext(ctx) }

// WithClaims attaches claims to ctx. Handler tests use it in place of the middleware.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return authlib.WithClaims(ctx, claims)
}
