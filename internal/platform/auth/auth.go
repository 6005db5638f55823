// Package auth validates HS256 bearer tokens and carries the resulting claims on the request context.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Config holds the shared secret and expected issuer.
type Config struct {
	Secret string
	Issuer string
}

// Claims is the caller identity extracted from a verified token.
type Claims struct {
	Subject   string
	TenantID  string
	Scopes    map[string]struct{}
	ExpiresAt time.Time
}

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid bearer token")
)

// tokenClaims is the JWT body. Scopes arrive either as a space separated string or a list.
type tokenClaims struct {
	jwt.RegisteredClaims
	TenantID string     `json:"tenant_id"`
	Scopes   scopeClaim `json:"scopes,omitempty"`
}

type scopeClaim []string

func (s *scopeClaim) UnmarshalJSON(data []byte) error {
	var joined string
	if err := json.Unmarshal(data, &joined); err == nil {
		*s = strings.Fields(joined)
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("scopes must be a string or a list of strings: %w", err)
	}
	*s = list
	return nil
}

func (s scopeClaim) set() map[string]struct{} {
	out := make(map[string]struct{}, len(s))
	for _, scope := range s {
		if scope = strings.TrimSpace(scope); scope != "" {
			out[scope] = struct{}{}
		}
	}
	return out
}

// Parse verifies the token signature, issuer and expiry.
func Parse(token string, cfg Config) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingToken
	}

	var body tokenClaims
	_, err := jwt.ParseWithClaims(token, &body,
		func(*jwt.Token) (any, error) { return []byte(cfg.Secret), nil },
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if body.Subject == "" || body.TenantID == "" {
		return nil, fmt.Errorf("%w: sub and tenant_id are required", ErrInvalidToken)
	}

	return &Claims{
		Subject:   body.Subject,
		TenantID:  body.TenantID,
		Scopes:    body.Scopes.set(),
		ExpiresAt: body.ExpiresAt.Time,
	}, nil
}

// Issue signs a token for subject within tenantID. ergoctl and tests mint credentials with it.
func Issue(cfg Config, subject, tenantID string, scopes []string, ttl time.Duration) (string, error) {
	if subject == "" || tenantID == "" {
		return "", errors.New("subject and tenant are required")
	}
	now := time.Now()
	body := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		TenantID: tenantID,
		Scopes:   scopes,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, body).SignedString([]byte(cfg.Secret))
}

// HasScope reports whether the claims grant scope.
func (c *Claims) HasScope(scope string) bool {
	if c == nil {
		return false
	}
	_, ok := c.Scopes[scope]
	return ok
}

// HasAnyScope reports whether the claims grant at least one of scopes.
func (c *Claims) HasAnyScope(scopes ...string) bool {
	return slices.ContainsFunc(scopes, c.HasScope)
}

// ScopeList returns the granted scopes sorted.
func (c *Claims) ScopeList() []string {
	if c == nil {
		return nil
	}
	out := make([]string, 0, len(c.Scopes))
	for s := range c.Scopes {
		out = append(out, s)
	}
	slices.Sort(out)
	return out
}
