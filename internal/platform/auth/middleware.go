package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// Skipper reports whether a request bypasses authentication.
type Skipper func(r *http.Request) bool

// SkipPaths matches exact request paths.
func SkipPaths(paths ...string) Skipper {
	public := make(map[string]bool, len(paths))
	for _, p := range paths {
		public[p] = true
	}
	return func(r *http.Request) bool { return public[r.URL.Path] }
}

// Middleware rejects requests without a valid bearer token and stores the claims of those that
// carry one. CORS preflights always pass.
type Middleware struct {
	Config  Config
	Skipper Skipper
}

func NewMiddleware(cfg Config, skipper Skipper) Middleware {
	return Middleware{Config: cfg, Skipper: skipper}
}

func (m Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || (m.Skipper != nil && m.Skipper(r)) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := bearerToken(r.Header.Get("Authorization"))
		var claims *Claims
		if err == nil {
			claims, err = Parse(token, m.Config)
		}
		if err != nil {
			rejectUnauthorized(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrMissingToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", ErrInvalidToken
	}
	return token, nil
}

// rejectUnauthorized hides parser details from the client.
func rejectUnauthorized(w http.ResponseWriter, err error) {
	detail := ErrInvalidToken.Error()
	if errors.Is(err, ErrMissingToken) {
		detail = ErrMissingToken.Error()
	}
	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("WWW-Authenticate", `Bearer realm="ergorisk", error="invalid_token"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"type": "unauthorized", "detail": detail})
}
