// Package persistence contains helpers shared by repository implementations.
package persistence

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"example.com/ergorisk/internal/domain"
)

// ErrInvalidCursor is returned for tokens that were not produced by EncodeCursor. Assessment
// ids are UUIDs, so a token carrying anything else is rejected here.
var ErrInvalidCursor = errors.New("invalid cursor")

// EncodeCursor renders the keyset position as a URL-safe token, so clients can pass it
// back in a query string without escaping.
func EncodeCursor(c *domain.Cursor) string {
	if c == nil {
		return ""
	}
	raw := strconv.FormatInt(c.CapturedAt.UnixNano(), 10) + "|" + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a token from EncodeCursor. A blank token means the first page.
func DecodeCursor(token string) (*domain.Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(token, "="))
	if err != nil {
		return nil, ErrInvalidCursor
	}
	nanos, id, ok := strings.Cut(string(decoded), "|")
	if !ok || uuid.Validate(id) != nil {
		return nil, ErrInvalidCursor
	}
	ts, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	return &domain.Cursor{CapturedAt: time.Unix(0, ts).UTC(), ID: id}, nil
}
