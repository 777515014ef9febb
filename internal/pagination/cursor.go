// Package pagination implements opaque keyset cursors for document listings.
package pagination

import (
	"encoding/base64"
	"errors"
	"strings"
	"time"
)

// Cursor marks the position after the last item of the previous page.
// Ordering is (created_at DESC, id DESC), so both fields are needed to
// resume without skipping rows that share a timestamp.
type Cursor struct {
	LastID    string
	Timestamp time.Time
}

var ErrInvalidCursor = errors.New("invalid cursor format")

const cursorSep = "|"

// EncodeCursor serializes a page position into an opaque token.
func EncodeCursor(lastID string, createdAt time.Time) string {
	if lastID == "" {
		return ""
	}
	raw := lastID + cursorSep + createdAt.UTC().Format(time.RFC3339Nano)
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a token produced by EncodeCursor. An empty token
// decodes to a nil cursor, meaning the first page.
func DecodeCursor(token string) (*Cursor, error) {
	if token == "" {
		return nil, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, ErrInvalidCursor
	}

	id, ts, ok := strings.Cut(string(decoded), cursorSep)
	if !ok || id == "" {
		return nil, ErrInvalidCursor
	}

	createdAt, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, ErrInvalidCursor
	}

	return &Cursor{LastID: id, Timestamp: createdAt}, nil
}
