package pagination

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Cursor is the keyset position carried by a page token: rows with id > AfterID come next.
type Cursor struct {
	AfterID int64 `json:"afterId,omitempty"`
}

func (c Cursor) IsZero() bool { return c.AfterID == 0 }

// EncodeToken renders the cursor as an opaque URL-safe token. The first page has no token.
func EncodeToken(cursor Cursor) (string, error) {
	if cursor.IsZero() {
		return "", nil
	}
	raw, err := json.Marshal(cursor)
	if err != nil {
		return "", fmt.Errorf("pagination: encode token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodeToken reverses EncodeToken. Every failure wraps ErrInvalidPageToken.
func DecodeToken(token string) (Cursor, error) {
	var cursor Cursor
	token = strings.TrimSpace(token)
	if token == "" {
		return cursor, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err == nil {
		err = json.Unmarshal(raw, &cursor)
	}
	switch {
	case err != nil:
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	case cursor.AfterID < 0:
		return Cursor{}, fmt.Errorf("%w: negative cursor", ErrInvalidPageToken)
	}
	return cursor, nil
}

// NextToken returns the token after lastID, or "" when the page came back short.
func NextToken(lastID int64, returned, pageSize int) string {
	if returned < pageSize || lastID <= 0 {
		return ""
	}
	token, _ := EncodeToken(Cursor{AfterID: lastID})
	return token
}
