package pagination

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EncodeToken serialises the provided cursor into a base64 URL-safe page token.
func EncodeToken(cursor Cursor) (string, error) {
	if len(cursor.StartAfter) == 0 && len(cursor.StartAt) == 0 {
		return "", nil
	}
	data, err := json.Marshal(cursor)
	if err != nil {
		return "", fmt.Errorf("pagination: encode token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeToken parses the page token produced by EncodeToken back into a cursor.
func DecodeToken(token string) (Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Cursor{}, nil
	}
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	var cursor Cursor
	if err := json.Unmarshal(decoded, &cursor); err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	return cursor, nil
}

// EncodeKeyset builds a token resuming after the row ordered at (at, id).
func EncodeKeyset(at time.Time, id string) (string, error) {
	return EncodeToken(Cursor{StartAfter: []any{at.UTC().Format(time.RFC3339Nano), id}})
}

// DecodeKeyset reverses EncodeKeyset. ok is false for an empty token.
func DecodeKeyset(token string) (at time.Time, id string, ok bool, err error) {
	cursor, err := DecodeToken(token)
	if err != nil {
		return time.Time{}, "", false, err
	}
	if len(cursor.StartAfter) == 0 && len(cursor.StartAt) == 0 {
		return time.Time{}, "", false, nil
	}
	if len(cursor.StartAfter) != 2 {
		return time.Time{}, "", false, fmt.Errorf("%w: unexpected cursor shape", ErrInvalidPageToken)
	}
	rawAt, okAt := cursor.StartAfter[0].(string)
	id, okID := cursor.StartAfter[1].(string)
	if !okAt || !okID || id == "" {
		return time.Time{}, "", false, fmt.Errorf("%w: unexpected cursor values", ErrInvalidPageToken)
	}
	at, err = time.Parse(time.RFC3339Nano, rawAt)
	if err != nil {
		return time.Time{}, "", false, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	return at, id, true, nil
}
