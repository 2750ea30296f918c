package store

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"
)

// ErrBadCursor marks a continuation token the server did not issue.
var ErrBadCursor = errors.New("malformed cursor")

// Cursor is a keyset pagination token: the insertion timestamp and id of the
// last delivered message. Inserts at the head never shift pages already
// delivered under an outstanding cursor.
type Cursor struct {
	CreatedAtMicro int64  `json:"t"`
	ID             string `json:"id"`
}

func (c Cursor) CreatedAt() time.Time {
	return time.UnixMicro(c.CreatedAtMicro).UTC()
}

func EncodeCursor(createdAt time.Time, id string) string {
	payload, _ := json.Marshal(Cursor{CreatedAtMicro: createdAt.UnixMicro(), ID: id})
	return base64.RawURLEncoding.EncodeToString(payload)
}

func DecodeCursor(raw string) (Cursor, error) {
	decoded, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return Cursor{}, ErrBadCursor
	}
	var cursor Cursor
	if err := json.Unmarshal(decoded, &cursor); err != nil {
		return Cursor{}, ErrBadCursor
	}
	if cursor.CreatedAtMicro <= 0 || cursor.ID == "" {
		return Cursor{}, ErrBadCursor
	}
	return cursor, nil
}
