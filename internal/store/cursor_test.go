package store

import (
	"errors"
	"testing"
	"time"
)

func TestCursorRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 26, 53, 589000, time.UTC)
	raw := EncodeCursor(at, "msg_abc")
	cursor, err := DecodeCursor(raw)
	if err != nil {
		t.Fatalf("DecodeCursor() error = %v", err)
	}
	if cursor.ID != "msg_abc" {
		t.Fatalf("cursor id = %q", cursor.ID)
	}
	if !cursor.CreatedAt().Equal(at) {
		t.Fatalf("cursor time = %v, want %v", cursor.CreatedAt(), at)
	}
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"", "not-base64!", "bm90LWpzb24", "e30"} {
		if _, err := DecodeCursor(raw); !errors.Is(err, ErrBadCursor) {
			t.Errorf("DecodeCursor(%q) error = %v, want ErrBadCursor", raw, err)
		}
	}
}
