package store

import (
	"database/sql"
	"strings"
	"testing"
	"time"
)

type fakeRow func(dest ...any) error

func (f fakeRow) Scan(dest ...any) error { return f(dest...) }

func messageRow(refsRaw string) fakeRow {
	return func(dest ...any) error {
		*(dest[0].(*string)) = "msg_1"
		*(dest[1].(*string)) = "ws_1"
		*(dest[2].(*string)) = "mem_1"
		*(dest[3].(*string)) = "hello"
		*(dest[4].(*sql.NullString)) = sql.NullString{}
		*(dest[5].(*[]byte)) = []byte(refsRaw)
		*(dest[6].(*sql.NullString)) = sql.NullString{String: "ch_1", Valid: true}
		*(dest[7].(*sql.NullString)) = sql.NullString{}
		*(dest[8].(*sql.NullString)) = sql.NullString{}
		*(dest[9].(*time.Time)) = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
		*(dest[10].(*sql.NullTime)) = sql.NullTime{}
		return nil
	}
}

func TestScanMessageRowDecodesAttachmentRefs(t *testing.T) {
	message, err := scanMessageRow(messageRow(`["ref_a","ref_b"]`))
	if err != nil {
		t.Fatalf("scanMessageRow() error = %v", err)
	}
	if len(message.AttachmentRefs) != 2 || message.AttachmentRefs[0] != "ref_a" {
		t.Fatalf("attachment refs = %v, want [ref_a ref_b]", message.AttachmentRefs)
	}
	if message.Context.ChannelID == nil || *message.Context.ChannelID != "ch_1" {
		t.Fatalf("channel leg = %v, want ch_1", message.Context.ChannelID)
	}
}

func TestScanMessageRowRejectsCorruptAttachmentRefs(t *testing.T) {
	_, err := scanMessageRow(messageRow(`{not json`))
	if err == nil || !strings.Contains(err.Error(), "decode attachment refs") {
		t.Fatalf("scanMessageRow() err = %v, want decode attachment refs error", err)
	}
}
