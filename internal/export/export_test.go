package export

import (
	"strings"
	"testing"
	"time"
)

func TestRenderTranscriptHTMLEscapesContent(t *testing.T) {
	transcript := Transcript{
		WorkspaceName: "Acme",
		ChannelName:   "general",
		GeneratedAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Entries: []Entry{
			{Author: "Avery", Body: "<script>alert(1)</script>", SentAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
			{Author: "Blake", Body: "second", SentAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), Edited: true, Reactions: []string{"👍 2"}, ReplyCount: 3},
		},
	}

	html, err := RenderTranscriptHTML(transcript)
	if err != nil {
		t.Fatalf("RenderTranscriptHTML() error = %v", err)
	}
	if strings.Contains(html, "<script>alert(1)</script>") {
		t.Fatal("message body not escaped")
	}
	if !strings.Contains(html, "&lt;script&gt;") {
		t.Fatal("escaped body missing from output")
	}
	if strings.Index(html, "Avery") > strings.Index(html, "Blake") {
		t.Fatal("entries rendered out of order")
	}
	if !strings.Contains(html, "👍 2") {
		t.Fatal("reaction chip missing")
	}
	if !strings.Contains(html, "3 replies in thread") {
		t.Fatal("reply count missing")
	}
	if !strings.Contains(html, "(edited)") {
		t.Fatal("edited marker missing")
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"general":            "general",
		"team updates":       "team-updates",
		"weird/../name":      "weirdname",
		"":                   "transcript",
		"###":                "transcript",
	}
	for input, want := range cases {
		if got := sanitizeFilename(input); got != want {
			t.Fatalf("sanitizeFilename(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	if got := percentEncodeForDataURL("a b"); got != "a%20b" {
		t.Fatalf("space encoded as %q, want a%%20b", got)
	}
	if got := percentEncodeForDataURL("safe-._~"); got != "safe-._~" {
		t.Fatalf("unreserved characters mangled: %q", got)
	}
	if got := percentEncodeForDataURL("<"); got != "%3C" {
		t.Fatalf("reserved character encoded as %q, want %%3C", got)
	}
}
