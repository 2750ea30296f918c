// Package export renders channel transcripts as downloadable PDFs.
package export

import (
	"errors"
	"time"
)

// Transcript is a fully resolved channel history, oldest message first.
type Transcript struct {
	WorkspaceName string
	ChannelName   string
	GeneratedAt   time.Time
	Entries       []Entry
}

// Entry is one message in the transcript. Reactions are pre-rendered
// strings like "👍 2"; replies are counted, not inlined.
type Entry struct {
	Author     string
	Body       string
	SentAt     time.Time
	Edited     bool
	Reactions  []string
	ReplyCount int
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
var ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
