// Package search maintains a full-text index of message bodies.
package search

// Result is a single search hit returned to the caller.
type Result struct {
	MessageID      string `json:"messageId"`
	WorkspaceID    string `json:"workspaceId"`
	ChannelID      string `json:"channelId,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	Snippet        string `json:"snippet"`
}

// Query describes a search request, always scoped to one workspace.
type Query struct {
	WorkspaceID string
	Text        string
	Limit       int
	Offset      int
}

// MessageRecord is the data we index per message. Body is the opaque
// rich-text payload; the index treats it as plain text.
type MessageRecord struct {
	ID             string `json:"id"`
	WorkspaceID    string `json:"workspaceId"`
	ChannelID      string `json:"channelId,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	Body           string `json:"body"`
}

// Index can push messages into the search index and query them back.
// A nil Index disables search entirely.
type Index interface {
	IndexMessage(record MessageRecord) error
	DeleteMessage(id string) error
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}
