package store

import "time"

type Principal struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Image        *string
	CreatedAt    time.Time
}

type Workspace struct {
	ID            string
	Name          string
	OwnerMemberID string
	InviteCode    string
	CreatedAt     time.Time
}

type Member struct {
	ID          string
	WorkspaceID string
	PrincipalID string
	Role        string
	CreatedAt   time.Time
}

// MemberProfile is a member joined with its principal's display fields.
type MemberProfile struct {
	Member
	Name  string
	Image *string
}

type Channel struct {
	ID          string
	WorkspaceID string
	Name        string
	CreatedAt   time.Time
}

// Conversation is a two-party direct-message context. The member pair is
// unordered: lookups check both orderings so only one row ever exists.
type Conversation struct {
	ID          string
	WorkspaceID string
	MemberOneID string
	MemberTwoID string
	CreatedAt   time.Time
}

// MessageContext is the composite context key of a message. Each leg is
// either present with a value or explicitly absent (nil); absence is matched
// as absence in range scans, never as a wildcard.
type MessageContext struct {
	ChannelID      *string
	ParentID       *string
	ConversationID *string
}

type Message struct {
	ID             string
	WorkspaceID    string
	MemberID       string
	Body           string
	ImageRef       *string
	AttachmentRefs []string
	Context        MessageContext
	CreatedAt      time.Time
	UpdatedAt      *time.Time
}

type Reaction struct {
	ID          string
	MessageID   string
	MemberID    string
	WorkspaceID string
	Value       string
	CreatedAt   time.Time
}

// ThreadAggregate summarizes the replies under one parent message. The last
// reply is the one with the greatest insertion order (created_at, then id),
// not the largest client-supplied timestamp.
type ThreadAggregate struct {
	ParentID          string
	ReplyCount        int
	LastReplyAt       time.Time
	LastReplyMemberID string
}
