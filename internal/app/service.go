package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"huddle/api/internal/activity"
	"huddle/api/internal/auth"
	"huddle/api/internal/authpw"
	"huddle/api/internal/blob"
	"huddle/api/internal/config"
	"huddle/api/internal/email"
	"huddle/api/internal/export"
	"huddle/api/internal/rbac"
	"huddle/api/internal/search"
	"huddle/api/internal/store"
	"huddle/api/internal/util"

	"golang.org/x/sync/errgroup"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
	cascadeBatchSize = 500
)

type Session struct {
	Token       string
	PrincipalID string
	Name        string
	ExpiresAt   time.Time
}

type AuthorView struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Image *string `json:"image,omitempty"`
}

type Attachment struct {
	Ref string  `json:"ref"`
	URL *string `json:"url"`
}

type MessageView struct {
	ID                    string         `json:"id"`
	Body                  string         `json:"body"`
	Attachments           []Attachment   `json:"attachments"`
	Author                AuthorView     `json:"author"`
	ChannelID             *string        `json:"channelId,omitempty"`
	ConversationID        *string        `json:"conversationId,omitempty"`
	ParentID              *string        `json:"parentMessageId,omitempty"`
	CreatedAt             time.Time      `json:"createdAt"`
	UpdatedAt             *time.Time     `json:"updatedAt,omitempty"`
	Reactions             []ReactionView `json:"reactions"`
	ThreadCount           int            `json:"threadCount"`
	ThreadLastReplyAt     *time.Time     `json:"threadLastReplyAt,omitempty"`
	ThreadLastReplyAuthor *AuthorView    `json:"threadLastReplyAuthor,omitempty"`
}

// PageRequest selects a message context to read. Each leg is either present
// or explicitly absent; absence is matched as absence by the store scan.
type PageRequest struct {
	WorkspaceID    string
	ChannelID      *string
	ConversationID *string
	ParentID       *string
	Cursor         string
	Limit          int
}

type PageResult struct {
	Items      []MessageView `json:"items"`
	NextCursor string        `json:"nextCursor,omitempty"`
	IsDone     bool          `json:"isDone"`
}

// ThreadPreview summarizes one parent message with at least one reply.
type ThreadPreview struct {
	ParentID       string     `json:"parentMessageId"`
	ParentBody     string     `json:"parentBody"`
	ChannelID      *string    `json:"channelId,omitempty"`
	ConversationID *string    `json:"conversationId,omitempty"`
	ReplyCount     int        `json:"replyCount"`
	LastReplyAt    time.Time  `json:"lastReplyAt"`
	LastReplyBy    AuthorView `json:"lastReplyBy"`
}

type CreateMessageInput struct {
	WorkspaceID    string
	ChannelID      *string
	ConversationID *string
	ParentID       *string
	Body           string
	ImageRef       *string
	AttachmentRefs []string
}

type UpdateMessageInput struct {
	Body           string
	ImageRef       *string
	AttachmentRefs []string
}

type dataStore interface {
	InsertPrincipal(context.Context, store.Principal) error
	GetPrincipalByEmail(context.Context, string) (store.Principal, error)
	GetPrincipalByID(context.Context, string) (store.Principal, error)

	InsertWorkspace(context.Context, store.Workspace) error
	SetWorkspaceOwner(context.Context, string, string) error
	GetWorkspace(context.Context, string) (store.Workspace, error)
	GetWorkspaceByInviteCode(context.Context, string) (store.Workspace, error)
	ListWorkspacesForPrincipal(context.Context, string) ([]store.Workspace, error)
	UpdateWorkspaceInviteCode(context.Context, string, string) error
	DeleteWorkspace(context.Context, string) error

	InsertMember(context.Context, store.Member) error
	GetMemberByPrincipal(context.Context, string, string) (store.Member, error)
	GetMemberProfile(context.Context, string) (store.MemberProfile, error)
	ListMemberProfiles(context.Context, string) ([]store.MemberProfile, error)

	InsertChannel(context.Context, store.Channel) error
	GetChannel(context.Context, string) (store.Channel, error)
	ListChannels(context.Context, string) ([]store.Channel, error)
	RenameChannel(context.Context, string, string) (bool, error)
	DeleteChannel(context.Context, string) (bool, error)
	DeleteChannelMessages(context.Context, string, int) (int64, error)

	GetConversationForMembers(context.Context, string, string, string) (store.Conversation, error)
	InsertConversation(context.Context, store.Conversation) error
	GetConversation(context.Context, string) (store.Conversation, error)

	InsertMessage(context.Context, store.Message) error
	GetMessage(context.Context, string) (store.Message, error)
	UpdateMessage(context.Context, string, string, *string, []string) error
	DeleteMessage(context.Context, string) error
	ListMessagePage(context.Context, store.MessageContext, *store.Cursor, int) ([]store.Message, error)
	GetThreadAggregate(context.Context, string) (store.ThreadAggregate, error)
	ListThreadAggregates(context.Context, string) ([]store.ThreadAggregate, error)

	ToggleReaction(context.Context, store.Reaction) (bool, error)
	ListReactions(context.Context, string) ([]store.Reaction, error)

	Ping(ctx context.Context) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	identity *authpw.Service
	blobs    blob.Resolver
	activity activity.Sink
	search   search.Index
	mailer   *email.Service
}

func New(cfg config.Config, dataStore *store.PostgresStore, identity *authpw.Service, blobs blob.Resolver, sink activity.Sink, searchIndex search.Index, mailer *email.Service) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		identity: identity,
		blobs:    blobs,
		activity: sink,
		search:   searchIndex,
		mailer:   mailer,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ---- sessions ----

func (s *Service) SignUp(ctx context.Context, email, password, name string) (Session, error) {
	principal, err := s.identity.SignUp(ctx, authpw.SignUpRequest{Email: email, Password: password, Name: name})
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(principal)
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	principal, err := s.identity.SignIn(ctx, email, password)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(principal)
}

func (s *Service) issueSession(principal store.Principal) (Session, error) {
	expiresAt := time.Now().Add(s.cfg.AccessTTL)
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  principal.ID,
		Name: principal.Name,
		JTI:  util.NewID("jti"),
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:       token,
		PrincipalID: principal.ID,
		Name:        principal.Name,
		ExpiresAt:   expiresAt,
	}, nil
}

// PrincipalFromToken resolves the authenticated principal id. Every service
// operation takes that id explicitly; there is no ambient caller state.
func (s *Service) PrincipalFromToken(token string) (string, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return "", err
	}
	return claims.Sub, nil
}

// ---- membership gate ----

// resolveMember authorizes a principal against a workspace. Every read and
// write in the core passes through here before touching message rows; no
// caching, lookups are cheap in the backing store.
func (s *Service) resolveMember(ctx context.Context, workspaceID, principalID string) (store.Member, error) {
	member, err := s.store.GetMemberByPrincipal(ctx, workspaceID, principalID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Member{}, unauthorizedError("not a member of this workspace")
	}
	if err != nil {
		return store.Member{}, err
	}
	return member, nil
}

func (s *Service) requireRole(member store.Member, action rbac.Action) error {
	if !rbac.Can(rbac.Normalize(member.Role), action) {
		return unauthorizedError("insufficient role")
	}
	return nil
}

// ---- workspaces ----

func (s *Service) CreateWorkspace(ctx context.Context, principalID, name string) (store.Workspace, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Workspace{}, validationError("name is required")
	}

	workspace := store.Workspace{
		ID:         util.NewID("ws"),
		Name:       name,
		InviteCode: util.NewInviteCode(),
	}
	if err := s.store.InsertWorkspace(ctx, workspace); err != nil {
		return store.Workspace{}, err
	}

	owner := store.Member{
		ID:          util.NewID("mem"),
		WorkspaceID: workspace.ID,
		PrincipalID: principalID,
		Role:        string(rbac.RoleAdmin),
	}
	if err := s.store.InsertMember(ctx, owner); err != nil {
		return store.Workspace{}, err
	}
	if err := s.store.SetWorkspaceOwner(ctx, workspace.ID, owner.ID); err != nil {
		return store.Workspace{}, err
	}
	workspace.OwnerMemberID = owner.ID

	// Every workspace starts with a default channel.
	if err := s.store.InsertChannel(ctx, store.Channel{
		ID:          util.NewID("ch"),
		WorkspaceID: workspace.ID,
		Name:        "general",
	}); err != nil {
		return store.Workspace{}, err
	}

	return workspace, nil
}

func (s *Service) JoinWorkspace(ctx context.Context, principalID, inviteCode string) (store.Member, error) {
	workspace, err := s.store.GetWorkspaceByInviteCode(ctx, strings.TrimSpace(inviteCode))
	if errors.Is(err, sql.ErrNoRows) {
		return store.Member{}, notFoundError("invalid invite code")
	}
	if err != nil {
		return store.Member{}, err
	}

	if existing, err := s.store.GetMemberByPrincipal(ctx, workspace.ID, principalID); err == nil {
		return existing, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return store.Member{}, err
	}

	member := store.Member{
		ID:          util.NewID("mem"),
		WorkspaceID: workspace.ID,
		PrincipalID: principalID,
		Role:        string(rbac.RoleMember),
	}
	if err := s.store.InsertMember(ctx, member); err != nil {
		return store.Member{}, err
	}
	return member, nil
}

func (s *Service) RotateInviteCode(ctx context.Context, principalID, workspaceID string) (string, error) {
	member, err := s.resolveMember(ctx, workspaceID, principalID)
	if err != nil {
		return "", err
	}
	if err := s.requireRole(member, rbac.ActionManage); err != nil {
		return "", err
	}
	code := util.NewInviteCode()
	if err := s.store.UpdateWorkspaceInviteCode(ctx, workspaceID, code); err != nil {
		return "", err
	}
	return code, nil
}

// SendWorkspaceInvite mails the current invite code to one address. Any
// member may invite; only admins can rotate the code afterwards.
func (s *Service) SendWorkspaceInvite(ctx context.Context, principalID, workspaceID, address string) error {
	if _, err := s.resolveMember(ctx, workspaceID, principalID); err != nil {
		return err
	}
	address = strings.TrimSpace(address)
	if address == "" || !strings.Contains(address, "@") {
		return validationError("a valid email address is required")
	}
	if s.mailer == nil || !s.mailer.IsConfigured() {
		return domainError(503, "EMAIL_UNAVAILABLE", "Email is not configured", nil)
	}

	workspace, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return err
	}
	inviter, err := s.store.GetPrincipalByID(ctx, principalID)
	if err != nil {
		return err
	}
	if err := s.mailer.SendInviteEmail(address, inviter.Name, workspace.Name, workspace.InviteCode); err != nil {
		return fmt.Errorf("send invite: %w", err)
	}
	return nil
}

func (s *Service) ListWorkspaces(ctx context.Context, principalID string) ([]store.Workspace, error) {
	return s.store.ListWorkspacesForPrincipal(ctx, principalID)
}

func (s *Service) GetWorkspace(ctx context.Context, principalID, workspaceID string) (store.Workspace, error) {
	if _, err := s.resolveMember(ctx, workspaceID, principalID); err != nil {
		return store.Workspace{}, err
	}
	return s.store.GetWorkspace(ctx, workspaceID)
}

// DeleteWorkspace removes the workspace; members, channels, conversations,
// messages, and reactions go with it via the schema's cascades.
func (s *Service) DeleteWorkspace(ctx context.Context, principalID, workspaceID string) error {
	member, err := s.resolveMember(ctx, workspaceID, principalID)
	if err != nil {
		return err
	}
	if err := s.requireRole(member, rbac.ActionManage); err != nil {
		return err
	}
	return s.store.DeleteWorkspace(ctx, workspaceID)
}

func (s *Service) ListMembers(ctx context.Context, principalID, workspaceID string) ([]store.MemberProfile, error) {
	if _, err := s.resolveMember(ctx, workspaceID, principalID); err != nil {
		return nil, err
	}
	return s.store.ListMemberProfiles(ctx, workspaceID)
}

func (s *Service) CurrentMember(ctx context.Context, principalID, workspaceID string) (store.Member, error) {
	return s.resolveMember(ctx, workspaceID, principalID)
}

// ---- channels ----

func slugifyChannelName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), "-"))
}

func (s *Service) CreateChannel(ctx context.Context, principalID, workspaceID, name string) (store.Channel, error) {
	member, err := s.resolveMember(ctx, workspaceID, principalID)
	if err != nil {
		return store.Channel{}, err
	}
	if err := s.requireRole(member, rbac.ActionManage); err != nil {
		return store.Channel{}, err
	}
	slug := slugifyChannelName(name)
	if slug == "" {
		return store.Channel{}, validationError("name is required")
	}
	channel := store.Channel{
		ID:          util.NewID("ch"),
		WorkspaceID: workspaceID,
		Name:        slug,
	}
	if err := s.store.InsertChannel(ctx, channel); err != nil {
		return store.Channel{}, err
	}
	return channel, nil
}

func (s *Service) ListChannels(ctx context.Context, principalID, workspaceID string) ([]store.Channel, error) {
	if _, err := s.resolveMember(ctx, workspaceID, principalID); err != nil {
		return nil, err
	}
	return s.store.ListChannels(ctx, workspaceID)
}

func (s *Service) RenameChannel(ctx context.Context, principalID, channelID, name string) (store.Channel, error) {
	channel, err := s.store.GetChannel(ctx, channelID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Channel{}, notFoundError("channel not found")
	}
	if err != nil {
		return store.Channel{}, err
	}
	member, err := s.resolveMember(ctx, channel.WorkspaceID, principalID)
	if err != nil {
		return store.Channel{}, err
	}
	if err := s.requireRole(member, rbac.ActionManage); err != nil {
		return store.Channel{}, err
	}
	slug := slugifyChannelName(name)
	if slug == "" {
		return store.Channel{}, validationError("name is required")
	}
	if _, err := s.store.RenameChannel(ctx, channelID, slug); err != nil {
		return store.Channel{}, err
	}
	channel.Name = slug
	return channel, nil
}

// DeleteChannel removes the channel and cascades over its messages in
// batches. The cascade is not atomic as a whole: a crash mid-way leaves a
// partially deleted channel, and re-invoking the delete completes the
// remainder without erroring. Reactions on the deleted messages are left in
// place (observed legacy behavior, kept pending product clarification).
func (s *Service) DeleteChannel(ctx context.Context, principalID, channelID string) error {
	channel, err := s.store.GetChannel(ctx, channelID)
	if errors.Is(err, sql.ErrNoRows) {
		return notFoundError("channel not found")
	}
	if err != nil {
		return err
	}
	member, err := s.resolveMember(ctx, channel.WorkspaceID, principalID)
	if err != nil {
		return err
	}
	if err := s.requireRole(member, rbac.ActionManage); err != nil {
		return err
	}

	for {
		deleted, err := s.store.DeleteChannelMessages(ctx, channelID, cascadeBatchSize)
		if err != nil {
			return err
		}
		if deleted == 0 {
			break
		}
	}

	if _, err := s.store.DeleteChannel(ctx, channelID); err != nil {
		return err
	}
	return nil
}

// ExportChannelTranscript resolves the channel's full history and renders
// it as a PDF. Pages are drained through the same keyed scan the feed uses;
// messages from orphaned authors are skipped the same way the feed drops
// them.
func (s *Service) ExportChannelTranscript(ctx context.Context, principalID, channelID string) (*export.Result, error) {
	channel, err := s.store.GetChannel(ctx, channelID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFoundError("channel not found")
	}
	if err != nil {
		return nil, err
	}
	if _, err := s.resolveMember(ctx, channel.WorkspaceID, principalID); err != nil {
		return nil, err
	}
	workspace, err := s.store.GetWorkspace(ctx, channel.WorkspaceID)
	if err != nil {
		return nil, err
	}

	key := store.MessageContext{ChannelID: &channel.ID}
	names := make(map[string]string)
	entries := make([]export.Entry, 0)
	var cursor *store.Cursor
	for {
		page, err := s.store.ListMessagePage(ctx, key, cursor, maxPageLimit)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		for _, message := range page {
			name, ok := names[message.MemberID]
			if !ok {
				profile, err := s.store.GetMemberProfile(ctx, message.MemberID)
				if err != nil && !errors.Is(err, sql.ErrNoRows) {
					return nil, err
				}
				name = profile.Name
				names[message.MemberID] = name
			}
			if name == "" {
				continue
			}
			rows, err := s.store.ListReactions(ctx, message.ID)
			if err != nil {
				return nil, err
			}
			reactions := make([]string, 0, len(rows))
			for _, view := range AggregateReactions(rows) {
				reactions = append(reactions, fmt.Sprintf("%s %d", view.Value, view.Count))
			}
			aggregate, err := s.store.GetThreadAggregate(ctx, message.ID)
			if err != nil {
				return nil, err
			}
			entries = append(entries, export.Entry{
				Author:     name,
				Body:       message.Body,
				SentAt:     message.CreatedAt,
				Edited:     message.UpdatedAt != nil,
				Reactions:  reactions,
				ReplyCount: aggregate.ReplyCount,
			})
		}
		last := page[len(page)-1]
		cursor = &store.Cursor{CreatedAtMicro: last.CreatedAt.UnixMicro(), ID: last.ID}
		if len(page) < maxPageLimit {
			break
		}
	}

	// The scan yields newest first; transcripts read top-down.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}

	result, err := export.Render(export.Transcript{
		WorkspaceName: workspace.Name,
		ChannelName:   channel.Name,
		GeneratedAt:   time.Now().UTC(),
		Entries:       entries,
	})
	if errors.Is(err, export.ErrPDFDependencyMissing) {
		return nil, domainError(503, "EXPORT_UNAVAILABLE", "PDF export is not available", nil)
	}
	return result, err
}

// ---- conversations ----

// GetOrCreateConversation finds the direct conversation between the caller
// and another member, creating it if absent. The pair is unordered: both
// orderings are checked before a new row is inserted.
func (s *Service) GetOrCreateConversation(ctx context.Context, principalID, workspaceID, otherMemberID string) (store.Conversation, error) {
	me, err := s.resolveMember(ctx, workspaceID, principalID)
	if err != nil {
		return store.Conversation{}, err
	}

	other, err := s.store.GetMemberProfile(ctx, otherMemberID)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && other.WorkspaceID != workspaceID) {
		return store.Conversation{}, notFoundError("member not found")
	}
	if err != nil {
		return store.Conversation{}, err
	}

	existing, err := s.store.GetConversationForMembers(ctx, workspaceID, me.ID, otherMemberID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return store.Conversation{}, err
	}

	conversation := store.Conversation{
		ID:          util.NewID("dm"),
		WorkspaceID: workspaceID,
		MemberOneID: me.ID,
		MemberTwoID: otherMemberID,
	}
	if err := s.store.InsertConversation(ctx, conversation); err != nil {
		return store.Conversation{}, err
	}
	return conversation, nil
}

// ---- messages ----

// CreateMessage appends a message under exactly one context selector:
// a channel, a conversation, or a parent message. A parent-only reply
// inherits the parent's conversationId; it never inherits a channelId, so a
// reply inside a channel is located purely via its parentMessageId.
func (s *Service) CreateMessage(ctx context.Context, principalID string, input CreateMessageInput) (MessageView, error) {
	member, err := s.resolveMember(ctx, input.WorkspaceID, principalID)
	if err != nil {
		return MessageView{}, err
	}
	if strings.TrimSpace(input.Body) == "" && input.ImageRef == nil && len(input.AttachmentRefs) == 0 {
		return MessageView{}, validationError("body or attachment is required")
	}

	selectors := 0
	for _, leg := range []*string{input.ChannelID, input.ConversationID, input.ParentID} {
		if leg != nil {
			selectors++
		}
	}
	if selectors != 1 {
		return MessageView{}, validationError("context must be exactly one of channelId, conversationId, or parentMessageId")
	}

	key := store.MessageContext{
		ChannelID:      input.ChannelID,
		ParentID:       input.ParentID,
		ConversationID: input.ConversationID,
	}
	actionType := activity.ActionNewMessage

	switch {
	case input.ChannelID != nil:
		channel, err := s.store.GetChannel(ctx, *input.ChannelID)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && channel.WorkspaceID != input.WorkspaceID) {
			return MessageView{}, notFoundError("channel not found")
		}
		if err != nil {
			return MessageView{}, err
		}
	case input.ConversationID != nil:
		conversation, err := s.store.GetConversation(ctx, *input.ConversationID)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && conversation.WorkspaceID != input.WorkspaceID) {
			return MessageView{}, notFoundError("conversation not found")
		}
		if err != nil {
			return MessageView{}, err
		}
	case input.ParentID != nil:
		parent, err := s.store.GetMessage(ctx, *input.ParentID)
		if errors.Is(err, sql.ErrNoRows) {
			return MessageView{}, notFoundError("parent message not found")
		}
		if err != nil {
			return MessageView{}, err
		}
		actionType = activity.ActionReply
		// Conversation context is inherited from the parent; channel context
		// is not. A reply to a channel message keeps channel_id NULL.
		key.ConversationID = parent.Context.ConversationID
	}

	message := store.Message{
		ID:             util.NewID("msg"),
		WorkspaceID:    input.WorkspaceID,
		MemberID:       member.ID,
		Body:           input.Body,
		ImageRef:       input.ImageRef,
		AttachmentRefs: input.AttachmentRefs,
		Context:        key,
	}
	if err := s.store.InsertMessage(ctx, message); err != nil {
		return MessageView{}, err
	}

	stored, err := s.store.GetMessage(ctx, message.ID)
	if err != nil {
		return MessageView{}, err
	}

	s.emitActivity(ctx, actionType, stored, member.ID)
	s.indexMessage(stored)

	view, err := s.buildMessageView(ctx, stored)
	if err != nil {
		return MessageView{}, err
	}
	if view == nil {
		return MessageView{}, notFoundError("message not found")
	}
	return *view, nil
}

// UpdateMessage patches body and attachments. Only the author may patch, and
// only those fields: the context key set at creation is immutable. The store
// stamps updated_at, and it is never un-set afterwards.
func (s *Service) UpdateMessage(ctx context.Context, principalID, messageID string, input UpdateMessageInput) error {
	message, err := s.store.GetMessage(ctx, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return notFoundError("message not found")
	}
	if err != nil {
		return err
	}
	member, err := s.resolveMember(ctx, message.WorkspaceID, principalID)
	if err != nil {
		return err
	}
	if member.ID != message.MemberID {
		return unauthorizedError("only the author can edit a message")
	}
	if err := s.store.UpdateMessage(ctx, messageID, input.Body, input.ImageRef, input.AttachmentRefs); err != nil {
		return err
	}

	message.Body = input.Body
	s.indexMessage(message)
	return nil
}

// DeleteMessage hard-deletes the row, no tombstone. Blob deletes are
// best-effort: a failing blob store never blocks the row delete.
func (s *Service) DeleteMessage(ctx context.Context, principalID, messageID string) error {
	message, err := s.store.GetMessage(ctx, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return notFoundError("message not found")
	}
	if err != nil {
		return err
	}
	member, err := s.resolveMember(ctx, message.WorkspaceID, principalID)
	if err != nil {
		return err
	}
	if member.ID != message.MemberID {
		return unauthorizedError("only the author can delete a message")
	}
	if err := s.store.DeleteMessage(ctx, messageID); err != nil {
		return err
	}

	if s.blobs != nil {
		refs := append([]string{}, message.AttachmentRefs...)
		if message.ImageRef != nil {
			refs = append(refs, *message.ImageRef)
		}
		for _, ref := range refs {
			if err := s.blobs.Delete(ctx, ref); err != nil {
				log.Printf("blob: delete %s: %v", ref, err)
			}
		}
	}
	if s.search != nil {
		if err := s.search.DeleteMessage(messageID); err != nil {
			log.Printf("search: delete message %s: %v", messageID, err)
		}
	}
	return nil
}

func (s *Service) ToggleReaction(ctx context.Context, principalID, messageID, value string) (bool, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return false, validationError("value is required")
	}
	message, err := s.store.GetMessage(ctx, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, notFoundError("message not found")
	}
	if err != nil {
		return false, err
	}
	member, err := s.resolveMember(ctx, message.WorkspaceID, principalID)
	if err != nil {
		return false, err
	}

	added, err := s.store.ToggleReaction(ctx, store.Reaction{
		ID:          util.NewID("rct"),
		MessageID:   messageID,
		MemberID:    member.ID,
		WorkspaceID: message.WorkspaceID,
		Value:       value,
	})
	if err != nil {
		return false, err
	}
	if added {
		s.emitActivity(ctx, activity.ActionReaction, message, member.ID)
	}
	return added, nil
}

// ---- query composer ----

// GetMessagePage fetches one page of the denormalized feed. The membership
// gate runs before any message row is read; per-item resolution fans out
// concurrently but the final order always follows the store's ordering.
func (s *Service) GetMessagePage(ctx context.Context, principalID string, req PageRequest) (PageResult, error) {
	if _, err := s.resolveMember(ctx, req.WorkspaceID, principalID); err != nil {
		return PageResult{}, err
	}

	key := store.MessageContext{
		ChannelID:      req.ChannelID,
		ParentID:       req.ParentID,
		ConversationID: req.ConversationID,
	}
	if key.ChannelID == nil && key.ConversationID == nil && key.ParentID == nil {
		return PageResult{}, validationError("one of channelId, conversationId, or parentMessageId is required")
	}

	// Each requested leg must belong to the gated workspace; a leg from a
	// foreign workspace reads as not-found, same as on create.
	if key.ChannelID != nil {
		channel, err := s.store.GetChannel(ctx, *key.ChannelID)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && channel.WorkspaceID != req.WorkspaceID) {
			return PageResult{}, notFoundError("channel not found")
		}
		if err != nil {
			return PageResult{}, err
		}
	}
	if key.ConversationID != nil {
		conversation, err := s.store.GetConversation(ctx, *key.ConversationID)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && conversation.WorkspaceID != req.WorkspaceID) {
			return PageResult{}, notFoundError("conversation not found")
		}
		if err != nil {
			return PageResult{}, err
		}
	}
	if key.ParentID != nil {
		parent, err := s.store.GetMessage(ctx, *key.ParentID)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && parent.WorkspaceID != req.WorkspaceID) {
			return PageResult{}, notFoundError("parent message not found")
		}
		if err != nil {
			return PageResult{}, err
		}
		// Thread replies to conversation messages store the conversation id
		// only on the parent; the scan key must inherit it or the page comes
		// back empty.
		if key.ConversationID == nil {
			key.ConversationID = parent.Context.ConversationID
		}
	}

	var cursor *store.Cursor
	if req.Cursor != "" {
		decoded, err := store.DecodeCursor(req.Cursor)
		if err != nil {
			return PageResult{}, validationError("malformed cursor")
		}
		cursor = &decoded
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	messages, err := s.store.ListMessagePage(ctx, key, cursor, limit+1)
	if err != nil {
		return PageResult{}, err
	}
	isDone := len(messages) <= limit
	page := messages
	if !isDone {
		page = messages[:limit]
	}

	views := make([]*MessageView, len(page))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, message := range page {
		group.Go(func() error {
			view, err := s.buildMessageView(groupCtx, message)
			if err != nil {
				return err
			}
			views[i] = view
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return PageResult{}, err
	}

	items := make([]MessageView, 0, len(views))
	for _, view := range views {
		if view != nil {
			items = append(items, *view)
		}
	}

	result := PageResult{Items: items, IsDone: isDone}
	if !isDone {
		last := page[len(page)-1]
		result.NextCursor = store.EncodeCursor(last.CreatedAt, last.ID)
	}
	return result, nil
}

// GetMessageByID returns the denormalized view of a single message, or nil
// when the message is gone, its author is orphaned, or the caller holds no
// membership in its workspace.
func (s *Service) GetMessageByID(ctx context.Context, principalID, messageID string) (*MessageView, error) {
	message, err := s.store.GetMessage(ctx, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if _, err := s.store.GetMemberByPrincipal(ctx, message.WorkspaceID, principalID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s.buildMessageView(ctx, message)
}

// GetThreadSummaries lists the workspace's parent messages that have at
// least one reply, newest last reply first.
func (s *Service) GetThreadSummaries(ctx context.Context, principalID, workspaceID string) ([]ThreadPreview, error) {
	if _, err := s.resolveMember(ctx, workspaceID, principalID); err != nil {
		return nil, err
	}

	aggregates, err := s.store.ListThreadAggregates(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	previews := make([]ThreadPreview, 0, len(aggregates))
	for _, aggregate := range aggregates {
		parent, err := s.store.GetMessage(ctx, aggregate.ParentID)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, err
		}
		author, err := s.store.GetMemberProfile(ctx, aggregate.LastReplyMemberID)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, err
		}
		previews = append(previews, ThreadPreview{
			ParentID:       parent.ID,
			ParentBody:     parent.Body,
			ChannelID:      parent.Context.ChannelID,
			ConversationID: parent.Context.ConversationID,
			ReplyCount:     aggregate.ReplyCount,
			LastReplyAt:    aggregate.LastReplyAt,
			LastReplyBy:    AuthorView{ID: author.ID, Name: author.Name, Image: author.Image},
		})
	}
	return previews, nil
}

func (s *Service) SearchMessages(ctx context.Context, principalID, workspaceID, text string, limit, offset int) ([]search.Result, int, error) {
	if _, err := s.resolveMember(ctx, workspaceID, principalID); err != nil {
		return nil, 0, err
	}
	if s.search == nil {
		return nil, 0, domainError(503, "SEARCH_UNAVAILABLE", "Search is not configured", nil)
	}
	return s.search.Search(search.Query{
		WorkspaceID: workspaceID,
		Text:        strings.TrimSpace(text),
		Limit:       limit,
		Offset:      offset,
	})
}

// ---- per-item resolution ----

// buildMessageView resolves author, reactions, thread summary, and
// attachments concurrently for one message. A nil view (with nil error)
// means the author or its principal is gone and the item must be dropped
// rather than failing the page.
func (s *Service) buildMessageView(ctx context.Context, message store.Message) (*MessageView, error) {
	view := &MessageView{
		ID:             message.ID,
		Body:           message.Body,
		ChannelID:      message.Context.ChannelID,
		ConversationID: message.Context.ConversationID,
		ParentID:       message.Context.ParentID,
		CreatedAt:      message.CreatedAt,
		UpdatedAt:      message.UpdatedAt,
	}

	var author *AuthorView
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		profile, err := s.store.GetMemberProfile(groupCtx, message.MemberID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		author = &AuthorView{ID: profile.ID, Name: profile.Name, Image: profile.Image}
		return nil
	})
	group.Go(func() error {
		rows, err := s.store.ListReactions(groupCtx, message.ID)
		if err != nil {
			return err
		}
		view.Reactions = AggregateReactions(rows)
		return nil
	})
	group.Go(func() error {
		count, lastAt, lastAuthor, err := s.threadSummary(groupCtx, message.ID)
		if err != nil {
			return err
		}
		view.ThreadCount = count
		view.ThreadLastReplyAt = lastAt
		view.ThreadLastReplyAuthor = lastAuthor
		return nil
	})
	group.Go(func() error {
		view.Attachments = s.resolveAttachments(groupCtx, message)
		return nil
	})

	if err := group.Wait(); err != nil {
		return nil, err
	}
	if author == nil {
		return nil, nil
	}
	view.Author = *author
	return view, nil
}

// threadSummary computes the reply count and last-reply preview for one
// parent. The last reply is the newest by insertion order. An unresolvable
// last-reply author degrades to the zero-value summary.
func (s *Service) threadSummary(ctx context.Context, parentID string) (int, *time.Time, *AuthorView, error) {
	aggregate, err := s.store.GetThreadAggregate(ctx, parentID)
	if err != nil {
		return 0, nil, nil, err
	}
	if aggregate.ReplyCount == 0 {
		return 0, nil, nil, nil
	}
	profile, err := s.store.GetMemberProfile(ctx, aggregate.LastReplyMemberID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil, nil, nil
	}
	if err != nil {
		return 0, nil, nil, err
	}
	lastAt := aggregate.LastReplyAt
	return aggregate.ReplyCount, &lastAt, &AuthorView{ID: profile.ID, Name: profile.Name, Image: profile.Image}, nil
}

// resolveAttachments merges the legacy single-image slot and the multi-file
// slot, resolving each independently. A failed resolve surfaces as a null
// url on that attachment; it never fails the item.
func (s *Service) resolveAttachments(ctx context.Context, message store.Message) []Attachment {
	attachments := make([]Attachment, 0, len(message.AttachmentRefs)+1)
	if message.ImageRef != nil {
		attachments = append(attachments, s.resolveAttachment(ctx, *message.ImageRef))
	}
	for _, ref := range message.AttachmentRefs {
		attachments = append(attachments, s.resolveAttachment(ctx, ref))
	}
	return attachments
}

func (s *Service) resolveAttachment(ctx context.Context, ref string) Attachment {
	if s.blobs == nil {
		return Attachment{Ref: ref}
	}
	url, err := s.blobs.URL(ctx, ref)
	if err != nil {
		log.Printf("blob: resolve %s: %v", ref, err)
		return Attachment{Ref: ref}
	}
	return Attachment{Ref: ref, URL: &url}
}

// ---- side effects ----

func (s *Service) emitActivity(ctx context.Context, actionType string, message store.Message, memberID string) {
	if s.activity == nil {
		return
	}
	record := activity.Record{
		ActionType:  actionType,
		WorkspaceID: message.WorkspaceID,
		MessageID:   message.ID,
		MemberID:    memberID,
		At:          time.Now().UTC(),
	}
	if message.Context.ParentID != nil {
		record.ParentID = *message.Context.ParentID
	}
	if message.Context.ChannelID != nil {
		record.ChannelID = *message.Context.ChannelID
	}
	if message.Context.ConversationID != nil {
		record.ConversationID = *message.Context.ConversationID
	}
	if err := s.activity.Emit(ctx, record); err != nil {
		log.Printf("activity: emit %s for %s: %v", actionType, message.ID, err)
	}
}

func (s *Service) indexMessage(message store.Message) {
	if s.search == nil {
		return
	}
	record := search.MessageRecord{
		ID:          message.ID,
		WorkspaceID: message.WorkspaceID,
		Body:        message.Body,
	}
	if message.Context.ChannelID != nil {
		record.ChannelID = *message.Context.ChannelID
	}
	if message.Context.ConversationID != nil {
		record.ConversationID = *message.Context.ConversationID
	}
	if err := s.search.IndexMessage(record); err != nil {
		log.Printf("search: index message %s: %v", message.ID, err)
	}
}
