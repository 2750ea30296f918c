package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- principals ----

func (s *PostgresStore) InsertPrincipal(ctx context.Context, principal Principal) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO principals (id, name, email, password_hash, image)
		VALUES ($1, $2, $3, $4, $5)
	`, principal.ID, principal.Name, principal.Email, principal.PasswordHash, principal.Image)
	if err != nil {
		return fmt.Errorf("insert principal: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPrincipalByEmail(ctx context.Context, email string) (Principal, error) {
	var item Principal
	var image sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, password_hash, image, created_at
		FROM principals
		WHERE email=$1
	`, email).Scan(&item.ID, &item.Name, &item.Email, &item.PasswordHash, &image, &item.CreatedAt)
	if err != nil {
		return Principal{}, err
	}
	if image.Valid {
		item.Image = &image.String
	}
	return item, nil
}

func (s *PostgresStore) GetPrincipalByID(ctx context.Context, principalID string) (Principal, error) {
	var item Principal
	var image sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, password_hash, image, created_at
		FROM principals
		WHERE id=$1
	`, principalID).Scan(&item.ID, &item.Name, &item.Email, &item.PasswordHash, &image, &item.CreatedAt)
	if err != nil {
		return Principal{}, err
	}
	if image.Valid {
		item.Image = &image.String
	}
	return item, nil
}

// ---- workspaces ----

func (s *PostgresStore) InsertWorkspace(ctx context.Context, workspace Workspace) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workspaces (id, name, owner_member_id, invite_code)
		VALUES ($1, $2, NULLIF($3, ''), $4)
	`, workspace.ID, workspace.Name, workspace.OwnerMemberID, workspace.InviteCode)
	if err != nil {
		return fmt.Errorf("insert workspace: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetWorkspaceOwner(ctx context.Context, workspaceID, memberID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE workspaces SET owner_member_id=$2 WHERE id=$1
	`, workspaceID, memberID)
	if err != nil {
		return fmt.Errorf("set workspace owner: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetWorkspace(ctx context.Context, workspaceID string) (Workspace, error) {
	var item Workspace
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, COALESCE(owner_member_id, ''), invite_code, created_at
		FROM workspaces
		WHERE id=$1
	`, workspaceID).Scan(&item.ID, &item.Name, &item.OwnerMemberID, &item.InviteCode, &item.CreatedAt)
	if err != nil {
		return Workspace{}, err
	}
	return item, nil
}

func (s *PostgresStore) GetWorkspaceByInviteCode(ctx context.Context, code string) (Workspace, error) {
	var item Workspace
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, COALESCE(owner_member_id, ''), invite_code, created_at
		FROM workspaces
		WHERE invite_code=$1
	`, code).Scan(&item.ID, &item.Name, &item.OwnerMemberID, &item.InviteCode, &item.CreatedAt)
	if err != nil {
		return Workspace{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListWorkspacesForPrincipal(ctx context.Context, principalID string) ([]Workspace, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT w.id, w.name, COALESCE(w.owner_member_id, ''), w.invite_code, w.created_at
		FROM workspaces w
		JOIN members m ON m.workspace_id = w.id
		WHERE m.principal_id=$1
		ORDER BY w.created_at ASC
	`, principalID)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	defer rows.Close()

	items := make([]Workspace, 0)
	for rows.Next() {
		var item Workspace
		if err := rows.Scan(&item.ID, &item.Name, &item.OwnerMemberID, &item.InviteCode, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan workspace: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workspaces: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateWorkspaceInviteCode(ctx context.Context, workspaceID, code string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE workspaces SET invite_code=$2 WHERE id=$1
	`, workspaceID, code)
	if err != nil {
		return fmt.Errorf("rotate invite code: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rotate invite code rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteWorkspace(ctx context.Context, workspaceID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM workspaces WHERE id=$1`, workspaceID)
	if err != nil {
		return fmt.Errorf("delete workspace: %w", err)
	}
	return nil
}

// ---- members ----

func (s *PostgresStore) InsertMember(ctx context.Context, member Member) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO members (id, workspace_id, principal_id, role)
		VALUES ($1, $2, $3, $4)
	`, member.ID, member.WorkspaceID, member.PrincipalID, member.Role)
	if err != nil {
		return fmt.Errorf("insert member: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetMemberByPrincipal(ctx context.Context, workspaceID, principalID string) (Member, error) {
	var item Member
	err := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, principal_id, role, created_at
		FROM members
		WHERE workspace_id=$1 AND principal_id=$2
	`, workspaceID, principalID).Scan(&item.ID, &item.WorkspaceID, &item.PrincipalID, &item.Role, &item.CreatedAt)
	if err != nil {
		return Member{}, err
	}
	return item, nil
}

// GetMemberProfile resolves a member together with its principal. A missing
// principal row surfaces as sql.ErrNoRows, which read paths treat as an
// orphaned author.
func (s *PostgresStore) GetMemberProfile(ctx context.Context, memberID string) (MemberProfile, error) {
	var item MemberProfile
	var image sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT m.id, m.workspace_id, m.principal_id, m.role, m.created_at, p.name, p.image
		FROM members m
		JOIN principals p ON p.id = m.principal_id
		WHERE m.id=$1
	`, memberID).Scan(&item.ID, &item.WorkspaceID, &item.PrincipalID, &item.Role, &item.CreatedAt, &item.Name, &image)
	if err != nil {
		return MemberProfile{}, err
	}
	if image.Valid {
		item.Image = &image.String
	}
	return item, nil
}

func (s *PostgresStore) ListMemberProfiles(ctx context.Context, workspaceID string) ([]MemberProfile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.workspace_id, m.principal_id, m.role, m.created_at, p.name, p.image
		FROM members m
		JOIN principals p ON p.id = m.principal_id
		WHERE m.workspace_id=$1
		ORDER BY m.created_at ASC
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	items := make([]MemberProfile, 0)
	for rows.Next() {
		var item MemberProfile
		var image sql.NullString
		if err := rows.Scan(&item.ID, &item.WorkspaceID, &item.PrincipalID, &item.Role, &item.CreatedAt, &item.Name, &image); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		if image.Valid {
			item.Image = &image.String
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return items, nil
}

// ---- channels ----

func (s *PostgresStore) InsertChannel(ctx context.Context, channel Channel) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO channels (id, workspace_id, name)
		VALUES ($1, $2, $3)
	`, channel.ID, channel.WorkspaceID, channel.Name)
	if err != nil {
		return fmt.Errorf("insert channel: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetChannel(ctx context.Context, channelID string) (Channel, error) {
	var item Channel
	err := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, name, created_at
		FROM channels
		WHERE id=$1
	`, channelID).Scan(&item.ID, &item.WorkspaceID, &item.Name, &item.CreatedAt)
	if err != nil {
		return Channel{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListChannels(ctx context.Context, workspaceID string) ([]Channel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, name, created_at
		FROM channels
		WHERE workspace_id=$1
		ORDER BY created_at ASC
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	items := make([]Channel, 0)
	for rows.Next() {
		var item Channel
		if err := rows.Scan(&item.ID, &item.WorkspaceID, &item.Name, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channels: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) RenameChannel(ctx context.Context, channelID, name string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE channels SET name=$2 WHERE id=$1
	`, channelID, name)
	if err != nil {
		return false, fmt.Errorf("rename channel: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rename channel rows: %w", err)
	}
	return affected > 0, nil
}

// DeleteChannelMessages removes up to batchSize messages from a channel and
// reports how many were deleted. Callers loop until zero; re-running against
// a partially deleted channel is safe.
func (s *PostgresStore) DeleteChannelMessages(ctx context.Context, channelID string, batchSize int) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM messages
		WHERE id IN (
			SELECT id FROM messages WHERE channel_id=$1 LIMIT $2
		)
	`, channelID, batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete channel messages: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete channel messages rows: %w", err)
	}
	return affected, nil
}

func (s *PostgresStore) DeleteChannel(ctx context.Context, channelID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM channels WHERE id=$1`, channelID)
	if err != nil {
		return false, fmt.Errorf("delete channel: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete channel rows: %w", err)
	}
	return affected > 0, nil
}

// ---- conversations ----

// GetConversationForMembers looks up the direct conversation between two
// members, checking both orderings of the pair.
func (s *PostgresStore) GetConversationForMembers(ctx context.Context, workspaceID, memberA, memberB string) (Conversation, error) {
	var item Conversation
	err := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, member_one_id, member_two_id, created_at
		FROM conversations
		WHERE workspace_id=$1
		  AND ((member_one_id=$2 AND member_two_id=$3) OR (member_one_id=$3 AND member_two_id=$2))
	`, workspaceID, memberA, memberB).Scan(&item.ID, &item.WorkspaceID, &item.MemberOneID, &item.MemberTwoID, &item.CreatedAt)
	if err != nil {
		return Conversation{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertConversation(ctx context.Context, conversation Conversation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, workspace_id, member_one_id, member_two_id)
		VALUES ($1, $2, $3, $4)
	`, conversation.ID, conversation.WorkspaceID, conversation.MemberOneID, conversation.MemberTwoID)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, conversationID string) (Conversation, error) {
	var item Conversation
	err := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, member_one_id, member_two_id, created_at
		FROM conversations
		WHERE id=$1
	`, conversationID).Scan(&item.ID, &item.WorkspaceID, &item.MemberOneID, &item.MemberTwoID, &item.CreatedAt)
	if err != nil {
		return Conversation{}, err
	}
	return item, nil
}

// ---- messages ----

const messageColumns = `id, workspace_id, member_id, body, image_ref, attachment_refs, channel_id, parent_message_id, conversation_id, created_at, updated_at`

func (s *PostgresStore) InsertMessage(ctx context.Context, message Message) error {
	refs := message.AttachmentRefs
	if refs == nil {
		refs = []string{}
	}
	encodedRefs, err := json.Marshal(refs)
	if err != nil {
		return fmt.Errorf("marshal attachment refs: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (id, workspace_id, member_id, body, image_ref, attachment_refs, channel_id, parent_message_id, conversation_id)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8, $9)
	`, message.ID, message.WorkspaceID, message.MemberID, message.Body, message.ImageRef,
		string(encodedRefs), message.Context.ChannelID, message.Context.ParentID, message.Context.ConversationID)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetMessage(ctx context.Context, messageID string) (Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE id=$1
	`, messageID)
	return scanMessageRow(row)
}

func (s *PostgresStore) UpdateMessage(ctx context.Context, messageID, body string, imageRef *string, attachmentRefs []string) error {
	refs := attachmentRefs
	if refs == nil {
		refs = []string{}
	}
	encodedRefs, err := json.Marshal(refs)
	if err != nil {
		return fmt.Errorf("marshal attachment refs: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET body=$2, image_ref=$3, attachment_refs=$4::jsonb, updated_at=NOW()
		WHERE id=$1
	`, messageID, body, imageRef, string(encodedRefs))
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update message rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteMessage(ctx context.Context, messageID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id=$1`, messageID)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// ListMessagePage scans messages matching the composite context key, newest
// first, ordered by insertion (created_at, id). Every key leg is exact-match:
// a nil leg matches only rows where that column is NULL, never any value.
func (s *PostgresStore) ListMessagePage(ctx context.Context, key MessageContext, cursor *Cursor, limit int) ([]Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE channel_id IS NOT DISTINCT FROM $1
		  AND parent_message_id IS NOT DISTINCT FROM $2
		  AND conversation_id IS NOT DISTINCT FROM $3
	`
	args := []any{key.ChannelID, key.ParentID, key.ConversationID}
	if cursor != nil {
		query += ` AND (created_at, id) < ($4, $5)`
		args = append(args, cursor.CreatedAt(), cursor.ID)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT %d`, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list message page: %w", err)
	}
	defer rows.Close()

	items := make([]Message, 0, limit)
	for rows.Next() {
		item, err := scanMessageRow(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message page: %w", err)
	}
	return items, nil
}

// GetThreadAggregate summarizes the replies under one parent. No replies
// yields the zero aggregate, not an error.
func (s *PostgresStore) GetThreadAggregate(ctx context.Context, parentID string) (ThreadAggregate, error) {
	var item ThreadAggregate
	err := s.db.QueryRowContext(ctx, `
		SELECT parent_message_id, member_id, created_at,
		       COUNT(*) OVER (PARTITION BY parent_message_id)
		FROM messages
		WHERE parent_message_id=$1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, parentID).Scan(&item.ParentID, &item.LastReplyMemberID, &item.LastReplyAt, &item.ReplyCount)
	if errors.Is(err, sql.ErrNoRows) {
		return ThreadAggregate{ParentID: parentID}, nil
	}
	if err != nil {
		return ThreadAggregate{}, fmt.Errorf("thread aggregate: %w", err)
	}
	return item, nil
}

// ListThreadAggregates returns one aggregate per parent message with at least
// one reply in the workspace, newest last reply first.
func (s *PostgresStore) ListThreadAggregates(ctx context.Context, workspaceID string) ([]ThreadAggregate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT parent_message_id, member_id, created_at, reply_count
		FROM (
			SELECT DISTINCT ON (parent_message_id)
			       parent_message_id, member_id, created_at, id,
			       COUNT(*) OVER (PARTITION BY parent_message_id) AS reply_count
			FROM messages
			WHERE workspace_id=$1 AND parent_message_id IS NOT NULL
			ORDER BY parent_message_id, created_at DESC, id DESC
		) latest
		ORDER BY created_at DESC, id DESC
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list thread aggregates: %w", err)
	}
	defer rows.Close()

	items := make([]ThreadAggregate, 0)
	for rows.Next() {
		var item ThreadAggregate
		if err := rows.Scan(&item.ParentID, &item.LastReplyMemberID, &item.LastReplyAt, &item.ReplyCount); err != nil {
			return nil, fmt.Errorf("scan thread aggregate: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate thread aggregates: %w", err)
	}
	return items, nil
}

// ---- reactions ----

// ToggleReaction removes the (message, member, value) reaction if present,
// otherwise inserts it. Reports whether the reaction now exists.
func (s *PostgresStore) ToggleReaction(ctx context.Context, reaction Reaction) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM reactions
		WHERE message_id=$1 AND member_id=$2 AND value=$3
	`, reaction.MessageID, reaction.MemberID, reaction.Value)
	if err != nil {
		return false, fmt.Errorf("delete reaction: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete reaction rows: %w", err)
	}
	if affected > 0 {
		return false, nil
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO reactions (id, message_id, member_id, workspace_id, value)
		VALUES ($1, $2, $3, $4, $5)
	`, reaction.ID, reaction.MessageID, reaction.MemberID, reaction.WorkspaceID, reaction.Value); err != nil {
		return false, fmt.Errorf("insert reaction: %w", err)
	}
	return true, nil
}

// ListReactions returns the raw reaction rows for a message in insertion
// order, so grouped member lists come out first-seen stable.
func (s *PostgresStore) ListReactions(ctx context.Context, messageID string) ([]Reaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, message_id, member_id, workspace_id, value, created_at
		FROM reactions
		WHERE message_id=$1
		ORDER BY created_at ASC, id ASC
	`, messageID)
	if err != nil {
		return nil, fmt.Errorf("list reactions: %w", err)
	}
	defer rows.Close()

	items := make([]Reaction, 0)
	for rows.Next() {
		var item Reaction
		if err := rows.Scan(&item.ID, &item.MessageID, &item.MemberID, &item.WorkspaceID, &item.Value, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reaction: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reactions: %w", err)
	}
	return items, nil
}

// ---- scanning helpers ----

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessageRow(row rowScanner) (Message, error) {
	var item Message
	var imageRef, channelID, parentID, conversationID sql.NullString
	var refsRaw []byte
	var updatedAt sql.NullTime
	err := row.Scan(
		&item.ID,
		&item.WorkspaceID,
		&item.MemberID,
		&item.Body,
		&imageRef,
		&refsRaw,
		&channelID,
		&parentID,
		&conversationID,
		&item.CreatedAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Message{}, err
		}
		return Message{}, fmt.Errorf("scan message: %w", err)
	}
	if imageRef.Valid {
		item.ImageRef = &imageRef.String
	}
	if channelID.Valid {
		item.Context.ChannelID = &channelID.String
	}
	if parentID.Valid {
		item.Context.ParentID = &parentID.String
	}
	if conversationID.Valid {
		item.Context.ConversationID = &conversationID.String
	}
	if updatedAt.Valid {
		at := updatedAt.Time
		item.UpdatedAt = &at
	}
	item.AttachmentRefs = []string{}
	if len(refsRaw) > 0 {
		if err := json.Unmarshal(refsRaw, &item.AttachmentRefs); err != nil {
			return Message{}, fmt.Errorf("decode attachment refs: %w", err)
		}
	}
	return item, nil
}
