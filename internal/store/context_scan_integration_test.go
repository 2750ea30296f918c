package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// openTestStore connects to the database named by HUDDLE_TEST_DATABASE_URL,
// resets the public schema, and applies the migrations. Tests skip when the
// variable is not set.
func openTestStore(t *testing.T) *PostgresStore {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv("HUDDLE_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("HUDDLE_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`); err != nil {
		t.Fatalf("reset schema: %v", err)
	}

	migrationsDir := filepath.Join("..", "..", "db", "migrations")
	if err := ApplyMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	return NewPostgresStore(db)
}

func seedWorkspace(t *testing.T, ctx context.Context, db *sql.DB) {
	t.Helper()

	statements := []string{
		`INSERT INTO workspaces (id, name, invite_code) VALUES ('ws_1', 'acme', 'code1234')`,
		`INSERT INTO principals (id, name, email, password_hash) VALUES ('pr_1', 'Alice', 'alice@example.com', 'x')`,
		`INSERT INTO principals (id, name, email, password_hash) VALUES ('pr_2', 'Bob', 'bob@example.com', 'x')`,
		`INSERT INTO members (id, workspace_id, principal_id, role) VALUES ('mem_1', 'ws_1', 'pr_1', 'admin')`,
		`INSERT INTO members (id, workspace_id, principal_id, role) VALUES ('mem_2', 'ws_1', 'pr_2', 'member')`,
		`INSERT INTO channels (id, workspace_id, name) VALUES ('ch_1', 'ws_1', 'general')`,
		`INSERT INTO conversations (id, workspace_id, member_one_id, member_two_id) VALUES ('dm_1', 'ws_1', 'mem_1', 'mem_2')`,
	}
	for _, statement := range statements {
		if _, err := db.ExecContext(ctx, statement); err != nil {
			t.Fatalf("seed workspace: %v", err)
		}
	}
}

func insertTestMessage(t *testing.T, ctx context.Context, db *sql.DB, id, memberID string, key MessageContext, createdAt time.Time) {
	t.Helper()

	_, err := db.ExecContext(ctx, `
		INSERT INTO messages (id, workspace_id, member_id, body, channel_id, parent_message_id, conversation_id, created_at)
		VALUES ($1, 'ws_1', $2, $3, $4, $5, $6, $7)
	`, id, memberID, "body of "+id, key.ChannelID, key.ParentID, key.ConversationID, createdAt)
	if err != nil {
		t.Fatalf("insert message %s: %v", id, err)
	}
}

func messageIDs(messages []Message) []string {
	ids := make([]string, 0, len(messages))
	for _, m := range messages {
		ids = append(ids, m.ID)
	}
	return ids
}

func TestListMessagePageMatchesEachLegExactly(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	store := openTestStore(t)
	ctx := context.Background()
	seedWorkspace(t, ctx, store.DB())

	channelID := "ch_1"
	conversationID := "dm_1"
	parentID := "msg_root"
	base := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	// One message per context shape. A channel reply carries only the parent
	// leg; a conversation reply carries parent and conversation.
	insertTestMessage(t, ctx, store.DB(), "msg_root", "mem_1", MessageContext{ChannelID: &channelID}, base)
	insertTestMessage(t, ctx, store.DB(), "msg_chan", "mem_2", MessageContext{ChannelID: &channelID}, base.Add(1*time.Minute))
	insertTestMessage(t, ctx, store.DB(), "msg_conv", "mem_1", MessageContext{ConversationID: &conversationID}, base.Add(2*time.Minute))
	insertTestMessage(t, ctx, store.DB(), "msg_reply_a", "mem_2", MessageContext{ParentID: &parentID}, base.Add(3*time.Minute))
	insertTestMessage(t, ctx, store.DB(), "msg_reply_b", "mem_1", MessageContext{ParentID: &parentID}, base.Add(4*time.Minute))
	convReplyParent := "msg_conv"
	insertTestMessage(t, ctx, store.DB(), "msg_conv_reply", "mem_2", MessageContext{ParentID: &convReplyParent, ConversationID: &conversationID}, base.Add(5*time.Minute))

	cases := []struct {
		name string
		key  MessageContext
		want []string
	}{
		{
			name: "channel leg excludes replies and conversations",
			key:  MessageContext{ChannelID: &channelID},
			want: []string{"msg_chan", "msg_root"},
		},
		{
			name: "parent leg returns only direct channel replies",
			key:  MessageContext{ParentID: &parentID},
			want: []string{"msg_reply_b", "msg_reply_a"},
		},
		{
			name: "conversation leg excludes threaded replies",
			key:  MessageContext{ConversationID: &conversationID},
			want: []string{"msg_conv"},
		},
		{
			name: "conversation thread needs both legs",
			key:  MessageContext{ParentID: &convReplyParent, ConversationID: &conversationID},
			want: []string{"msg_conv_reply"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			messages, err := store.ListMessagePage(ctx, tc.key, nil, 10)
			if err != nil {
				t.Fatalf("ListMessagePage() error = %v", err)
			}
			got := messageIDs(messages)
			if len(got) != len(tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
			for i := range tc.want {
				if got[i] != tc.want[i] {
					t.Fatalf("got %v, want %v", got, tc.want)
				}
			}
		})
	}
}

func TestListMessagePageCursorResumesWithoutOverlap(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	store := openTestStore(t)
	ctx := context.Background()
	seedWorkspace(t, ctx, store.DB())

	channelID := "ch_1"
	base := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	insertTestMessage(t, ctx, store.DB(), "msg_a", "mem_1", MessageContext{ChannelID: &channelID}, base)
	insertTestMessage(t, ctx, store.DB(), "msg_b", "mem_1", MessageContext{ChannelID: &channelID}, base.Add(1*time.Minute))
	insertTestMessage(t, ctx, store.DB(), "msg_c", "mem_1", MessageContext{ChannelID: &channelID}, base.Add(2*time.Minute))

	key := MessageContext{ChannelID: &channelID}
	first, err := store.ListMessagePage(ctx, key, nil, 2)
	if err != nil {
		t.Fatalf("ListMessagePage() error = %v", err)
	}
	if got := messageIDs(first); len(got) != 2 || got[0] != "msg_c" || got[1] != "msg_b" {
		t.Fatalf("first page = %v, want [msg_c msg_b]", got)
	}

	last := first[len(first)-1]
	cursor := Cursor{CreatedAtMicro: last.CreatedAt.UnixMicro(), ID: last.ID}
	second, err := store.ListMessagePage(ctx, key, &cursor, 2)
	if err != nil {
		t.Fatalf("ListMessagePage() cursor page error = %v", err)
	}
	if got := messageIDs(second); len(got) != 1 || got[0] != "msg_a" {
		t.Fatalf("second page = %v, want [msg_a]", got)
	}
}

func TestThreadAggregatesFollowInsertionOrder(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	store := openTestStore(t)
	ctx := context.Background()
	seedWorkspace(t, ctx, store.DB())

	channelID := "ch_1"
	base := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	insertTestMessage(t, ctx, store.DB(), "msg_p1", "mem_1", MessageContext{ChannelID: &channelID}, base)
	insertTestMessage(t, ctx, store.DB(), "msg_p2", "mem_1", MessageContext{ChannelID: &channelID}, base.Add(1*time.Minute))

	parentOne, parentTwo := "msg_p1", "msg_p2"
	insertTestMessage(t, ctx, store.DB(), "msg_r1", "mem_1", MessageContext{ParentID: &parentOne}, base.Add(10*time.Minute))
	// Same timestamp as msg_r1: the id breaks the tie, so msg_r2 is the last
	// reply under msg_p1.
	insertTestMessage(t, ctx, store.DB(), "msg_r2", "mem_2", MessageContext{ParentID: &parentOne}, base.Add(10*time.Minute))
	insertTestMessage(t, ctx, store.DB(), "msg_r3", "mem_2", MessageContext{ParentID: &parentTwo}, base.Add(20*time.Minute))

	aggregate, err := store.GetThreadAggregate(ctx, parentOne)
	if err != nil {
		t.Fatalf("GetThreadAggregate() error = %v", err)
	}
	if aggregate.ReplyCount != 2 {
		t.Fatalf("reply count = %d, want 2", aggregate.ReplyCount)
	}
	if aggregate.LastReplyMemberID != "mem_2" {
		t.Fatalf("last reply member = %s, want mem_2 (id tiebreak)", aggregate.LastReplyMemberID)
	}

	empty, err := store.GetThreadAggregate(ctx, "msg_without_replies")
	if err != nil {
		t.Fatalf("GetThreadAggregate() empty error = %v", err)
	}
	if empty.ReplyCount != 0 || empty.LastReplyMemberID != "" {
		t.Fatalf("empty aggregate = %+v, want zero", empty)
	}

	aggregates, err := store.ListThreadAggregates(ctx, "ws_1")
	if err != nil {
		t.Fatalf("ListThreadAggregates() error = %v", err)
	}
	if len(aggregates) != 2 {
		t.Fatalf("got %d aggregates, want 2", len(aggregates))
	}
	if aggregates[0].ParentID != parentTwo || aggregates[1].ParentID != parentOne {
		t.Fatalf("aggregate order = [%s %s], want newest last reply first", aggregates[0].ParentID, aggregates[1].ParentID)
	}
}
