// Package activity emits write-only notification records for downstream
// consumers. Delivery is best-effort; the message core never depends on it.
package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	ActionNewMessage = "new_message"
	ActionReply      = "reply"
	ActionReaction   = "reaction"
	ActionMention    = "mention"
)

type Record struct {
	ActionType     string    `json:"actionType"`
	WorkspaceID    string    `json:"workspaceId"`
	MessageID      string    `json:"messageId"`
	ParentID       string    `json:"parentId,omitempty"`
	ChannelID      string    `json:"channelId,omitempty"`
	ConversationID string    `json:"conversationId,omitempty"`
	MemberID       string    `json:"memberId"`
	At             time.Time `json:"at"`
}

// Sink is the write-only activity consumer.
type Sink interface {
	Emit(ctx context.Context, record Record) error
}

// RedisSink pushes records onto a per-workspace Redis list.
type RedisSink struct {
	client *redis.Client
	prefix string
}

func NewRedisSink(redisURL string) (*RedisSink, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisSink{client: client, prefix: "activity:"}, nil
}

// NewRedisSinkWithClient builds a sink from an existing client.
func NewRedisSinkWithClient(client *redis.Client) *RedisSink {
	return &RedisSink{client: client, prefix: "activity:"}
}

func (s *RedisSink) key(workspaceID string) string {
	return s.prefix + workspaceID
}

func (s *RedisSink) Emit(ctx context.Context, record Record) error {
	if record.At.IsZero() {
		record.At = time.Now().UTC()
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal activity record: %w", err)
	}
	if err := s.client.LPush(ctx, s.key(record.WorkspaceID), payload).Err(); err != nil {
		return fmt.Errorf("push activity record: %w", err)
	}
	return nil
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}

func (s *RedisSink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
