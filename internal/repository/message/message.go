// Package message is the append-only message log, partitioned by conversation key.
package message

import (
	"context"

	"dm_chat/internal/model"
)

type Repository interface {
	// Insert persists m. It fails if m's logical timestamp is already taken in its conversation.
	Insert(ctx context.Context, m *model.Message) error
	// List returns the messages of a conversation with after < logical_ts <= upTo in ascending
	// order, at most limit of them. upTo <= 0 means no upper bound.
	List(ctx context.Context, conversationKey string, after, upTo int64, limit int) ([]*model.Message, error)
	// Head returns the highest logical timestamp stored for a conversation, 0 when it is empty.
	Head(ctx context.Context, conversationKey string) (int64, error)
	// Heads returns the head of every stored conversation.
	Heads(ctx context.Context) (map[string]int64, error)
	// MaxID returns the highest message id stored, 0 when the log is empty.
	MaxID(ctx context.Context) (int64, error)
}
