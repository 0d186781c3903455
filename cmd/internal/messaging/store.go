package messaging

import (
	"context"
	"time"
)

// MessageStore persists messages.
//
// Requirements:
//   - AppendMessage never overwrites: ids are unique
//   - ListMessages and ListNewSince return created_at ASC
//   - MarkRead is idempotent
type MessageStore interface {
	// AppendMessage assigns ID and CreatedAt when absent and returns the stored message.
	AppendMessage(ctx context.Context, m Message) (Message, error)
	// ListMessages returns one page of a conversation, oldest first. Unknown keys yield an empty page.
	ListMessages(ctx context.Context, key string, offset, limit int) ([]Message, error)
	// ListNewSince returns every message sent or received by userID with CreatedAt > since.
	ListNewSince(ctx context.Context, userID int64, since time.Time) ([]Message, error)
	// MarkRead flips unread messages addressed to userID in key and returns how many flipped.
	MarkRead(ctx context.Context, key string, userID int64) (int64, error)
	// GetMessage returns ErrNotFound when id is unknown.
	GetMessage(ctx context.Context, id string) (Message, error)
}

// Ledger persists one row per conversation.
type Ledger interface {
	FindConversation(ctx context.Context, key string) (Conversation, error)
	// CreateConversation inserts c if its key is absent, else returns ErrConflict.
	CreateConversation(ctx context.Context, c Conversation) (Conversation, error)
	TouchLastMessage(ctx context.Context, key, preview string, at time.Time) error
	// IncrementUnread adds exactly one to participant's counter, atomically.
	IncrementUnread(ctx context.Context, key string, participant int64) error
	// ResetUnread sets participant's counter to zero regardless of its value.
	ResetUnread(ctx context.Context, key string, participant int64) error
	SetStatus(ctx context.Context, key string, status Status) error
	TotalUnread(ctx context.Context, userID int64) (int, error)
	// ListConversations returns userID's conversations, most recent activity first.
	ListConversations(ctx context.Context, userID int64, f ConversationFilter) ([]Conversation, error)
}

// Repo is the combined view every unit of work operates on.
type Repo interface {
	MessageStore
	Ledger
}

// Store is a Repo that can also run a unit of work atomically.
//
// fn receives a Repo scoped to the unit of work; returning an error aborts it.
type Store interface {
	Repo
	WithinTx(ctx context.Context, fn func(Repo) error) error
	Close() error
}

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
