package messaging

import (
	"context"
	"log/slog"
)

// Notifier receives a best-effort "new message" hand-off after a send commits.
// A returned error is logged by the Service and never fails the send.
type Notifier interface {
	MessageCreated(ctx context.Context, m MessageView) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, m MessageView) error

func (f NotifierFunc) MessageCreated(ctx context.Context, m MessageView) error { return f(ctx, m) }

// LogNotifier only logs the event. It is the default when no broker is configured.
type LogNotifier struct {
	Log *slog.Logger
}

func (n LogNotifier) MessageCreated(_ context.Context, m MessageView) error {
	if n.Log == nil {
		return nil
	}
	n.Log.Debug("notify.message.created",
		"message_id", m.MessageID,
		"conversation_id", m.ConversationID,
		"receiver_id", m.ReceiverID,
	)
	return nil
}

// Directory looks up public profile data for a user id.
type Directory interface {
	DisplayName(ctx context.Context, userID int64) (string, error)
}

// DirectoryFunc adapts a function to Directory.
type DirectoryFunc func(ctx context.Context, userID int64) (string, error)

func (f DirectoryFunc) DisplayName(ctx context.Context, userID int64) (string, error) {
	return f(ctx, userID)
}
