package messaging

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"bazaar/cmd/internal/metrics"
)

const (
	// MaxContentRunes bounds a single message body.
	MaxContentRunes = 4000
	// previewRunes bounds the ledger's last-message snapshot.
	previewRunes = 500

	defaultConversationPageSize = 20
	defaultHistoryPageSize      = 50
	maxPageSize                 = 100
)

var messageTypeRE = regexp.MustCompile(`^[A-Z_]{1,20}$`)

// Service orchestrates sends, reads and conversation management over a Store.
type Service struct {
	store     Store
	notifier  Notifier
	directory Directory
	metrics   *metrics.Metrics
	log       *slog.Logger
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier sets the new-message hand-off. Default: LogNotifier.
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithDirectory sets the display-name lookup used on conversation views.
func WithDirectory(d Directory) Option {
	return func(s *Service) { s.directory = d }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs a Service. store is required.
func NewService(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("messaging: nil store")
	}
	s := &Service{
		store: store,
		log:   slog.Default(),
		now:   time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.notifier == nil {
		s.notifier = LogNotifier{Log: s.log}
	}
	return s, nil
}

// SendInput is a send request from SenderID. SubjectID and Type are optional.
type SendInput struct {
	SenderID   int64
	ReceiverID int64
	Content    string
	SubjectID  *int64
	Type       string
}

// SendMessage validates in, resolves or creates the conversation, then appends the
// message, refreshes the preview and bumps the receiver's counter as one unit of work.
func (s *Service) SendMessage(ctx context.Context, in SendInput) (MessageView, error) {
	content, msgType, err := validateSend(in)
	if err != nil {
		s.metrics.SendRejected(Reason(err))
		return MessageView{}, err
	}

	key, err := ResolveKey(in.SenderID, in.ReceiverID, in.SubjectID)
	if err != nil {
		s.metrics.SendRejected(Reason(err))
		return MessageView{}, err
	}
	if _, err := s.ensureConversation(ctx, key, in.SenderID, in.ReceiverID, in.SubjectID); err != nil {
		return MessageView{}, err
	}

	var stored Message
	err = s.store.WithinTx(ctx, func(r Repo) error {
		m, err := r.AppendMessage(ctx, Message{
			ConversationKey: key,
			SenderID:        in.SenderID,
			ReceiverID:      in.ReceiverID,
			SubjectID:       in.SubjectID,
			Content:         content,
			Type:            msgType,
			CreatedAt:       s.now(),
		})
		if err != nil {
			return err
		}
		if err := r.TouchLastMessage(ctx, key, preview(content), m.CreatedAt); err != nil {
			return err
		}
		if err := r.IncrementUnread(ctx, key, in.ReceiverID); err != nil {
			return err
		}
		stored = m
		return nil
	})
	if err != nil {
		s.log.Warn("message.send.failed", "conversation_id", key, "sender_id", in.SenderID, "err", err)
		return MessageView{}, transient("send message", err)
	}

	view := NewMessageView(stored)
	s.metrics.MessageSent()
	s.log.Debug("message.send.ok",
		"message_id", view.MessageID,
		"conversation_id", key,
		"sender_id", in.SenderID,
		"receiver_id", in.ReceiverID,
	)

	if err := s.notifier.MessageCreated(ctx, view); err != nil {
		s.metrics.NotifyFailed()
		s.log.Warn("message.notify.failed", "message_id", view.MessageID, "err", err)
	}
	return view, nil
}

func validateSend(in SendInput) (content, msgType string, err error) {
	if in.SenderID <= 0 {
		return "", "", invalid("missing_sender", "sender id is required")
	}
	if in.ReceiverID <= 0 {
		return "", "", invalid("missing_receiver", "receiverId is required")
	}
	if in.SenderID == in.ReceiverID {
		return "", "", invalid("self_message", "cannot send a message to yourself")
	}
	content = strings.TrimSpace(in.Content)
	if content == "" {
		return "", "", invalid("empty_content", "content must not be empty")
	}
	if utf8.RuneCountInString(content) > MaxContentRunes {
		return "", "", invalid("content_too_long", "content exceeds 4000 characters")
	}
	msgType = strings.ToUpper(strings.TrimSpace(in.Type))
	if msgType == "" {
		msgType = DefaultMessageType
	}
	if !messageTypeRE.MatchString(msgType) {
		return "", "", invalid("invalid_message_type", "messageType must be 1-20 letters or underscores")
	}
	return content, msgType, nil
}

// ensureConversation returns the conversation for key, creating it on first use.
// A lost creation race re-reads the winner once.
func (s *Service) ensureConversation(ctx context.Context, key string, a, b int64, subject *int64) (Conversation, error) {
	c, err := s.store.FindConversation(ctx, key)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Conversation{}, transient("find conversation", err)
	}

	p1, p2 := a, b
	if p1 > p2 {
		p1, p2 = p2, p1
	}
	c, err = s.store.CreateConversation(ctx, Conversation{
		Key:          key,
		Participant1: p1,
		Participant2: p2,
		SubjectID:    subject,
		Status:       StatusActive,
		CreatedAt:    s.now(),
	})
	if err == nil {
		s.log.Debug("conversation.create.ok", "conversation_id", key)
		return c, nil
	}
	if !errors.Is(err, ErrConflict) {
		return Conversation{}, transient("create conversation", err)
	}

	c, err = s.store.FindConversation(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			err = errors.New("conversation vanished after create conflict")
		}
		return Conversation{}, transient("reread conversation", err)
	}
	return c, nil
}

// ConversationQuery pages and filters a conversation list.
type ConversationQuery struct {
	Page       int
	Size       int
	Status     string
	OnlyUnread bool
}

// Conversations lists userID's conversations, newest activity first, with userID's unread counts.
func (s *Service) Conversations(ctx context.Context, userID int64, q ConversationQuery) ([]ConversationView, error) {
	if userID <= 0 {
		return nil, invalid("missing_user", "user id is required")
	}
	page, size := clampPage(q.Page, q.Size, defaultConversationPageSize)

	var status Status
	if strings.TrimSpace(q.Status) != "" {
		st, err := ParseStatus(q.Status)
		if err != nil {
			return nil, err
		}
		status = st
	}

	convs, err := s.store.ListConversations(ctx, userID, ConversationFilter{
		Status:     status,
		OnlyUnread: q.OnlyUnread,
		Offset:     (page - 1) * size,
		Limit:      size,
	})
	if err != nil {
		return nil, transient("list conversations", err)
	}

	out := make([]ConversationView, 0, len(convs))
	for _, c := range convs {
		out = append(out, s.conversationView(ctx, c, userID))
	}
	return out, nil
}

// History returns one page of a conversation, oldest first. Non-participants get ErrForbidden
// whether or not the conversation exists.
func (s *Service) History(ctx context.Context, userID int64, key string, page, size int) ([]MessageView, error) {
	if _, err := s.authorize(ctx, userID, key); err != nil {
		return nil, err
	}
	page, size = clampPage(page, size, defaultHistoryPageSize)

	msgs, err := s.store.ListMessages(ctx, key, (page-1)*size, size)
	if err != nil {
		return nil, transient("list messages", err)
	}
	return newMessageViews(msgs), nil
}

// MarkRead zeroes userID's counter and flags their messages read, in that order, in one unit of work.
// A send that commits after the reset leaves counter 1 with that message unread; one that commits
// before the flip is counted and then flagged read.
func (s *Service) MarkRead(ctx context.Context, userID int64, key string) error {
	if _, err := s.authorize(ctx, userID, key); err != nil {
		return err
	}

	var flipped int64
	err := s.store.WithinTx(ctx, func(r Repo) error {
		if err := r.ResetUnread(ctx, key, userID); err != nil {
			return err
		}
		n, err := r.MarkRead(ctx, key, userID)
		flipped = n
		return err
	})
	if err != nil {
		return transient("mark read", err)
	}
	s.log.Debug("message.read.ok", "conversation_id", key, "user_id", userID, "flipped", flipped)
	return nil
}

// NewSince returns every message sent or received by userID after since, oldest first.
func (s *Service) NewSince(ctx context.Context, userID int64, since time.Time) ([]MessageView, error) {
	if userID <= 0 {
		return nil, invalid("missing_user", "user id is required")
	}
	msgs, err := s.store.ListNewSince(ctx, userID, since)
	if err != nil {
		return nil, transient("list new messages", err)
	}
	return newMessageViews(msgs), nil
}

// UnreadCount sums userID's counters across all conversations.
func (s *Service) UnreadCount(ctx context.Context, userID int64) (int, error) {
	if userID <= 0 {
		return 0, invalid("missing_user", "user id is required")
	}
	n, err := s.store.TotalUnread(ctx, userID)
	if err != nil {
		return 0, transient("total unread", err)
	}
	return n, nil
}

// GetOrCreateConversation opens (or returns) the conversation between userID and otherID.
func (s *Service) GetOrCreateConversation(ctx context.Context, userID, otherID int64, subject *int64) (ConversationView, error) {
	if userID <= 0 {
		return ConversationView{}, invalid("missing_user", "user id is required")
	}
	if otherID <= 0 {
		return ConversationView{}, invalid("missing_receiver", "otherUserId is required")
	}
	key, err := ResolveKey(userID, otherID, subject)
	if err != nil {
		return ConversationView{}, err
	}
	c, err := s.ensureConversation(ctx, key, userID, otherID, subject)
	if err != nil {
		return ConversationView{}, err
	}
	return s.conversationView(ctx, c, userID), nil
}

// ConversationDetail returns one conversation as seen by userID.
func (s *Service) ConversationDetail(ctx context.Context, userID int64, key string) (ConversationView, error) {
	c, err := s.authorize(ctx, userID, key)
	if err != nil {
		return ConversationView{}, err
	}
	return s.conversationView(ctx, c, userID), nil
}

// UpdateStatus moves the conversation to status (ACTIVE, ARCHIVED, BLOCKED).
func (s *Service) UpdateStatus(ctx context.Context, userID int64, key, status string) (ConversationView, error) {
	st, err := ParseStatus(status)
	if err != nil {
		return ConversationView{}, err
	}
	c, err := s.authorize(ctx, userID, key)
	if err != nil {
		return ConversationView{}, err
	}
	if err := s.store.SetStatus(ctx, key, st); err != nil {
		return ConversationView{}, transient("set status", err)
	}
	c.Status = st
	s.log.Info("conversation.status.updated", "conversation_id", key, "user_id", userID, "status", string(st))
	return s.conversationView(ctx, c, userID), nil
}

// Message returns a single message to its sender or receiver.
func (s *Service) Message(ctx context.Context, userID int64, id string) (MessageView, error) {
	if userID <= 0 {
		return MessageView{}, invalid("missing_user", "user id is required")
	}
	if strings.TrimSpace(id) == "" {
		return MessageView{}, invalid("missing_message_id", "message id is required")
	}
	m, err := s.store.GetMessage(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return MessageView{}, notFound("message_not_found", "message not found")
	}
	if err != nil {
		return MessageView{}, transient("get message", err)
	}
	if m.SenderID != userID && m.ReceiverID != userID {
		return MessageView{}, forbidden()
	}
	return NewMessageView(m), nil
}

// authorize loads key and requires userID to be a participant. A missing conversation is
// reported as ErrForbidden so existence is not leaked.
func (s *Service) authorize(ctx context.Context, userID int64, key string) (Conversation, error) {
	if userID <= 0 {
		return Conversation{}, invalid("missing_user", "user id is required")
	}
	if strings.TrimSpace(key) == "" {
		return Conversation{}, invalid("missing_conversation_id", "conversation id is required")
	}
	c, err := s.store.FindConversation(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return Conversation{}, forbidden()
	}
	if err != nil {
		return Conversation{}, transient("find conversation", err)
	}
	if !c.HasParticipant(userID) {
		return Conversation{}, forbidden()
	}
	return c, nil
}

func (s *Service) conversationView(ctx context.Context, c Conversation, viewer int64) ConversationView {
	v := NewConversationView(c, viewer)
	if s.directory == nil {
		return v
	}
	name, err := s.directory.DisplayName(ctx, v.OtherPartyID)
	if err != nil {
		s.log.Debug("directory.lookup.failed", "user_id", v.OtherPartyID, "err", err)
		return v
	}
	v.OtherPartyName = name
	return v
}

func clampPage(page, size, def int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size < 1 || size > maxPageSize {
		size = def
	}
	return page, size
}

func preview(content string) string {
	if utf8.RuneCountInString(content) <= previewRunes {
		return content
	}
	r := []rune(content)
	return string(r[:previewRunes])
}
