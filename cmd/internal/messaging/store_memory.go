package messaging

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// InMemoryStore is a dev-only Store used when no database is configured.
//
// Every operation is atomic under mu. WithinTx serializes units of work against each
// other through txMu; it does not roll back on error. Appended messages get strictly
// increasing CreatedAt values, so a cursor taken from one message never hides a later one.
type InMemoryStore struct {
	txMu sync.Mutex

	mu          sync.Mutex
	lastCreated time.Time
	msgs        []Message
	byID        map[string]int
	byConv      map[string][]int
	byUser      map[int64][]int
	convs       map[string]*Conversation
}

// NewInMemoryStore constructs an empty in-memory Store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		msgs:   make([]Message, 0, 256),
		byID:   make(map[string]int),
		byConv: make(map[string][]int),
		byUser: make(map[int64][]int),
		convs:  make(map[string]*Conversation),
	}
}

// Close is a noop for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }

// WithinTx runs fn with exclusive access to the unit-of-work lock.
func (s *InMemoryStore) WithinTx(ctx context.Context, fn func(Repo) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return fn(s)
}

func (s *InMemoryStore) AppendMessage(ctx context.Context, m Message) (Message, error) {
	if strings.TrimSpace(m.ConversationKey) == "" {
		return Message{}, errors.New("messaging: missing conversation key")
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	if m.Type == "" {
		m.Type = DefaultMessageType
	}
	m.SubjectID = cloneSubject(m.SubjectID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.convs[m.ConversationKey]; !ok {
		return Message{}, fmt.Errorf("messaging: conversation %q: %w", m.ConversationKey, ErrNotFound)
	}

	m.CreatedAt = nextCreated(storeTime(m.CreatedAt), s.lastCreated)
	if m.ID == "" {
		id, err := NewMessageID(m.CreatedAt)
		if err != nil {
			return Message{}, fmt.Errorf("messaging: new message id: %w", err)
		}
		m.ID = id
	}
	if _, dup := s.byID[m.ID]; dup {
		return Message{}, fmt.Errorf("messaging: message %q: %w", m.ID, ErrConflict)
	}
	s.lastCreated = m.CreatedAt

	idx := len(s.msgs)
	s.msgs = append(s.msgs, m)
	s.byID[m.ID] = idx
	s.byConv[m.ConversationKey] = append(s.byConv[m.ConversationKey], idx)
	s.byUser[m.SenderID] = append(s.byUser[m.SenderID], idx)
	if m.ReceiverID != m.SenderID {
		s.byUser[m.ReceiverID] = append(s.byUser[m.ReceiverID], idx)
	}
	return m, nil
}

func (s *InMemoryStore) ListMessages(ctx context.Context, key string, offset, limit int) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit = clampLimit(limit)
	if offset < 0 {
		offset = 0
	}

	s.mu.Lock()
	snap := s.collect(s.byConv[key])
	s.mu.Unlock()

	sortByCreated(snap)
	if offset >= len(snap) {
		return []Message{}, nil
	}
	end := offset + limit
	if end > len(snap) {
		end = len(snap)
	}
	return snap[offset:end], nil
}

func (s *InMemoryStore) ListNewSince(ctx context.Context, userID int64, since time.Time) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	idxs := s.byUser[userID]
	out := make([]Message, 0)
	for _, i := range idxs {
		if s.msgs[i].CreatedAt.After(since) {
			out = append(out, copyMessage(s.msgs[i]))
		}
	}
	s.mu.Unlock()

	sortByCreated(out)
	return out, nil
}

func (s *InMemoryStore) MarkRead(ctx context.Context, key string, userID int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, i := range s.byConv[key] {
		if s.msgs[i].ReceiverID == userID && !s.msgs[i].Read {
			s.msgs[i].Read = true
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) GetMessage(ctx context.Context, id string) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.byID[id]
	if !ok {
		return Message{}, ErrNotFound
	}
	return copyMessage(s.msgs[i]), nil
}

func (s *InMemoryStore) FindConversation(ctx context.Context, key string) (Conversation, error) {
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[key]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return copyConversation(*c), nil
}

// CreateConversation is check-and-insert under mu, so exactly one concurrent caller wins.
func (s *InMemoryStore) CreateConversation(ctx context.Context, c Conversation) (Conversation, error) {
	if strings.TrimSpace(c.Key) == "" {
		return Conversation{}, errors.New("messaging: missing conversation key")
	}
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}

	c = copyConversation(c)
	c.CreatedAt = storeTime(c.CreatedAt)
	if c.Status == "" {
		c.Status = StatusActive
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.convs[c.Key]; exists {
		return Conversation{}, ErrConflict
	}
	s.convs[c.Key] = &c
	return copyConversation(c), nil
}

func (s *InMemoryStore) TouchLastMessage(ctx context.Context, key, preview string, at time.Time) error {
	return s.update(ctx, key, func(c *Conversation) error {
		c.LastMessage = preview
		c.LastMessageAt = storeTime(at)
		return nil
	})
}

func (s *InMemoryStore) IncrementUnread(ctx context.Context, key string, participant int64) error {
	return s.update(ctx, key, func(c *Conversation) error {
		switch participant {
		case c.Participant1:
			c.Unread1++
		case c.Participant2:
			c.Unread2++
		default:
			return ErrNotFound
		}
		return nil
	})
}

func (s *InMemoryStore) ResetUnread(ctx context.Context, key string, participant int64) error {
	return s.update(ctx, key, func(c *Conversation) error {
		switch participant {
		case c.Participant1:
			c.Unread1 = 0
		case c.Participant2:
			c.Unread2 = 0
		default:
			return ErrNotFound
		}
		return nil
	})
}

func (s *InMemoryStore) SetStatus(ctx context.Context, key string, status Status) error {
	if !status.Valid() {
		return invalid("invalid_status", "status must be ACTIVE, ARCHIVED or BLOCKED")
	}
	return s.update(ctx, key, func(c *Conversation) error {
		c.Status = status
		return nil
	})
}

func (s *InMemoryStore) TotalUnread(ctx context.Context, userID int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for _, c := range s.convs {
		total += c.UnreadFor(userID)
	}
	return total, nil
}

func (s *InMemoryStore) ListConversations(ctx context.Context, userID int64, f ConversationFilter) ([]Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit := clampLimit(f.Limit)
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	s.mu.Lock()
	out := make([]Conversation, 0)
	for _, c := range s.convs {
		if !c.HasParticipant(userID) {
			continue
		}
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		if f.OnlyUnread && c.UnreadFor(userID) == 0 {
			continue
		}
		out = append(out, copyConversation(*c))
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		ai, aj := out[i].lastActivity(), out[j].lastActivity()
		if !ai.Equal(aj) {
			return ai.After(aj)
		}
		return out[i].Key < out[j].Key
	})

	if offset >= len(out) {
		return []Conversation{}, nil
	}
	end := offset + limit
	if end > len(out) {
		end = len(out)
	}
	return out[offset:end], nil
}

func (s *InMemoryStore) update(ctx context.Context, key string, fn func(*Conversation) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[key]
	if !ok {
		return ErrNotFound
	}
	return fn(c)
}

// collect copies the messages at idxs. Caller holds mu.
func (s *InMemoryStore) collect(idxs []int) []Message {
	out := make([]Message, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, copyMessage(s.msgs[i]))
	}
	return out
}

func sortByCreated(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].CreatedAt.Before(msgs[j].CreatedAt) })
}

func copyMessage(m Message) Message {
	m.SubjectID = cloneSubject(m.SubjectID)
	return m
}

func copyConversation(c Conversation) Conversation {
	c.SubjectID = cloneSubject(c.SubjectID)
	return c
}
