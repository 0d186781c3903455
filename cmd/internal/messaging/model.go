package messaging

import (
	"strings"
	"time"
)

// Status is the lifecycle state of a conversation.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusArchived Status = "ARCHIVED"
	StatusBlocked  Status = "BLOCKED"
)

// ParseStatus normalizes s and rejects anything outside ACTIVE, ARCHIVED and BLOCKED.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", invalid("invalid_status", "status must be ACTIVE, ARCHIVED or BLOCKED")
	}
	return st, nil
}

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusArchived, StatusBlocked:
		return true
	default:
		return false
	}
}

// DefaultMessageType is used when a send request carries no type tag.
const DefaultMessageType = "TEXT"

// Message is a single persisted message. Only Read ever changes after append.
type Message struct {
	ID              string
	ConversationKey string
	SenderID        int64
	ReceiverID      int64
	SubjectID       *int64
	Content         string
	Type            string
	Read            bool
	CreatedAt       time.Time
}

// Conversation is the ledger row for a pair of users (+ optional subject).
//
// Participant1 is always the smaller id. Unread1/Unread2 belong to Participant1/Participant2.
type Conversation struct {
	Key           string
	Participant1  int64
	Participant2  int64
	SubjectID     *int64
	LastMessage   string
	LastMessageAt time.Time
	Unread1       int
	Unread2       int
	Status        Status
	CreatedAt     time.Time
}

// HasParticipant reports whether userID is one of the two parties.
func (c Conversation) HasParticipant(userID int64) bool {
	return userID > 0 && (userID == c.Participant1 || userID == c.Participant2)
}

// UnreadFor returns userID's counter, or 0 for a non-participant.
func (c Conversation) UnreadFor(userID int64) int {
	switch userID {
	case c.Participant1:
		return c.Unread1
	case c.Participant2:
		return c.Unread2
	default:
		return 0
	}
}

// OtherParty returns the participant that is not userID.
func (c Conversation) OtherParty(userID int64) int64 {
	if userID == c.Participant1 {
		return c.Participant2
	}
	return c.Participant1
}

// ConversationFilter narrows ListConversations.
type ConversationFilter struct {
	Status     Status // empty = any
	OnlyUnread bool   // only rows where the caller's counter > 0
	Offset     int
	Limit      int
}

// lastActivity is the ordering key for conversation lists.
func (c Conversation) lastActivity() time.Time {
	if c.LastMessageAt.IsZero() {
		return c.CreatedAt
	}
	return c.LastMessageAt
}

func cloneSubject(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
