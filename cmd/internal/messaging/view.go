package messaging

import "time"

// MessageView is the client-facing rendering of a Message. Times are unix millis.
type MessageView struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
	SenderID       int64  `json:"senderId"`
	ReceiverID     int64  `json:"receiverId"`
	ProductID      *int64 `json:"productId,omitempty"`
	Content        string `json:"content"`
	MessageType    string `json:"messageType"`
	Read           bool   `json:"isRead"`
	SendTime       int64  `json:"sendTime"`
}

// ConversationView is a conversation as seen by one of its participants.
type ConversationView struct {
	ConversationID  string `json:"conversationId"`
	Participant1ID  int64  `json:"participant1Id"`
	Participant2ID  int64  `json:"participant2Id"`
	ProductID       *int64 `json:"productId,omitempty"`
	LastMessage     string `json:"lastMessage"`
	LastMessageTime int64  `json:"lastMessageTime,omitempty"`
	Status          Status `json:"status"`
	UnreadCount     int    `json:"unreadCount"`
	OtherPartyID    int64  `json:"otherPartyId"`
	OtherPartyName  string `json:"otherPartyName,omitempty"`
	CreateTime      int64  `json:"createTime"`
}

// NewMessageView renders m.
func NewMessageView(m Message) MessageView {
	return MessageView{
		MessageID:      m.ID,
		ConversationID: m.ConversationKey,
		SenderID:       m.SenderID,
		ReceiverID:     m.ReceiverID,
		ProductID:      cloneSubject(m.SubjectID),
		Content:        m.Content,
		MessageType:    m.Type,
		Read:           m.Read,
		SendTime:       UnixMilli(m.CreatedAt),
	}
}

// NewConversationView renders c relative to viewer: unread count and other party are the viewer's.
func NewConversationView(c Conversation, viewer int64) ConversationView {
	return ConversationView{
		ConversationID:  c.Key,
		Participant1ID:  c.Participant1,
		Participant2ID:  c.Participant2,
		ProductID:       cloneSubject(c.SubjectID),
		LastMessage:     c.LastMessage,
		LastMessageTime: UnixMilli(c.LastMessageAt),
		Status:          c.Status,
		UnreadCount:     c.UnreadFor(viewer),
		OtherPartyID:    c.OtherParty(viewer),
		CreateTime:      UnixMilli(c.CreatedAt),
	}
}

func newMessageViews(msgs []Message) []MessageView {
	out := make([]MessageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, NewMessageView(m))
	}
	return out
}

// UnixMilli returns t in unix milliseconds, or 0 for the zero time.
func UnixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromUnixMilli is the inverse of UnixMilli; ms <= 0 yields the zero time.
func FromUnixMilli(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
