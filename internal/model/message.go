package model

import (
	"fmt"
	"time"
)

type (
	Message struct {
		ID               int64     `json:"id" bson:"_id"`
		ConversationKey  string    `json:"-" bson:"conversation_key"`
		SenderID         string    `json:"sender_id" bson:"sender_id"`
		ReceiverID       string    `json:"receiver_id" bson:"receiver_id"`
		Body             string    `json:"body" bson:"body"`
		LogicalTimestamp int64     `json:"logical_ts" bson:"logical_ts"`
		CreatedAt        time.Time `json:"created_at" bson:"created_at"`
	}

	// ConversationKey is the unordered pair of participants, smaller id first.
	ConversationKey struct {
		Low  string
		High string
	}

	Page struct {
		Messages   []*Message `json:"messages"`
		NextCursor string     `json:"next_cursor,omitempty"`
	}
)

func NewConversationKey(a, b string) ConversationKey {
	if a > b {
		a, b = b, a
	}
	return ConversationKey{Low: a, High: b}
}

func (k ConversationKey) String() string {
	return fmt.Sprintf("%s:%s", k.Low, k.High)
}

// Has reports whether userID is one of the two participants.
func (k ConversationKey) Has(userID string) bool {
	return k.Low == userID || k.High == userID
}

func (m *Message) Key() ConversationKey {
	return NewConversationKey(m.SenderID, m.ReceiverID)
}

func (m *Message) Clone() *Message {
	c := *m
	return &c
}
