package domain

import (
	"errors"
	"strings"
	"time"
)

var ErrEmptyMessage = errors.New("message content cannot be empty")

type SenderKind string

const (
	SenderSelf   SenderKind = "self"
	SenderPeer   SenderKind = "peer"
	SenderSystem SenderKind = "system"
)

// Message is one immutable entry of the session's chat log. Peer text,
// local text and system notices share the same stream.
type Message struct {
	ID        MessageID  `json:"id"`
	Sender    SenderKind `json:"sender"`
	SenderID  PeerID     `json:"sender_id"`
	Content   string     `json:"content"`
	Timestamp time.Time  `json:"timestamp"`
}

func NewMessage(sender SenderKind, senderID PeerID, content string, at time.Time) (*Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyMessage
	}
	return &Message{
		ID:        NewMessageID(),
		Sender:    sender,
		SenderID:  senderID,
		Content:   content,
		Timestamp: at,
	}, nil
}

func NewNotice(content string, at time.Time) Message {
	return Message{
		ID:        NewMessageID(),
		Sender:    SenderSystem,
		SenderID:  SystemID,
		Content:   content,
		Timestamp: at,
	}
}

func (m Message) IsSystem() bool {
	return m.Sender == SenderSystem
}
