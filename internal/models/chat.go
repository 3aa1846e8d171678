package models

import (
	"time"

	"github.com/google/uuid"
)

type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// ChatMessage is one bubble of the conversation.
type ChatMessage struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Sender    Sender    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
	Emotion   string    `json:"emotion,omitempty"`
	IsRead    bool      `json:"isRead"`
}

// NewChatMessage creates a message with a fresh id. User messages start
// unread until the bot "reads" them; bot messages are read immediately.
func NewChatMessage(content string, sender Sender, now time.Time) ChatMessage {
	return ChatMessage{
		ID:        uuid.New().String(),
		Content:   content,
		Sender:    sender,
		Timestamp: now,
		IsRead:    sender == SenderBot,
	}
}

// HistoryEntry is the trimmed sender/content pair sent as silence context.
type HistoryEntry struct {
	Sender  Sender `json:"sender"`
	Content string `json:"content"`
}
