package models

import (
	"time"

	"github.com/google/uuid"
)

type Sender string

const (
	SenderUser Sender = "user"
	SenderAI   Sender = "ai"
)

// ChatMessage is one entry of a chat transcript.
type ChatMessage struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Sender    Sender    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`

	// Local messages are shown to the user but never replayed to the model.
	Local bool `json:"local,omitempty"`
}

func NewChatMessage(sender Sender, text string) ChatMessage {
	return ChatMessage{
		ID:        uuid.NewString(),
		Text:      text,
		Sender:    sender,
		Timestamp: time.Now().UTC(),
	}
}

// NewLocalMessage creates a UI-only message.
func NewLocalMessage(sender Sender, text string) ChatMessage {
	msg := NewChatMessage(sender, text)
	msg.Local = true
	return msg
}

func (m ChatMessage) IsUser() bool {
	return m.Sender == SenderUser
}
