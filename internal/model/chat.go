package model

import "time"

// MessageRole is the author of a chat message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Chat is a persisted conversation.
type Chat struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// ChatMessage is one turn in a conversation. Attachments are present only on
// user turns that carried files.
type ChatMessage struct {
	ID          string       `json:"id"`
	ChatID      string       `json:"chatId"`
	Role        MessageRole  `json:"role"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
}

// Session is the caller-supplied identity threaded through every operation.
type Session struct {
	UserID string `json:"user_id"`
}
