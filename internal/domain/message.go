package domain

import (
	"fmt"
	"strings"
	"time"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// ParseRole parses a role name. "assistant" is accepted as an alias of agent.
func ParseRole(raw string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "user":
		return RoleUser, nil
	case "agent", "assistant":
		return RoleAgent, nil
	}
	return "", fmt.Errorf("unknown message role %q", raw)
}

// Message is one turn's text, owned by exactly one conversation.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
}

// NewMessage builds a message created at now.
func NewMessage(id, conversationID string, role Role, content string, now time.Time) *Message {
	return &Message{
		ID:             id,
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      now,
	}
}

// ChatTurn is a provider-agnostic role/content pair used as model context.
type ChatTurn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
