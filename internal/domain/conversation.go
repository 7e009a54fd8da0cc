// Package domain contains core domain types for the chat backend.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// ConversationStatus is the operator-managed lifecycle state of a conversation.
type ConversationStatus string

const (
	// StatusActive is the initial state of every conversation.
	StatusActive ConversationStatus = "active"
	// StatusClosed marks a conversation an operator has finished handling.
	StatusClosed ConversationStatus = "closed"
	// StatusArchived marks a conversation kept only for the record.
	StatusArchived ConversationStatus = "archived"
)

// Valid reports whether s is one of the known statuses.
func (s ConversationStatus) Valid() bool {
	switch s {
	case StatusActive, StatusClosed, StatusArchived:
		return true
	}
	return false
}

// ParseConversationStatus parses a status name, ignoring case and surrounding space.
func ParseConversationStatus(raw string) (ConversationStatus, error) {
	s := ConversationStatus(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown conversation status %q", raw)
	}
	return s, nil
}

// Conversation is a persisted thread of chat turns with one visitor session.
type Conversation struct {
	ID            string             `json:"id"`
	VisitorName   string             `json:"visitorName,omitempty"`
	VisitorEmail  string             `json:"visitorEmail,omitempty"`
	Status        ConversationStatus `json:"status"`
	CreatedAt     time.Time          `json:"createdAt"`
	UpdatedAt     time.Time          `json:"updatedAt"`
	LastMessageAt *time.Time         `json:"lastMessageAt"`
	// MessageCount is derived from the message rows at read time.
	MessageCount int `json:"messageCount"`
}

// NewConversation returns an active conversation created at now.
func NewConversation(id, visitorName, visitorEmail string, now time.Time) *Conversation {
	return &Conversation{
		ID:           id,
		VisitorName:  strings.TrimSpace(visitorName),
		VisitorEmail: strings.TrimSpace(visitorEmail),
		Status:       StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// LastActivity returns the time of the latest message, or the creation time.
func (c *Conversation) LastActivity() time.Time {
	if c.LastMessageAt != nil {
		return *c.LastMessageAt
	}
	return c.CreatedAt
}
