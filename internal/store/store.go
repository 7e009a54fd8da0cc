// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/itorigin/origin-chat/internal/domain"
)

// ErrNotFound is returned when the referenced conversation does not exist.
var ErrNotFound = errors.New("conversation not found")

// Repository defines the interface for persisting conversations and their messages.
type Repository interface {
	// CreateConversation inserts a conversation together with its first message.
	// Either both rows are written or neither is.
	CreateConversation(ctx context.Context, conv *domain.Conversation, first *domain.Message) error

	// AppendMessage inserts a message and advances the parent's last_message_at
	// in one transaction. Returns ErrNotFound if the parent is missing.
	AppendMessage(ctx context.Context, msg *domain.Message) error

	// GetConversation retrieves a conversation with its derived message count.
	GetConversation(ctx context.Context, id string) (*domain.Conversation, error)

	// ListConversations returns one page of conversations matching filter and
	// the total number of matches for the same filter.
	ListConversations(ctx context.Context, filter domain.ConversationFilter) ([]*domain.Conversation, int64, error)

	// ListMessages returns a conversation's messages in chronological order.
	ListMessages(ctx context.Context, conversationID string) ([]*domain.Message, error)

	// UpdateConversationStatus sets the status and returns the updated record.
	UpdateConversationStatus(ctx context.Context, id string, status domain.ConversationStatus, at time.Time) (*domain.Conversation, error)

	// DeleteConversation removes a conversation and all of its messages,
	// returning the number of messages deleted.
	DeleteConversation(ctx context.Context, id string) (int64, error)

	// ArchiveInactive archives active and closed conversations whose last
	// activity is before cutoff and returns their IDs.
	ArchiveInactive(ctx context.Context, cutoff, at time.Time) ([]string, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
