package agent

import (
	"context"
	"iter"

	"github.com/itorigin/origin-chat/internal/domain"
)

// Processor is the completion collaborator: it turns a conversation context
// into a stream of reply fragments.
type Processor interface {
	// Chat streams reply fragments for turns, the last of which is the new
	// user message. The sequence ends after the final fragment or the first error.
	Chat(ctx context.Context, turns []domain.ChatTurn) iter.Seq2[string, error]

	// Close releases resources
	Close()
}

// Ensure OpenAIClient implements Processor.
var _ Processor = (*OpenAIClient)(nil)
