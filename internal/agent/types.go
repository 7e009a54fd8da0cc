// Package agent implements the public chat endpoint and its AI assistant.
package agent

// ChatMessage is one turn as sent by the chat widget.
type ChatMessage struct {
	Role    string `json:"role" validate:"required,oneof=user agent assistant"`
	Content string `json:"content" validate:"required,max=8000"`
}

// ChatRequest is the body of POST /api/chat. The last message is the new
// user text; earlier ones are context the widget already holds.
type ChatRequest struct {
	Messages       []ChatMessage `json:"messages" validate:"required,min=1,max=200,dive"`
	ConversationID string        `json:"conversationId,omitempty" validate:"omitempty,max=64"`
	VisitorName    string        `json:"visitorName,omitempty" validate:"omitempty,max=120"`
	VisitorEmail   string        `json:"visitorEmail,omitempty" validate:"omitempty,email,max=254"`
}

// TokenEvent carries one reply fragment.
type TokenEvent struct {
	Content string `json:"content"`
}

// DoneEvent ends a successful stream.
type DoneEvent struct {
	MessageID string `json:"messageId"`
}

// ErrorEvent ends a failed stream.
type ErrorEvent struct {
	Error   ErrorCode `json:"error"`
	Message string    `json:"message"`
}

// ErrorResponse is the JSON body of a request rejected before streaming.
type ErrorResponse struct {
	Error  ErrorCode `json:"error"`
	Reason string    `json:"reason"`
}

const (
	sseEventToken = "token"
	sseEventDone  = "done"
	sseEventError = "error"
)
