package chatclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/go-resty/resty/v2"
)

const (
	roleUser  = "user"
	roleAgent = "agent"

	maxSSELine = 1 << 20
)

// Turn is one message held by the session.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Messages       []Turn `json:"messages"`
	ConversationID string `json:"conversationId,omitempty"`
	VisitorName    string `json:"visitorName,omitempty"`
	VisitorEmail   string `json:"visitorEmail,omitempty"`
}

// Reply is a completed assistant reply.
type Reply struct {
	ConversationID string
	MessageID      string
	Content        string
}

// Session is one chat widget instance. The conversation ID is assigned by
// the server on the first send and reused for every later send. At most one
// send is in flight at a time.
type Session struct {
	client *resty.Client

	mu             sync.Mutex
	busy           bool
	conversationID string
	visitorName    string
	visitorEmail   string
	turns          []Turn
}

// NewSession creates a session against the chat API at baseURL.
func NewSession(baseURL string, opts ...Option) *Session {
	return &Session{client: newResty(baseURL, opts...)}
}

// SetVisitor records the visitor's optional name and email, sent with the
// message that creates the conversation.
func (s *Session) SetVisitor(name, email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visitorName, s.visitorEmail = strings.TrimSpace(name), strings.TrimSpace(email)
}

// ConversationID returns the captured conversation ID, or "" before the first send.
func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// Turns returns a copy of the session's messages.
func (s *Session) Turns() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Turn(nil), s.turns...)
}

// Busy reports whether a send is in flight.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// Resume continues an existing conversation, e.g. after a page reload.
func (s *Session) Resume(conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return ErrBusy
	}
	s.conversationID = strings.TrimSpace(conversationID)
	s.turns = nil
	return nil
}

// Reset clears the session so the next send starts a new conversation.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return ErrBusy
	}
	s.conversationID = ""
	s.visitorName, s.visitorEmail = "", ""
	s.turns = nil
	return nil
}

func (s *Session) begin(text string) (chatRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return chatRequest{}, ErrBusy
	}
	s.busy = true

	msgs := make([]Turn, 0, len(s.turns)+1)
	msgs = append(msgs, s.turns...)
	msgs = append(msgs, Turn{Role: roleUser, Content: text})
	return chatRequest{
		Messages:       msgs,
		ConversationID: s.conversationID,
		VisitorName:    s.visitorName,
		VisitorEmail:   s.visitorEmail,
	}, nil
}

func (s *Session) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
}

// captureID stores the server-assigned ID the first time one is seen.
func (s *Session) captureID(id string) {
	if id == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conversationID == "" {
		s.conversationID = id
		return
	}
	if s.conversationID != id {
		slog.Warn("Server returned a different conversation id, keeping the first",
			"conversation_id", s.conversationID, "returned", id)
	}
}

func (s *Session) appendTurn(t Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, t)
}

// Send posts text and streams the reply to onToken, which may be nil.
//
// The conversation ID is captured from the response headers before the body
// is read, so it survives a stream that fails midway. Once the server has
// accepted the message the user turn is kept; the agent turn is added only
// when the reply completes. Failed sends are not retried.
func (s *Session) Send(ctx context.Context, text string, onToken func(string)) (*Reply, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	body, err := s.begin(text)
	if err != nil {
		return nil, err
	}
	defer s.end()

	resp, err := s.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		SetHeader("Accept", "text/event-stream").
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post("/api/chat")
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	raw := resp.RawResponse
	defer func() {
		if raw != nil && raw.Body != nil {
			_ = raw.Body.Close()
		}
	}()

	if resp.IsError() {
		return nil, readAPIError(resp)
	}

	s.captureID(resp.Header().Get(ConversationIDHeader))
	s.appendTurn(Turn{Role: roleUser, Content: text})

	reply, err := readReply(raw.Body, onToken)
	if err != nil {
		return nil, err
	}
	reply.ConversationID = s.ConversationID()
	s.appendTurn(Turn{Role: roleAgent, Content: reply.Content})
	return reply, nil
}

type tokenEvent struct {
	Content string `json:"content"`
}

type doneEvent struct {
	MessageID string `json:"messageId"`
}

type errorEvent struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// readReply consumes server-sent events until done or error.
func readReply(body io.Reader, onToken func(string)) (*Reply, error) {
	var (
		content strings.Builder
		event   string
		data    strings.Builder
	)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64<<10), maxSSELine)

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if event == "" && data.Len() == 0 {
				continue
			}
			payload := data.String()
			switch event {
			case "token":
				var tok tokenEvent
				if err := json.Unmarshal([]byte(payload), &tok); err != nil {
					return nil, fmt.Errorf("decode token event: %w", err)
				}
				content.WriteString(tok.Content)
				if onToken != nil {
					onToken(tok.Content)
				}
			case "done":
				var done doneEvent
				if err := json.Unmarshal([]byte(payload), &done); err != nil {
					return nil, fmt.Errorf("decode done event: %w", err)
				}
				return &Reply{MessageID: done.MessageID, Content: content.String()}, nil
			case "error":
				var e errorEvent
				if err := json.Unmarshal([]byte(payload), &e); err != nil {
					return nil, &StreamError{Code: StreamInterrupted, Message: payload}
				}
				return nil, &StreamError{Code: e.Error, Message: e.Message}
			}
			event = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &StreamError{Code: StreamInterrupted, Message: err.Error()}
	}
	return nil, &StreamError{Code: StreamInterrupted, Message: "stream ended before the reply completed"}
}
