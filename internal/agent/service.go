package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/itorigin/origin-chat/internal/domain"
	"github.com/itorigin/origin-chat/internal/feed"
	"github.com/itorigin/origin-chat/internal/metrics"
	"github.com/itorigin/origin-chat/internal/shared"
	"github.com/itorigin/origin-chat/internal/store"
)

const (
	defaultMaxContextTurns = 20
	defaultPersistTimeout  = 10 * time.Second
)

// Service runs chat turns: it persists the visitor's message, streams the
// assistant's reply and persists the completed reply.
type Service struct {
	repo            store.Repository
	processor       Processor
	publisher       feed.Publisher
	log             ConversationLogger
	logger          *slog.Logger
	maxContextTurns int
	persistTimeout  time.Duration
	now             func() time.Time
	newID           func() string
}

// ServiceOption customises a Service.
type ServiceOption func(*Service)

// WithPublisher sends conversation changes to p.
func WithPublisher(p feed.Publisher) ServiceOption {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithConversationLogger records transcripts to l.
func WithConversationLogger(l ConversationLogger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMaxContextTurns caps how many prior turns are sent to the model.
func WithMaxContextTurns(n int) ServiceOption {
	return func(s *Service) {
		if n >= 0 {
			s.maxContextTurns = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService creates a chat service. A nil processor disables the assistant:
// every turn is rejected with ASSISTANT_DISABLED before anything is stored.
func NewService(repo store.Repository, processor Processor, opts ...ServiceOption) *Service {
	s := &Service{
		repo:            repo,
		processor:       processor,
		publisher:       feed.Nop{},
		log:             nopConversationLogger{},
		logger:          slog.Default(),
		maxContextTurns: defaultMaxContextTurns,
		persistTimeout:  defaultPersistTimeout,
		now:             time.Now,
		newID:           uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TurnInput is one visitor message plus the context the widget holds.
type TurnInput struct {
	// ConversationID is empty for the first message of a session.
	ConversationID string
	VisitorName    string
	VisitorEmail   string
	// History holds prior turns, oldest first, excluding Message.
	History   []domain.ChatTurn
	Message   string
	RequestID string
}

// Turn is an accepted user message awaiting the assistant's reply.
type Turn struct {
	Conversation *domain.Conversation
	UserMessage  *domain.Message
	// Created is true when this turn started a new conversation.
	Created bool

	svc       *Service
	context   []domain.ChatTurn
	requestID string
}

func (s *Service) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

func (s *Service) storeError(op string, err error) *Error {
	if shared.IsDBConflictError(err) {
		return newError(ErrorStoreUnavailable, "conversation store is busy, try again", fmt.Errorf("%s: %w", op, err))
	}
	return newError(ErrorInternal, "failed to save conversation", fmt.Errorf("%s: %w", op, err))
}

// BeginTurn validates input and durably stores the user message. A new
// conversation is created together with its first message; an unknown
// conversation ID is rejected and nothing is stored.
func (s *Service) BeginTurn(ctx context.Context, in TurnInput) (*Turn, error) {
	text := strings.TrimSpace(in.Message)
	if text == "" {
		return nil, newError(ErrorInvalidInput, "message is required", nil)
	}
	if s.processor == nil {
		return nil, newError(ErrorAssistantDisabled, "the assistant is not configured", nil)
	}

	now := s.timestamp()
	turn := &Turn{svc: s, requestID: in.RequestID}

	if id := strings.TrimSpace(in.ConversationID); id != "" {
		conv, err := s.repo.GetConversation(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return nil, newError(ErrorConversationNotFound, "conversation not found", err)
		}
		if err != nil {
			return nil, s.storeError("load conversation", err)
		}

		// Never stamp a message earlier than the conversation's last activity.
		if last := conv.LastActivity(); now.Before(last) {
			now = last
		}
		msg := domain.NewMessage(s.newID(), conv.ID, domain.RoleUser, text, now)
		if err := s.repo.AppendMessage(ctx, msg); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, newError(ErrorConversationNotFound, "conversation not found", err)
			}
			return nil, s.storeError("append user message", err)
		}
		conv.LastMessageAt = &msg.CreatedAt
		conv.MessageCount++
		turn.Conversation, turn.UserMessage = conv, msg
	} else {
		conv := domain.NewConversation(s.newID(), in.VisitorName, in.VisitorEmail, now)
		msg := domain.NewMessage(s.newID(), conv.ID, domain.RoleUser, text, now)
		if err := s.repo.CreateConversation(ctx, conv, msg); err != nil {
			return nil, s.storeError("create conversation", err)
		}
		turn.Conversation, turn.UserMessage, turn.Created = conv, msg, true

		metrics.ConversationsCreatedTotal.Inc()
		s.publisher.Publish(feed.ConversationCreated(conv))
		s.logger.Info("Conversation created", "conversation_id", conv.ID, "request_id", in.RequestID)
	}

	metrics.MessagesPersistedTotal.WithLabelValues(string(domain.RoleUser)).Inc()
	s.publisher.Publish(feed.MessageCreated(turn.UserMessage))
	s.log.Log(ConversationLogEvent{
		ConversationID: turn.Conversation.ID,
		MessageID:      turn.UserMessage.ID,
		Channel:        "chat_http",
		Direction:      "inbound",
		EventType:      "chat_user_message",
		ContentRaw:     text,
		Meta:           map[string]any{"request_id": in.RequestID, "created": turn.Created},
	})

	turn.context = append(s.capHistory(in.History), domain.ChatTurn{Role: domain.RoleUser, Content: text})
	return turn, nil
}

func (s *Service) capHistory(history []domain.ChatTurn) []domain.ChatTurn {
	if len(history) > s.maxContextTurns {
		history = history[len(history)-s.maxContextTurns:]
	}
	out := make([]domain.ChatTurn, 0, len(history)+1)
	for _, h := range history {
		if strings.TrimSpace(h.Content) == "" {
			continue
		}
		out = append(out, h)
	}
	return out
}

// Context returns the turns sent to the model, oldest first.
func (t *Turn) Context() []domain.ChatTurn {
	return t.context
}

// Reply streams the assistant's reply to onToken and, once the stream
// completes, stores it as one agent message. Nothing is stored when the model
// fails, the reply is empty, or onToken returns an error. The store write is
// not tied to ctx cancellation, so a reply that finished streaming is kept
// even if the visitor disconnects right after.
func (t *Turn) Reply(ctx context.Context, onToken func(string) error) (*domain.Message, error) {
	s := t.svc
	start := time.Now()
	defer func() { metrics.ChatReplyDuration.Observe(time.Since(start).Seconds()) }()

	var reply strings.Builder
	for fragment, err := range s.processor.Chat(ctx, t.context) {
		if err != nil {
			return nil, t.fail(ctx, err, reply.Len())
		}
		reply.WriteString(fragment)
		if err := onToken(fragment); err != nil {
			metrics.ChatTurnsTotal.WithLabelValues("aborted").Inc()
			t.logPartial(reply.String(), "delivery failed: "+err.Error())
			return nil, fmt.Errorf("deliver reply fragment: %w", err)
		}
	}

	text := reply.String()
	if strings.TrimSpace(text) == "" {
		metrics.ChatTurnsTotal.WithLabelValues("empty_reply").Inc()
		return nil, newError(ErrorUpstream, "the assistant returned an empty reply", nil)
	}

	at := s.timestamp()
	if at.Before(t.UserMessage.CreatedAt) {
		at = t.UserMessage.CreatedAt
	}
	msg := domain.NewMessage(s.newID(), t.Conversation.ID, domain.RoleAgent, text, at)

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.persistTimeout)
	defer cancel()
	if err := s.repo.AppendMessage(persistCtx, msg); err != nil {
		metrics.ChatTurnsTotal.WithLabelValues("store_error").Inc()
		if errors.Is(err, store.ErrNotFound) {
			return nil, newError(ErrorConversationNotFound, "conversation was deleted", err)
		}
		return nil, s.storeError("append agent message", err)
	}

	metrics.ChatTurnsTotal.WithLabelValues("completed").Inc()
	metrics.MessagesPersistedTotal.WithLabelValues(string(domain.RoleAgent)).Inc()
	s.publisher.Publish(feed.MessageCreated(msg))
	s.log.Log(ConversationLogEvent{
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		Channel:        "chat_http",
		Direction:      "outbound",
		EventType:      "chat_agent_message",
		ContentRaw:     text,
		Meta:           map[string]any{"request_id": t.requestID, "duration_ms": time.Since(start).Milliseconds()},
	})
	return msg, nil
}

func (t *Turn) fail(ctx context.Context, err error, partialLen int) error {
	s := t.svc
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		metrics.ChatTurnsTotal.WithLabelValues("aborted").Inc()
		s.logger.Info("Chat reply aborted", "conversation_id", t.Conversation.ID, "partial_bytes", partialLen)
		return newError(ErrorInternal, "reply aborted", ctx.Err())
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		metrics.ChatTurnsTotal.WithLabelValues("upstream_error").Inc()
		s.logger.Warn("Chat reply timed out", "conversation_id", t.Conversation.ID, "partial_bytes", partialLen)
		return newError(ErrorUpstream, "the assistant took too long to reply", err)
	default:
		metrics.ChatTurnsTotal.WithLabelValues("upstream_error").Inc()
		s.logger.Error("Agent stream failed", "conversation_id", t.Conversation.ID, "error", err, "partial_bytes", partialLen)
		return newError(ErrorUpstream, "the assistant is temporarily unavailable", err)
	}
}

func (t *Turn) logPartial(content, reason string) {
	t.svc.log.Log(ConversationLogEvent{
		ConversationID: t.Conversation.ID,
		Channel:        "chat_http",
		Direction:      "outbound",
		EventType:      "chat_agent_partial",
		ContentRaw:     content,
		Meta:           map[string]any{"request_id": t.requestID, "reason": reason},
	})
}

// Close releases the processor.
func (s *Service) Close() {
	if s.processor != nil {
		s.processor.Close()
	}
}
