package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/itorigin/origin-chat/internal/domain"
	"github.com/itorigin/origin-chat/internal/identity"
	"github.com/itorigin/origin-chat/internal/metrics"
	"github.com/itorigin/origin-chat/internal/middleware"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (64KB).
const defaultMaxRequestBodySize = 64 << 10

// HandlerConfig bounds the chat endpoint.
type HandlerConfig struct {
	MaxBodyBytes  int64
	StreamTimeout time.Duration
}

// Handler serves the public chat endpoint.
type Handler struct {
	svc         *Service
	rateLimiter *RateLimiter
	validate    *validator.Validate
	cfg         HandlerConfig
}

// NewHandler creates a chat handler. A nil rate limiter disables limiting.
func NewHandler(svc *Service, rateLimiter *RateLimiter, cfg HandlerConfig) *Handler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxRequestBodySize
	}
	if cfg.StreamTimeout <= 0 {
		cfg.StreamTimeout = 2 * time.Minute
	}
	if rateLimiter == nil {
		rateLimiter = NewRateLimiter(0, 0)
	}
	return &Handler{
		svc:         svc,
		rateLimiter: rateLimiter,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		cfg:         cfg,
	}
}

// RegisterRoutes mounts the chat endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/chat", h.HandleChat)
}

// Close stops background work.
func (h *Handler) Close() {
	h.rateLimiter.Stop()
	h.svc.Close()
}

func writeError(w http.ResponseWriter, err error) {
	status, agentErr := HTTPStatus(err)
	metrics.ChatTurnsTotal.WithLabelValues(string(agentErr.Code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(ErrorResponse{Error: agentErr.Code, Reason: agentErr.Reason}); encErr != nil {
		slog.Warn("Failed to encode chat error", "error", encErr)
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (*ChatRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes)

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, newError(ErrorInvalidInput, "request body too large", err)
		}
		return nil, newError(ErrorInvalidInput, "invalid request body", err)
	}
	if err := h.validate.Struct(&req); err != nil {
		return nil, newError(ErrorInvalidInput, validationReason(err), err)
	}
	return &req, nil
}

func validationReason(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Sprintf("%s failed %q validation", fe.Namespace(), fe.Tag())
	}
	return "invalid request"
}

// toTurnInput splits the widget's messages into history and the new user text.
func toTurnInput(req *ChatRequest, requestID string) (TurnInput, error) {
	last := req.Messages[len(req.Messages)-1]
	if role, err := domain.ParseRole(last.Role); err != nil || role != domain.RoleUser {
		return TurnInput{}, newError(ErrorInvalidInput, "last message must come from the user", err)
	}

	history := make([]domain.ChatTurn, 0, len(req.Messages)-1)
	for _, m := range req.Messages[:len(req.Messages)-1] {
		role, err := domain.ParseRole(m.Role)
		if err != nil {
			return TurnInput{}, newError(ErrorInvalidInput, err.Error(), err)
		}
		history = append(history, domain.ChatTurn{Role: role, Content: m.Content})
	}

	return TurnInput{
		ConversationID: req.ConversationID,
		VisitorName:    req.VisitorName,
		VisitorEmail:   req.VisitorEmail,
		History:        history,
		Message:        last.Content,
		RequestID:      requestID,
	}, nil
}

// HandleChat accepts one visitor message and streams the assistant's reply
// as server-sent events. The conversation ID header is flushed before the
// first token so the client can capture it even if the stream fails.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	reqID := chiMiddleware.GetReqID(r.Context())

	if !h.rateLimiter.Allow(identity.ClientKey(r)) {
		writeError(w, newError(ErrorRateLimited, "too many messages, slow down", nil))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, newError(ErrorInternal, "streaming not supported", nil))
		return
	}

	req, err := h.decode(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	in, err := toTurnInput(req, reqID)
	if err != nil {
		writeError(w, err)
		return
	}

	turn, err := h.svc.BeginTurn(r.Context(), in)
	if err != nil {
		status, agentErr := HTTPStatus(err)
		slog.Warn("Chat turn rejected",
			"request_id", reqID,
			"conversation_id", in.ConversationID,
			"status", status,
			"code", agentErr.Code,
			"error", err,
		)
		writeError(w, err)
		return
	}

	slog.Info("Agent chat request",
		"request_id", reqID,
		"conversation_id", turn.Conversation.ID,
		"created", turn.Created,
		"context_turns", len(turn.Context()),
		"message_length", len(in.Message),
	)

	w.Header().Set(middleware.ConversationIDHeader, turn.Conversation.ID)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.StreamTimeout)
	defer cancel()

	msg, err := turn.Reply(ctx, func(fragment string) error {
		if err := writeSSEJSON(w, sseEventToken, TokenEvent{Content: fragment}); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		if r.Context().Err() != nil {
			slog.Info("Chat client disconnected", "request_id", reqID, "conversation_id", turn.Conversation.ID)
			return
		}
		_, agentErr := HTTPStatus(err)
		if writeErr := writeSSEJSON(w, sseEventError, ErrorEvent{Error: agentErr.Code, Message: agentErr.Reason}); writeErr != nil {
			slog.Warn("Failed to write SSE error event", "error", writeErr)
			return
		}
		flusher.Flush()
		return
	}

	if err := writeSSEJSON(w, sseEventDone, DoneEvent{MessageID: msg.ID}); err != nil {
		slog.Warn("Failed to write SSE done event", "error", err, "conversation_id", turn.Conversation.ID)
		return
	}
	flusher.Flush()
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func writeSSEJSON(w io.Writer, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event, err)
	}
	return writeSSE(w, event, string(data))
}
