package api

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/itorigin/origin-chat/internal/domain"
	"github.com/itorigin/origin-chat/internal/feed"
	"github.com/itorigin/origin-chat/internal/metrics"
	"github.com/itorigin/origin-chat/internal/store"
)

const maxStatusBodyBytes = 4 << 10

// ConversationList is the body of the list endpoint.
type ConversationList struct {
	Data       []*domain.Conversation `json:"data"`
	Pagination domain.Pagination      `json:"pagination"`
}

// ConversationDetail is the body of the detail endpoint.
type ConversationDetail struct {
	Conversation *domain.Conversation `json:"conversation"`
	Messages     []*domain.Message    `json:"messages"`
}

// DeleteResult is the body of the delete endpoint.
type DeleteResult struct {
	Success         bool  `json:"success"`
	MessagesDeleted int64 `json:"messagesDeleted"`
}

// StatusUpdate is the body of the status endpoint.
type StatusUpdate struct {
	Status string `json:"status" validate:"required,oneof=active closed archived"`
}

// ConversationHandler serves the admin conversation console.
type ConversationHandler struct {
	repo      store.Repository
	publisher feed.Publisher
	validate  *validator.Validate
	now       func() time.Time
}

// NewConversationHandler creates the admin handler. publisher may be nil.
func NewConversationHandler(repo store.Repository, publisher feed.Publisher) *ConversationHandler {
	if publisher == nil {
		publisher = feed.Nop{}
	}
	return &ConversationHandler{
		repo:      repo,
		publisher: publisher,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		now:       time.Now,
	}
}

// RegisterRoutes mounts the console routes. Callers apply the admin gate.
func (h *ConversationHandler) RegisterRoutes(r chi.Router) {
	r.Get("/conversations", h.List)
	r.Get("/conversations/{id}", h.Get)
	r.Patch("/conversations/{id}/status", h.UpdateStatus)
	r.Delete("/conversations/{id}", h.Delete)
}

func parsePositive(raw string) (int, bool) {
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

func parseFilter(r *http.Request) (domain.ConversationFilter, string) {
	q := r.URL.Query()
	var filter domain.ConversationFilter

	page, ok := parsePositive(q.Get("page"))
	if !ok {
		return filter, "page must be a positive integer"
	}
	limit, ok := parsePositive(q.Get("limit"))
	if !ok {
		return filter, "limit must be a positive integer"
	}
	filter.Page, filter.Limit = page, limit
	filter.Search = q.Get("search")

	if raw := strings.TrimSpace(q.Get("status")); raw != "" && !strings.EqualFold(raw, "all") {
		status, err := domain.ParseConversationStatus(raw)
		if err != nil {
			return filter, "status must be one of active, closed, archived"
		}
		filter.Status = &status
	}
	filter = filter.Normalize()
	// The row offset must fit in an int.
	if filter.Page-1 > math.MaxInt/filter.Limit {
		return filter, "page is out of range"
	}
	return filter, ""
}

// List returns one page of conversations, most recently active first.
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, problem := parseFilter(r)
	if problem != "" {
		Error(w, http.StatusBadRequest, problem)
		return
	}

	convs, total, err := h.repo.ListConversations(r.Context(), filter)
	if err != nil {
		storeError(w, "list conversations", err)
		return
	}

	JSON(w, http.StatusOK, ConversationList{
		Data:       convs,
		Pagination: domain.NewPagination(filter.Page, filter.Limit, total),
	})
}

// Get returns a conversation with its full message history.
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	conv, err := h.repo.GetConversation(r.Context(), id)
	if err != nil {
		storeError(w, "get conversation", err)
		return
	}
	msgs, err := h.repo.ListMessages(r.Context(), id)
	if err != nil {
		storeError(w, "list messages", err)
		return
	}

	JSON(w, http.StatusOK, ConversationDetail{Conversation: conv, Messages: msgs})
}

// UpdateStatus sets a conversation's status. Any transition is allowed.
func (h *ConversationHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body StatusUpdate
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxStatusBodyBytes)).Decode(&body); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	body.Status = strings.ToLower(strings.TrimSpace(body.Status))
	if err := h.validate.Struct(&body); err != nil {
		Error(w, http.StatusBadRequest, "status must be one of active, closed, archived")
		return
	}

	at := h.now().UTC().Truncate(time.Millisecond)
	conv, err := h.repo.UpdateConversationStatus(r.Context(), id, domain.ConversationStatus(body.Status), at)
	if err != nil {
		storeError(w, "update conversation status", err)
		return
	}

	metrics.AdminActionsTotal.WithLabelValues("status_update").Inc()
	h.publisher.Publish(feed.StatusChanged(conv.ID, conv.Status, at))
	JSON(w, http.StatusOK, conv)
}

// Delete removes a conversation and all of its messages.
func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	deleted, err := h.repo.DeleteConversation(r.Context(), id)
	if err != nil {
		storeError(w, "delete conversation", err)
		return
	}

	metrics.AdminActionsTotal.WithLabelValues("delete").Inc()
	h.publisher.Publish(feed.ConversationDeleted(id, deleted, h.now().UTC()))
	JSON(w, http.StatusOK, DeleteResult{Success: true, MessagesDeleted: deleted})
}
