package chatclient

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/itorigin/origin-chat/internal/api"
	"github.com/itorigin/origin-chat/internal/domain"
)

// ListOptions filters the conversation list. Zero values use server defaults.
type ListOptions struct {
	// Status is one of active, closed, archived; empty means all.
	Status string
	Search string
	Page   int
	Limit  int
}

func (o ListOptions) query() url.Values {
	q := url.Values{}
	if s := strings.TrimSpace(o.Status); s != "" {
		q.Set("status", s)
	}
	if s := strings.TrimSpace(o.Search); s != "" {
		q.Set("search", s)
	}
	if o.Page > 0 {
		q.Set("page", strconv.Itoa(o.Page))
	}
	if o.Limit > 0 {
		q.Set("limit", strconv.Itoa(o.Limit))
	}
	return q
}

// AdminClient calls the admin conversation console. Paths are relative to
// the admin mount point, e.g. http://host/api/admin.
type AdminClient struct {
	client *resty.Client
}

// NewAdminClient creates a client authenticated with a bearer token.
func NewAdminClient(baseURL, token string, opts ...Option) *AdminClient {
	c := newResty(baseURL, opts...)
	if token != "" {
		c.SetAuthToken(token)
	}
	return &AdminClient{client: c}
}

func (a *AdminClient) do(resp *resty.Response, err error, op string) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if resp.IsError() {
		return apiErrorFrom(resp.StatusCode(), resp.Body())
	}
	return nil
}

// ListConversations returns one page of conversations, most recently active first.
func (a *AdminClient) ListConversations(ctx context.Context, opts ListOptions) (*api.ConversationList, error) {
	var out api.ConversationList
	resp, err := a.client.R().
		SetContext(ctx).
		SetQueryParamsFromValues(opts.query()).
		SetResult(&out).
		Get("/conversations")
	if err := a.do(resp, err, "list conversations"); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetConversation returns a conversation and its ordered messages.
func (a *AdminClient) GetConversation(ctx context.Context, id string) (*api.ConversationDetail, error) {
	var out api.ConversationDetail
	resp, err := a.client.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetResult(&out).
		Get("/conversations/{id}")
	if err := a.do(resp, err, "get conversation"); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateStatus sets a conversation's status.
func (a *AdminClient) UpdateStatus(ctx context.Context, id string, status domain.ConversationStatus) (*domain.Conversation, error) {
	var out domain.Conversation
	resp, err := a.client.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetBody(api.StatusUpdate{Status: string(status)}).
		SetResult(&out).
		Patch("/conversations/{id}/status")
	if err := a.do(resp, err, "update conversation status"); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteConversation removes a conversation and reports how many messages went with it.
func (a *AdminClient) DeleteConversation(ctx context.Context, id string) (int64, error) {
	var out api.DeleteResult
	resp, err := a.client.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetResult(&out).
		Delete("/conversations/{id}")
	if err := a.do(resp, err, "delete conversation"); err != nil {
		return 0, err
	}
	return out.MessagesDeleted, nil
}
