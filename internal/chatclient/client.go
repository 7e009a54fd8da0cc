// Package chatclient is a Go client for the chat API: a stateful visitor
// session that streams replies, and an admin console client.
package chatclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// ConversationIDHeader carries the server-assigned conversation identifier.
const ConversationIDHeader = "X-Conversation-Id"

var (
	// ErrBusy is returned while a send is still streaming.
	ErrBusy = errors.New("chatclient: a message is already being sent")
	// ErrEmptyMessage is returned for blank input.
	ErrEmptyMessage = errors.New("chatclient: message is empty")
	// ErrConversationNotFound matches any *APIError with status 404.
	ErrConversationNotFound = errors.New("chatclient: conversation not found")
)

// APIError is a non-2xx response received before any stream started.
type APIError struct {
	StatusCode int
	// Code is the machine-readable error code, when the endpoint provides one.
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("chatclient: %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("chatclient: %d: %s", e.StatusCode, e.Message)
}

// Is lets errors.Is match ErrConversationNotFound.
func (e *APIError) Is(target error) bool {
	return target == ErrConversationNotFound && e.StatusCode == http.StatusNotFound
}

// StreamError is an error reported after the reply stream started, either
// as an error event or as a stream that ended without completing.
type StreamError struct {
	Code    string
	Message string
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("chatclient: stream failed: %s: %s", e.Code, e.Message)
}

// StreamInterrupted is the StreamError code for a stream that ended early.
const StreamInterrupted = "STREAM_INTERRUPTED"

type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

func apiErrorFrom(status int, body []byte) *APIError {
	e := &APIError{StatusCode: status, Message: http.StatusText(status)}
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		if msg := strings.TrimSpace(string(body)); msg != "" {
			e.Message = msg
		}
		return e
	}
	switch {
	case eb.Reason != "":
		e.Code, e.Message = eb.Error, eb.Reason
	case eb.Error != "":
		e.Message = eb.Error
	}
	return e
}

func readAPIError(resp *resty.Response) *APIError {
	var body []byte
	if raw := resp.RawResponse; raw != nil && raw.Body != nil {
		body, _ = io.ReadAll(io.LimitReader(raw.Body, 64<<10))
	} else {
		body = resp.Body()
	}
	return apiErrorFrom(resp.StatusCode(), body)
}

// Option configures the underlying resty client.
type Option func(*resty.Client)

// WithHTTPClient takes the transport, cookie jar and timeout of hc.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *resty.Client) {
		if hc.Transport != nil {
			c.SetTransport(hc.Transport)
		}
		if hc.Jar != nil {
			c.SetCookieJar(hc.Jar)
		}
		if hc.Timeout > 0 {
			c.SetTimeout(hc.Timeout)
		}
	}
}

// WithTimeout bounds each request, including the whole of a streamed reply.
func WithTimeout(d time.Duration) Option {
	return func(c *resty.Client) { c.SetTimeout(d) }
}

func newResty(baseURL string, opts ...Option) *resty.Client {
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Accept", "application/json").
		SetRetryCount(0)
	for _, opt := range opts {
		opt(c)
	}
	return c
}
