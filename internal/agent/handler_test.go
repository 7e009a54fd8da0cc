package agent

import (
	"bufio"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/itorigin/origin-chat/internal/metrics"
	"github.com/itorigin/origin-chat/internal/middleware"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type sseEvent struct {
	Event string
	Data  string
}

func readSSE(t *testing.T, resp *http.Response) []sseEvent {
	t.Helper()
	var (
		events []sseEvent
		cur    sseEvent
	)
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if cur.Event != "" {
				events = append(events, cur)
			}
			cur = sseEvent{}
		case strings.HasPrefix(line, "event: "):
			cur.Event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.Data = strings.TrimPrefix(line, "data: ")
		}
	}
	require.NoError(t, scanner.Err())
	return events
}

func newTestServer(t *testing.T, limiter *RateLimiter) (*httptest.Server, *Service, *fakeProcessor) {
	t.Helper()
	svc, proc := newTestService(t)
	h := NewHandler(svc, limiter, HandlerConfig{MaxBodyBytes: 4096, StreamTimeout: 5 * time.Second})
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, svc, proc
}

func postChat(t *testing.T, srv *httptest.Server, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(srv.URL+"/api/chat", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeError(t *testing.T, resp *http.Response) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestHandleChatStreamsReply(t *testing.T) {
	srv, svc, _ := newTestServer(t, nil)

	resp := postChat(t, srv, `{"messages":[{"role":"user","content":"What SOC services do you offer?"}],"visitorName":"Dana","visitorEmail":"dana@example.com"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	convID := resp.Header.Get(middleware.ConversationIDHeader)
	require.NotEmpty(t, convID)

	events := readSSE(t, resp)
	require.Len(t, events, 4)

	var text strings.Builder
	for _, e := range events[:3] {
		require.Equal(t, "token", e.Event)
		var tok TokenEvent
		require.NoError(t, json.Unmarshal([]byte(e.Data), &tok))
		text.WriteString(tok.Content)
	}
	require.Equal(t, "We offer 24/7 SOC monitoring.", text.String())

	require.Equal(t, "done", events[3].Event)
	var done DoneEvent
	require.NoError(t, json.Unmarshal([]byte(events[3].Data), &done))

	msgs, err := svc.repo.ListMessages(t.Context(), convID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, done.MessageID, msgs[1].ID)
}

func TestHandleChatStreamErrorKeepsHeader(t *testing.T) {
	srv, svc, proc := newTestServer(t, nil)
	proc.script(errors.New("upstream 500"), "Hel")

	resp := postChat(t, srv, `{"messages":[{"role":"user","content":"hello"}]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	convID := resp.Header.Get(middleware.ConversationIDHeader)
	require.NotEmpty(t, convID)

	events := readSSE(t, resp)
	require.Len(t, events, 2)
	require.Equal(t, "token", events[0].Event)
	require.Equal(t, "error", events[1].Event)
	var e ErrorEvent
	require.NoError(t, json.Unmarshal([]byte(events[1].Data), &e))
	require.Equal(t, ErrorUpstream, e.Error)
	require.NotEmpty(t, e.Message)

	msgs, err := svc.repo.ListMessages(t.Context(), convID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}

func TestHandleChatCountsFailedTurnOnce(t *testing.T) {
	srv, _, proc := newTestServer(t, nil)
	proc.script(errors.New("upstream 500"), "Hel")

	turns := func(outcome string) float64 {
		return testutil.ToFloat64(metrics.ChatTurnsTotal.WithLabelValues(outcome))
	}
	upstreamBefore, codeBefore := turns("upstream_error"), turns(string(ErrorUpstream))

	resp := postChat(t, srv, `{"messages":[{"role":"user","content":"hello"}]}`)
	require.Len(t, readSSE(t, resp), 2)

	require.Equal(t, upstreamBefore+1, turns("upstream_error"))
	require.Equal(t, codeBefore, turns(string(ErrorUpstream)))
}

func TestHandleChatUnknownConversation(t *testing.T) {
	srv, svc, _ := newTestServer(t, nil)

	resp := postChat(t, srv, `{"messages":[{"role":"user","content":"hi"}],"conversationId":"does-not-exist"}`)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Empty(t, resp.Header.Get(middleware.ConversationIDHeader))
	require.Equal(t, ErrorConversationNotFound, decodeError(t, resp).Error)
	require.Zero(t, countConversations(t, svc.repo))
}

func TestHandleChatValidation(t *testing.T) {
	srv, svc, _ := newTestServer(t, nil)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"messages":`},
		{"no messages", `{"messages":[]}`},
		{"empty content", `{"messages":[{"role":"user","content":""}]}`},
		{"unknown role", `{"messages":[{"role":"system","content":"hi"}]}`},
		{"last not user", `{"messages":[{"role":"user","content":"hi"},{"role":"assistant","content":"hello"}]}`},
		{"bad email", `{"messages":[{"role":"user","content":"hi"}],"visitorEmail":"not-an-email"}`},
		{"too large", `{"messages":[{"role":"user","content":"` + strings.Repeat("a", 5000) + `"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postChat(t, srv, tt.body)
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)
			require.Equal(t, ErrorInvalidInput, decodeError(t, resp).Error)
		})
	}
	require.Zero(t, countConversations(t, svc.repo))
}

func TestHandleChatRateLimited(t *testing.T) {
	limiter := NewRateLimiter(1, time.Hour)
	t.Cleanup(limiter.Stop)
	srv, _, _ := newTestServer(t, limiter)

	resp := postChat(t, srv, `{"messages":[{"role":"user","content":"one"}]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	readSSE(t, resp)

	resp = postChat(t, srv, `{"messages":[{"role":"user","content":"two"}]}`)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.Equal(t, ErrorRateLimited, decodeError(t, resp).Error)
}

func TestHTTPStatusMapping(t *testing.T) {
	status, e := HTTPStatus(newError(ErrorStoreUnavailable, "busy", nil))
	require.Equal(t, http.StatusServiceUnavailable, status)
	require.Equal(t, ErrorStoreUnavailable, e.Code)

	status, e = HTTPStatus(errors.New("boom"))
	require.Equal(t, http.StatusInternalServerError, status)
	require.Equal(t, ErrorInternal, e.Code)
}
