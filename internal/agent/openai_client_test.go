package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/itorigin/origin-chat/internal/domain"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCompletionServer(t *testing.T, handler http.HandlerFunc) *OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewOpenAIClient(OpenAIClientConfig{
		APIKey:       "sk-test",
		BaseURL:      srv.URL + "/v1",
		Model:        "gpt-test",
		SystemPrompt: "You are helpful.",
	}, nil)
	require.NoError(t, err)
	return client
}

func TestOpenAIClientStreamsFragments(t *testing.T) {
	var got openai.ChatCompletionRequest
	client := newCompletionServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{"Hello", "", " there"} {
			chunk := openai.ChatCompletionStreamResponse{
				Choices: []openai.ChatCompletionStreamChoice{{Delta: openai.ChatCompletionStreamChoiceDelta{Content: part}}},
			}
			data, _ := json.Marshal(chunk)
			_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
		}
		_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	})

	var fragments []string
	for fragment, err := range client.Chat(context.Background(), []domain.ChatTurn{
		{Role: domain.RoleUser, Content: "hi"},
		{Role: domain.RoleAgent, Content: "hello"},
		{Role: domain.RoleUser, Content: "how are you?"},
	}) {
		require.NoError(t, err)
		fragments = append(fragments, fragment)
	}

	require.Equal(t, []string{"Hello", " there"}, fragments)
	require.True(t, got.Stream)
	require.Equal(t, "gpt-test", got.Model)
	require.Len(t, got.Messages, 4)
	require.Equal(t, openai.ChatMessageRoleSystem, got.Messages[0].Role)
	require.Equal(t, openai.ChatMessageRoleAssistant, got.Messages[2].Role)
}

func TestOpenAIClientSurfacesHTTPErrors(t *testing.T) {
	client := newCompletionServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = fmt.Fprint(w, `{"error":{"message":"slow down","type":"rate_limit"}}`)
	})

	var sawErr error
	for _, err := range client.Chat(context.Background(), []domain.ChatTurn{{Role: domain.RoleUser, Content: "hi"}}) {
		if err != nil {
			sawErr = err
		}
	}
	require.Error(t, sawErr)
}

func TestNewOpenAIClientRequiresKey(t *testing.T) {
	_, err := NewOpenAIClient(OpenAIClientConfig{Model: "m"}, nil)
	require.Error(t, err)
}
