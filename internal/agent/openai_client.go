package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"

	"github.com/itorigin/origin-chat/internal/domain"
	openai "github.com/sashabaranov/go-openai"
)

var errEmptyChoices = errors.New("completion chunk without choices")

// OpenAIClient streams chat completions from an OpenAI-compatible API.
type OpenAIClient struct {
	client       *openai.Client
	model        string
	systemPrompt string
	logger       *slog.Logger
}

// OpenAIClientConfig holds configuration for the completion client.
type OpenAIClientConfig struct {
	APIKey       string
	BaseURL      string
	Model        string
	SystemPrompt string
	HTTPClient   *http.Client
}

// NewOpenAIClient creates a completion client.
func NewOpenAIClient(cfg OpenAIClientConfig, logger *slog.Logger) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("openai model is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}

	return &OpenAIClient{
		client:       openai.NewClientWithConfig(clientCfg),
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		logger:       logger,
	}, nil
}

func (c *OpenAIClient) buildMessages(turns []domain.ChatTurn) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(turns)+1)
	if c.systemPrompt != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: c.systemPrompt,
		})
	}
	for _, t := range turns {
		role := openai.ChatMessageRoleUser
		if t.Role == domain.RoleAgent {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: t.Content})
	}
	return msgs
}

// Chat streams reply fragments for the given turns.
func (c *OpenAIClient) Chat(ctx context.Context, turns []domain.ChatTurn) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		stream, err := c.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
			Model:    c.model,
			Messages: c.buildMessages(turns),
			Stream:   true,
		})
		if err != nil {
			yield("", fmt.Errorf("chat completion request failed: %w", err))
			return
		}
		defer func() {
			if closeErr := stream.Close(); closeErr != nil {
				c.logger.Debug("Failed to close completion stream", "error", closeErr)
			}
		}()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield("", fmt.Errorf("chat completion stream error: %w", err))
				return
			}
			if len(resp.Choices) == 0 {
				// Usage-only chunks carry no choices.
				if resp.Usage != nil {
					continue
				}
				yield("", errEmptyChoices)
				return
			}

			delta := resp.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			if !yield(delta, nil) {
				return
			}
		}
	}
}

// Close releases resources.
func (c *OpenAIClient) Close() {}
