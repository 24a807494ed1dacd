package brain

import (
	"context"
	"errors"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/lyra-ai/lyra-gateway/pkg/core"
	"github.com/lyra-ai/lyra-gateway/pkg/core/types"
)

// OpenAIChat is a Completer backed by an OpenAI-compatible chat completion
// endpoint. The fast and conversational tiers both use this with different
// models.
type OpenAIChat struct {
	client *openai.Client
	model  string
}

// NewOpenAIChat builds a chat completer. baseURL overrides the endpoint for
// compatible providers; empty uses the OpenAI default.
func NewOpenAIChat(apiKey, baseURL, model string) *OpenAIChat {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIChat{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

// Name returns the provider identifier.
func (c *OpenAIChat) Name() string { return "openai:" + c.model }

// Complete runs one chat completion. Vision frames are ignored here; the
// router only hands frames to the deep tier.
func (c *OpenAIChat) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	if sys := systemPrompt(req); sys != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: sys,
		})
	}
	for _, m := range req.History {
		role := openai.ChatMessageRoleUser
		if m.Role == types.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.User,
	})

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: msgs,
	})
	if err != nil {
		return "", classifyErr(c.Name(), err)
	}
	if len(resp.Choices) == 0 {
		return "", core.NewProviderError(c.Name(), errors.New("empty choices"))
	}
	return resp.Choices[0].Message.Content, nil
}

// classifyErr maps an upstream failure onto the shared error shape so the
// session can tell retryable faults (throttling, server trouble) from the
// rest.
func classifyErr(provider string, err error) *core.Error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= http.StatusInternalServerError {
			return core.NewAPIError(provider + ": " + apiErr.Message)
		}
	}
	return core.NewProviderError(provider, err)
}
