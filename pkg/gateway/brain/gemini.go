package brain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/lyra-ai/lyra-gateway/pkg/core"
	"github.com/lyra-ai/lyra-gateway/pkg/core/types"
)

// Gemini is the deep-tier Completer. It is the only completer that accepts
// vision frames, attached as inline JPEG parts.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini builds the deep-tier completer.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("genai client: %w", err)
	}
	return &Gemini{client: client, model: model}, nil
}

// Name returns the provider identifier.
func (g *Gemini) Name() string { return "gemini:" + g.model }

// Complete runs one generation, with the frame (when present) inlined next
// to the utterance text.
func (g *Gemini) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, m := range req.History {
		role := genai.Role(genai.RoleUser)
		if m.Role == types.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}

	parts := []*genai.Part{genai.NewPartFromText(req.User)}
	if req.Frame != nil && len(req.Frame.JPEG) > 0 {
		parts = append(parts, genai.NewPartFromBytes(req.Frame.JPEG, "image/jpeg"))
	}
	contents = append(contents, genai.NewContentFromParts(parts, genai.RoleUser))

	var cfg *genai.GenerateContentConfig
	if sys := systemPrompt(req); sys != "" {
		cfg = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(sys, genai.RoleUser),
		}
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return "", core.NewProviderError(g.Name(), err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", core.NewProviderError(g.Name(), errors.New("empty response"))
	}
	return text, nil
}
