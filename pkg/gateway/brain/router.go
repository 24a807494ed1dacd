// Package brain routes utterances to a completion tier and runs the turn.
//
// Three tiers are wired: fast (short acknowledgements, lowest latency),
// conversational (default chat), and deep (reasoning; the only tier that
// sees vision frames). The auto tier picks one per utterance with cheap
// deterministic heuristics so routing never adds provider latency.
package brain

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/lyra-ai/lyra-gateway/pkg/core/types"
)

// ErrNoCompleter is returned when no tier has a configured completer.
var ErrNoCompleter = errors.New("no completer configured")

// CompletionRequest is one brain turn.
type CompletionRequest struct {
	// System is the persona prompt.
	System string
	// Memory is the long-term memory context for this user, empty when the
	// memory store is disabled.
	Memory string
	// History is the bounded conversation history, oldest first.
	History []types.Message
	// User is the utterance to answer.
	User string
	// Frame is an optional fresh vision frame. Only the deep tier
	// receives it; the router strips it for other tiers.
	Frame *types.Frame
}

// Completer produces a text answer for one turn.
type Completer interface {
	Name() string
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// TurnResult is the routed completion plus what the client is told about it.
type TurnResult struct {
	Text    string
	Tier    types.Tier
	Latency time.Duration
}

// Router holds per-tier completers. Nil entries fall back down the chain
// deep -> conversational -> fast.
type Router struct {
	fast           Completer
	conversational Completer
	deep           Completer
}

// NewRouter builds a router. Any completer may be nil.
func NewRouter(fast, conversational, deep Completer) *Router {
	return &Router{fast: fast, conversational: conversational, deep: deep}
}

// Word counts that bound the auto heuristics: very short utterances go fast,
// long ones go deep.
const (
	autoFastMaxWords = 6
	autoDeepMinWords = 18
)

var deepCueWords = []string{"explain", "why", "how", "compare", "analyze", "plan"}

// Pick resolves the tier for an utterance. A concrete requested tier wins;
// auto applies the heuristics. hasFrame reports a fresh vision frame, which
// always routes deep since no other tier can see it.
func (r *Router) Pick(utterance string, hasFrame bool, requested types.Tier) types.Tier {
	if requested != types.TierAuto && requested != "" {
		return requested
	}
	if hasFrame {
		return types.TierDeep
	}

	words := strings.Fields(utterance)
	if len(words) >= autoDeepMinWords {
		return types.TierDeep
	}
	lower := strings.ToLower(utterance)
	for _, cue := range deepCueWords {
		if strings.Contains(lower, cue) {
			return types.TierDeep
		}
	}
	if len(words) <= autoFastMaxWords {
		return types.TierFast
	}
	return types.TierConversational
}

func (r *Router) completerFor(tier types.Tier) (Completer, types.Tier) {
	switch tier {
	case types.TierDeep:
		if r.deep != nil {
			return r.deep, types.TierDeep
		}
		fallthrough
	case types.TierConversational:
		if r.conversational != nil {
			return r.conversational, types.TierConversational
		}
		fallthrough
	default:
		if r.fast != nil {
			return r.fast, types.TierFast
		}
	}
	return nil, tier
}

// Respond routes the request and runs the completion, measuring latency.
func (r *Router) Respond(ctx context.Context, req CompletionRequest, requested types.Tier) (TurnResult, error) {
	tier := r.Pick(req.User, req.Frame != nil, requested)
	c, effective := r.completerFor(tier)
	if c == nil {
		return TurnResult{}, ErrNoCompleter
	}
	if effective != types.TierDeep {
		req.Frame = nil
	}

	start := time.Now()
	text, err := c.Complete(ctx, req)
	if err != nil {
		return TurnResult{}, err
	}
	return TurnResult{
		Text:    strings.TrimSpace(text),
		Tier:    effective,
		Latency: time.Since(start),
	}, nil
}

// systemPrompt merges persona and memory context into one system message.
func systemPrompt(req CompletionRequest) string {
	var b strings.Builder
	if req.System != "" {
		b.WriteString(req.System)
	}
	if req.Memory != "" {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("What you remember about this user:\n")
		b.WriteString(req.Memory)
	}
	return b.String()
}
