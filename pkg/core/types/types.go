// Package types holds the shared domain types of the Lyra conversational
// backbone: conversation messages, brain tiers, and vision frames.
package types

import (
	"strings"
	"time"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of the bounded conversation history.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Tier selects which brain handles an utterance.
type Tier string

const (
	// TierFast favors latency: short acknowledgements, quick back-and-forth.
	TierFast Tier = "fast"
	// TierConversational is the default chat tier.
	TierConversational Tier = "conversational"
	// TierDeep is the reasoning tier; it is also the only tier that sees
	// vision frames.
	TierDeep Tier = "deep"
	// TierAuto lets the router pick per utterance.
	TierAuto Tier = "auto"
)

// ParseTier normalizes a client-supplied tier string. Unknown values map to
// TierAuto so a misconfigured client still gets answers.
func ParseTier(s string) Tier {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case TierFast:
		return TierFast
	case TierConversational:
		return TierConversational
	case TierDeep:
		return TierDeep
	default:
		return TierAuto
	}
}

// Frame is a single vision frame captured by the client camera.
type Frame struct {
	// JPEG-encoded image bytes.
	JPEG []byte
	// CapturedAt is the client capture timestamp when supplied, otherwise
	// the gateway arrival time.
	CapturedAt time.Time
	// ReceivedAt is when the gateway accepted the frame. Freshness checks
	// use this, not the client clock.
	ReceivedAt time.Time
}

// FreshAt reports whether the frame is still usable at t given the freshness
// window. Stale frames are dropped silently and the turn proceeds without
// vision.
func (f *Frame) FreshAt(t time.Time, window time.Duration) bool {
	if f == nil || window <= 0 {
		return false
	}
	return t.Sub(f.ReceivedAt) <= window
}
