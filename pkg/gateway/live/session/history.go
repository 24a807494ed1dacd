package session

import "github.com/lyra-ai/lyra-gateway/pkg/core/types"

// history keeps the bounded conversation context fed to the brain. Oldest
// exchanges fall off once the cap is reached.
type history struct {
	maxExchanges int
	msgs         []types.Message
}

func newHistory(maxExchanges int) *history {
	if maxExchanges <= 0 {
		maxExchanges = 10
	}
	return &history{maxExchanges: maxExchanges}
}

func (h *history) appendExchange(user, assistant string) {
	h.msgs = append(h.msgs,
		types.Message{Role: types.RoleUser, Content: user},
		types.Message{Role: types.RoleAssistant, Content: assistant},
	)
	if max := h.maxExchanges * 2; len(h.msgs) > max {
		h.msgs = append(h.msgs[:0], h.msgs[len(h.msgs)-max:]...)
	}
}

func (h *history) snapshot() []types.Message {
	out := make([]types.Message, len(h.msgs))
	copy(out, h.msgs)
	return out
}
