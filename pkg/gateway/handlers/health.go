// Package handlers holds the HTTP endpoints: health probes and the two
// WebSocket entry points, native clients and carrier media streams.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/lyra-ai/lyra-gateway/pkg/gateway/config"
	"github.com/lyra-ai/lyra-gateway/pkg/gateway/live/sessions"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

type ReadyHandler struct {
	Config   config.Config
	Registry *sessions.Registry
	// MemoryEnabled reports whether long-term memory persistence is on.
	MemoryEnabled bool
	// Draining reports whether the gateway is refusing new sessions.
	Draining func() bool
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK             bool     `json:"ok"`
		AuthMode       string   `json:"auth_mode"`
		ActiveSessions int      `json:"active_sessions"`
		MemoryEnabled  bool     `json:"memory_enabled"`
		Draining       bool     `json:"draining,omitempty"`
		Issues         []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)

	switch h.Config.AuthMode {
	case config.AuthModeRequired, config.AuthModeOptional, config.AuthModeDisabled:
	default:
		issues = append(issues, "invalid auth_mode")
	}
	if h.Config.AuthMode == config.AuthModeRequired && len(h.Config.APIKeys) == 0 {
		issues = append(issues, "auth_mode=required but no api keys configured")
	}
	if h.Config.UtteranceDebounce <= 0 {
		issues = append(issues, "utterance debounce must be > 0")
	}
	if h.Config.LiveMaxAudioFrameBytes <= 0 {
		issues = append(issues, "max audio frame bytes must be > 0")
	}

	draining := h.Draining != nil && h.Draining()
	if draining {
		issues = append(issues, "gateway is draining")
	}

	ok := len(issues) == 0
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(readyResp{
		OK:             ok,
		AuthMode:       string(h.Config.AuthMode),
		ActiveSessions: h.Registry.Count(),
		MemoryEnabled:  h.MemoryEnabled,
		Draining:       draining,
		Issues:         issues,
	})
}
