package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lyra-ai/lyra-gateway/pkg/core/types"
	"github.com/lyra-ai/lyra-gateway/pkg/gateway/config"
	"github.com/lyra-ai/lyra-gateway/pkg/gateway/live/native"
	"github.com/lyra-ai/lyra-gateway/pkg/gateway/live/protocol"
	"github.com/lyra-ai/lyra-gateway/pkg/gateway/live/session"
	"github.com/lyra-ai/lyra-gateway/pkg/gateway/live/sessions"
)

// LiveHandler handles /v1/live WebSocket sessions for native clients. The
// first text frame must be a config message; afterwards the connection is
// handed to the session run loop.
type LiveHandler struct {
	Config   config.Config
	Deps     session.Dependencies
	Logger   *slog.Logger
	Registry *sessions.Registry
	Draining func() bool
}

func (h LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Draining != nil && h.Draining() {
		http.Error(w, "gateway is draining", http.StatusServiceUnavailable)
		return
	}
	if !originAllowed(r, h.Config) {
		http.Error(w, "origin is not allowed", http.StatusForbidden)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	clientCfg, ok := h.handshake(ws)
	if !ok {
		_ = ws.Close()
		return
	}

	conn := native.NewConn(ws, native.Config{
		WriteTimeout:       h.Config.LiveWSWriteTimeout,
		PingInterval:       h.Config.LiveWSPingInterval,
		ReadTimeout:        h.Config.LiveWSReadTimeout,
		MaxAudioFrameBytes: h.Config.LiveMaxAudioFrameBytes,
		QueueSize:          h.Config.LiveQueueSize,
	}, h.Logger)

	if clientCfg.SessionID != "" {
		h.resume(conn, clientCfg.SessionID)
		return
	}

	sessionID := "s_" + randHex(8)
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("session_id", sessionID, "transport", "native")

	deps := h.Deps
	deps.Logger = logger

	s := session.New(sessionID, session.Config{
		Debounce:            h.Config.UtteranceDebounce,
		FrameFreshness:      h.Config.FrameFreshness,
		SpeechChunk:         h.Config.SpeechChunk,
		TurnTimeout:         h.Config.TurnTimeout,
		MaxDuration:         h.Config.SessionMaxDuration,
		ResumeWindow:        h.Config.ResumeWindow(),
		MaxHistoryExchanges: h.Config.HistoryExchanges,
		Tier:                types.ParseTier(clientCfg.Tier),
		Persona:             firstNonEmpty(clientCfg.Persona, h.Config.Persona),
		STTModel:            h.Config.STTModel,
		Voice:               firstNonEmpty(clientCfg.Voice, h.Config.TTSVoice),
		Language:            firstNonEmpty(clientCfg.Language, h.Config.TTSLanguage),
		UserID:              clientCfg.UserID,
		ClientAEC:           clientCfg.ClientAEC,
		Transport:           "native",
	}, deps, conn, conn.Events())

	unregister := h.Registry.Register(sessionID, sessions.Handle{
		Cancel:  s.Cancel,
		Warn:    s.Warn,
		Session: s,
	})
	defer unregister()

	if err := s.Run(); err != nil {
		logger.Warn("session ended with error", "error", err)
	}
}

// handshake reads and validates the opening config message.
func (h LiveHandler) handshake(ws *websocket.Conn) (*protocol.ClientConfig, bool) {
	_ = ws.SetReadDeadline(time.Now().Add(h.Config.LiveHandshakeTimeout))
	defer ws.SetReadDeadline(time.Time{})

	mt, data, err := ws.ReadMessage()
	if err != nil {
		return nil, false
	}
	if mt != websocket.TextMessage {
		writeWSError(ws, "bad_request", "first message must be a config message")
		return nil, false
	}
	decoded, derr := protocol.DecodeClientMessage(data)
	if derr != nil {
		writeWSError(ws, derr.Code, derr.Message)
		return nil, false
	}
	clientCfg, ok := decoded.(*protocol.ClientConfig)
	if !ok {
		writeWSError(ws, "bad_request", "first message must be a config message")
		return nil, false
	}
	return clientCfg, true
}

// resume reattaches a reconnecting client to its parked session.
func (h LiveHandler) resume(conn *native.Conn, sessionID string) {
	handle, ok := h.Registry.Lookup(sessionID)
	if !ok {
		_ = conn.SendError("session_not_found", "session expired or never existed", false)
		_ = conn.Close()
		return
	}
	s, ok := handle.Session.(*session.Session)
	if !ok {
		_ = conn.SendError("session_not_found", "session cannot be resumed", false)
		_ = conn.Close()
		return
	}
	if err := s.Resume(conn, conn.Events()); err != nil {
		_ = conn.SendError("session_not_found", fmt.Sprintf("resume failed: %v", err), false)
		_ = conn.Close()
		return
	}
	// The session owns the connection from here.
}

func originAllowed(r *http.Request, cfg config.Config) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		return false
	}
	_, ok := cfg.CORSAllowedOrigins[origin]
	return ok
}

func writeWSError(ws *websocket.Conn, code, message string) {
	_ = ws.WriteJSON(protocol.ServerError{Type: "error", Code: code, Message: message, Close: true})
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message),
		time.Now().Add(2*time.Second))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func randHex(nbytes int) string {
	b := make([]byte, nbytes)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
