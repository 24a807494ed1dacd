package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lyra-ai/lyra-gateway/pkg/core/types"
	"github.com/lyra-ai/lyra-gateway/pkg/gateway/config"
	"github.com/lyra-ai/lyra-gateway/pkg/gateway/live/session"
	"github.com/lyra-ai/lyra-gateway/pkg/gateway/live/sessions"
	"github.com/lyra-ai/lyra-gateway/pkg/gateway/telephony"
)

// TelephonyHandler handles /v1/telephony carrier media streams. The carrier
// opens the socket, announces the call with a start envelope, and from there
// the shared session pipeline runs unchanged behind the mu-law bridge.
type TelephonyHandler struct {
	Config   config.Config
	Deps     session.Dependencies
	Logger   *slog.Logger
	Registry *sessions.Registry
	Draining func() bool
}

func (h TelephonyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Draining != nil && h.Draining() {
		http.Error(w, "gateway is draining", http.StatusServiceUnavailable)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	start, ok := h.awaitStart(ws)
	if !ok {
		_ = ws.Close()
		return
	}

	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	bridge := telephony.NewBridge(ws, start, logger)

	sessionID := "s_" + randHex(8)
	logger = logger.With("session_id", sessionID, "transport", "telephony", "call_sid", start.CallSid)

	params := start.CustomParameters
	deps := h.Deps
	deps.Logger = logger

	s := session.New(sessionID, session.Config{
		Debounce:            h.Config.UtteranceDebounce,
		FrameFreshness:      h.Config.FrameFreshness,
		SpeechChunk:         h.Config.SpeechChunk,
		TurnTimeout:         h.Config.TurnTimeout,
		MaxDuration:         h.Config.SessionMaxDuration,
		MaxHistoryExchanges: h.Config.HistoryExchanges,
		Tier:                types.ParseTier(params["tier"]),
		Persona:             firstNonEmpty(params["persona"], h.Config.Persona),
		STTModel:            h.Config.STTModel,
		Voice:               firstNonEmpty(params["voice"], h.Config.TTSVoice),
		Language:            firstNonEmpty(params["language"], h.Config.TTSLanguage),
		UserID:              firstNonEmpty(params["user_id"], start.CallSid),
		// Callers hear errors; there is no screen to print them on.
		SpokenApology: true,
		Transport:     "telephony",
	}, deps, bridge, bridge.Events())

	unregister := h.Registry.Register(sessionID, sessions.Handle{
		Cancel:  s.Cancel,
		Warn:    s.Warn,
		Session: s,
	})
	defer unregister()

	go bridge.PumpEvents()

	if err := s.Run(); err != nil {
		logger.Warn("call session ended with error", "error", err)
	}
}

// awaitStart consumes carrier envelopes until the start event. The connected
// event precedes it and carries nothing useful.
func (h TelephonyHandler) awaitStart(ws *websocket.Conn) (*telephony.StartEvent, bool) {
	_ = ws.SetReadDeadline(time.Now().Add(h.Config.LiveHandshakeTimeout))
	defer ws.SetReadDeadline(time.Time{})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return nil, false
		}
		env, err := telephony.DecodeEnvelope(data)
		if err != nil {
			continue
		}
		switch env.Event {
		case "connected":
			continue
		case "start":
			if env.Start == nil || env.Start.StreamSid == "" {
				return nil, false
			}
			return env.Start, true
		default:
			return nil, false
		}
	}
}
