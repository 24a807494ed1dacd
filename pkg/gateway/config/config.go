// Package config loads gateway configuration from the environment with
// validated defaults. Every knob has a LYRA_-prefixed variable; unset means
// the default, malformed values fall back to the default, and impossible
// combinations fail LoadFromEnv.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type AuthMode string

const (
	AuthModeRequired AuthMode = "required"
	AuthModeOptional AuthMode = "optional"
	AuthModeDisabled AuthMode = "disabled"
)

type Config struct {
	Addr string

	AuthMode AuthMode
	APIKeys  map[string]struct{}

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => disabled

	// Session establishment rate limit, per client key.
	LimitSessionsPerMinute float64
	LimitSessionBurst      int
	LimitMaxSessions       int

	// Live WebSocket transport.
	LiveMaxAudioFrameBytes int
	LiveQueueSize          int
	LiveWSPingInterval     time.Duration
	LiveWSWriteTimeout     time.Duration
	LiveWSReadTimeout      time.Duration
	LiveHandshakeTimeout   time.Duration

	// Conversation pipeline.
	UtteranceDebounce  time.Duration
	FrameFreshness     time.Duration
	SpeechChunk        time.Duration
	TurnTimeout        time.Duration
	SessionMaxDuration time.Duration
	HistoryExchanges   int

	// Reconnect policy. The window the server parks a dropped session for
	// is derived from the client backoff schedule so the last allowed
	// attempt still finds the session alive.
	ReconnectBackoffBase   time.Duration
	ReconnectBackoffFactor float64
	ReconnectBackoffCap    time.Duration
	ReconnectMaxAttempts   int

	// Speech providers.
	CartesiaAPIKey string
	STTModel       string
	TTSVoice       string
	TTSLanguage    string

	// Brain tiers.
	OpenAIAPIKey        string
	OpenAIBaseURL       string
	FastModel           string
	ConversationalModel string
	GeminiAPIKey        string
	DeepModel           string

	// Long-term memory; empty disables persistence.
	DatabaseURL string

	Persona string

	// Operational defaults
	LogJSON             bool
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                   envOr("LYRA_ADDR", ":8080"),
		AuthMode:               AuthMode(envOr("LYRA_AUTH_MODE", string(AuthModeRequired))),
		APIKeys:                make(map[string]struct{}),
		CORSAllowedOrigins:     make(map[string]struct{}),
		LimitSessionsPerMinute: envFloat64Or("LYRA_RATE_LIMIT_SESSIONS_PER_MINUTE", 10),
		LimitSessionBurst:      envIntOr("LYRA_RATE_LIMIT_SESSION_BURST", 3),
		LimitMaxSessions:       envIntOr("LYRA_MAX_SESSIONS", 256),
		LiveMaxAudioFrameBytes: envIntOr("LYRA_LIVE_MAX_AUDIO_FRAME_BYTES", 8192),
		LiveQueueSize:          envIntOr("LYRA_LIVE_QUEUE_SIZE", 256),
		LiveWSPingInterval:     envDurationOr("LYRA_LIVE_WS_PING_INTERVAL", 20*time.Second),
		LiveWSWriteTimeout:     envDurationOr("LYRA_LIVE_WS_WRITE_TIMEOUT", 5*time.Second),
		LiveWSReadTimeout:      envDurationOr("LYRA_LIVE_WS_READ_TIMEOUT", 60*time.Second),
		LiveHandshakeTimeout:   envDurationOr("LYRA_LIVE_HANDSHAKE_TIMEOUT", 5*time.Second),
		UtteranceDebounce:      envDurationOr("LYRA_UTTERANCE_DEBOUNCE", 800*time.Millisecond),
		FrameFreshness:         envDurationOr("LYRA_FRAME_FRESHNESS", 5*time.Second),
		SpeechChunk:            envDurationOr("LYRA_SPEECH_CHUNK", 200*time.Millisecond),
		TurnTimeout:            envDurationOr("LYRA_TURN_TIMEOUT", 30*time.Second),
		SessionMaxDuration:     envDurationOr("LYRA_SESSION_MAX_DURATION", 2*time.Hour),
		HistoryExchanges:       envIntOr("LYRA_HISTORY_EXCHANGES", 10),
		ReconnectBackoffBase:   envDurationOr("LYRA_RECONNECT_BACKOFF_BASE", time.Second),
		ReconnectBackoffFactor: envFloat64Or("LYRA_RECONNECT_BACKOFF_FACTOR", 2.0),
		ReconnectBackoffCap:    envDurationOr("LYRA_RECONNECT_BACKOFF_CAP", 30*time.Second),
		ReconnectMaxAttempts:   envIntOr("LYRA_RECONNECT_MAX_ATTEMPTS", 5),
		CartesiaAPIKey:         envOr("LYRA_CARTESIA_API_KEY", ""),
		STTModel:               envOr("LYRA_STT_MODEL", "ink-whisper"),
		TTSVoice:               envOr("LYRA_TTS_VOICE", ""),
		TTSLanguage:            envOr("LYRA_TTS_LANGUAGE", "en"),
		OpenAIAPIKey:           envOr("LYRA_OPENAI_API_KEY", ""),
		OpenAIBaseURL:          envOr("LYRA_OPENAI_BASE_URL", ""),
		FastModel:              envOr("LYRA_FAST_MODEL", "gpt-4o-mini"),
		ConversationalModel:    envOr("LYRA_CONVERSATIONAL_MODEL", "gpt-4o"),
		GeminiAPIKey:           envOr("LYRA_GEMINI_API_KEY", ""),
		DeepModel:              envOr("LYRA_DEEP_MODEL", "gemini-2.0-flash"),
		DatabaseURL:            envOr("LYRA_DATABASE_URL", ""),
		Persona:                envOr("LYRA_PERSONA", defaultPersona),
		LogJSON:                envBoolOr("LYRA_LOG_JSON", false),
		ReadHeaderTimeout:      envDurationOr("LYRA_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod:    envDurationOr("LYRA_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	switch cfg.AuthMode {
	case AuthModeRequired, AuthModeOptional, AuthModeDisabled:
	default:
		return Config{}, fmt.Errorf("LYRA_AUTH_MODE must be one of required|optional|disabled")
	}

	for _, key := range splitCSV(os.Getenv("LYRA_API_KEYS")) {
		cfg.APIKeys[key] = struct{}{}
	}

	for _, origin := range splitCSV(os.Getenv("LYRA_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if cfg.LimitSessionsPerMinute < 0 {
		return Config{}, fmt.Errorf("LYRA_RATE_LIMIT_SESSIONS_PER_MINUTE must be >= 0")
	}
	if cfg.LimitSessionBurst < 0 {
		return Config{}, fmt.Errorf("LYRA_RATE_LIMIT_SESSION_BURST must be >= 0")
	}
	if cfg.LimitMaxSessions <= 0 {
		return Config{}, fmt.Errorf("LYRA_MAX_SESSIONS must be > 0")
	}
	if cfg.LiveMaxAudioFrameBytes <= 0 {
		return Config{}, fmt.Errorf("LYRA_LIVE_MAX_AUDIO_FRAME_BYTES must be > 0")
	}
	if cfg.LiveQueueSize <= 0 {
		return Config{}, fmt.Errorf("LYRA_LIVE_QUEUE_SIZE must be > 0")
	}
	if cfg.LiveWSPingInterval <= 0 {
		return Config{}, fmt.Errorf("LYRA_LIVE_WS_PING_INTERVAL must be > 0")
	}
	if cfg.LiveWSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("LYRA_LIVE_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.LiveWSReadTimeout <= 0 {
		return Config{}, fmt.Errorf("LYRA_LIVE_WS_READ_TIMEOUT must be > 0")
	}
	if cfg.LiveHandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("LYRA_LIVE_HANDSHAKE_TIMEOUT must be > 0")
	}
	if cfg.UtteranceDebounce <= 0 {
		return Config{}, fmt.Errorf("LYRA_UTTERANCE_DEBOUNCE must be > 0")
	}
	if cfg.FrameFreshness <= 0 {
		return Config{}, fmt.Errorf("LYRA_FRAME_FRESHNESS must be > 0")
	}
	if cfg.SpeechChunk <= 0 {
		return Config{}, fmt.Errorf("LYRA_SPEECH_CHUNK must be > 0")
	}
	if cfg.TurnTimeout <= 0 {
		return Config{}, fmt.Errorf("LYRA_TURN_TIMEOUT must be > 0")
	}
	if cfg.SessionMaxDuration <= 0 {
		return Config{}, fmt.Errorf("LYRA_SESSION_MAX_DURATION must be > 0")
	}
	if cfg.HistoryExchanges <= 0 {
		return Config{}, fmt.Errorf("LYRA_HISTORY_EXCHANGES must be > 0")
	}
	if cfg.ReconnectBackoffBase < 0 {
		return Config{}, fmt.Errorf("LYRA_RECONNECT_BACKOFF_BASE must be >= 0")
	}
	if cfg.ReconnectBackoffFactor < 1 {
		return Config{}, fmt.Errorf("LYRA_RECONNECT_BACKOFF_FACTOR must be >= 1")
	}
	if cfg.ReconnectBackoffCap < cfg.ReconnectBackoffBase {
		return Config{}, fmt.Errorf("LYRA_RECONNECT_BACKOFF_CAP must be >= LYRA_RECONNECT_BACKOFF_BASE")
	}
	if cfg.ReconnectMaxAttempts < 0 {
		return Config{}, fmt.Errorf("LYRA_RECONNECT_MAX_ATTEMPTS must be >= 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("LYRA_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("LYRA_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	if cfg.AuthMode == AuthModeRequired && len(cfg.APIKeys) == 0 {
		return Config{}, fmt.Errorf("LYRA_API_KEYS must be set when LYRA_AUTH_MODE=required")
	}

	if strings.TrimSpace(cfg.CartesiaAPIKey) == "" {
		return Config{}, fmt.Errorf("LYRA_CARTESIA_API_KEY must be set")
	}
	if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
		return Config{}, fmt.Errorf("LYRA_OPENAI_API_KEY must be set")
	}
	if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
		return Config{}, fmt.Errorf("LYRA_GEMINI_API_KEY must be set")
	}

	return cfg, nil
}

// ResumeWindow is how long a dropped session stays resumable: the total
// time a client following the advertised backoff schedule could spend
// retrying, plus slack for the dial itself.
func (c Config) ResumeWindow() time.Duration {
	if c.ReconnectMaxAttempts == 0 || c.ReconnectBackoffBase == 0 {
		return 0
	}
	var total time.Duration
	delay := c.ReconnectBackoffBase
	for i := 0; i < c.ReconnectMaxAttempts; i++ {
		if delay > c.ReconnectBackoffCap {
			delay = c.ReconnectBackoffCap
		}
		total += delay
		delay = time.Duration(float64(delay) * c.ReconnectBackoffFactor)
	}
	return total + 5*time.Second
}

const defaultPersona = "You are Lyra, a warm and attentive voice companion. " +
	"Keep answers short and conversational; you are being read aloud."

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
