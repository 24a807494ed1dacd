// Package protocol defines the native live-socket wire schema: JSON control
// messages with a type discriminator, plus raw binary PCM frames handled
// outside this package.
//
// Client to server: config, frame, barge_in.
// Server to client: session_ready, transcript, response, audio, audio_done,
// error.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// ProtocolVersion is the current native protocol version.
const ProtocolVersion = 1

// Audio formats are fixed by the pipeline: microphone in at 16 kHz, speech
// out at 24 kHz, both PCM16LE mono.
const (
	AudioInSampleRate  = 16000
	AudioOutSampleRate = 24000
)

// DecodeError describes a client message the gateway refuses to process.
type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if e.Param != "" {
		return fmt.Sprintf("%s: %s (param: %s)", e.Code, e.Message, e.Param)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: "unsupported", Message: message, Param: param}
}

// ClientConfig opens or resumes a session. It must be the first text message
// on a fresh socket.
type ClientConfig struct {
	Type string `json:"type"`
	// SessionID resumes an existing session after a reconnect. Empty for a
	// new session.
	SessionID string `json:"session_id,omitempty"`
	// Tier is fast, conversational, deep, or auto (default).
	Tier     string `json:"tier,omitempty"`
	Persona  string `json:"persona,omitempty"`
	Voice    string `json:"voice,omitempty"`
	Language string `json:"language,omitempty"`
	UserID   string `json:"user_id,omitempty"`
	// ClientAEC reports that the client runs echo cancellation, which
	// loosens barge-in gating.
	ClientAEC bool `json:"client_aec,omitempty"`
}

// Validate checks config fields that have a closed value set.
func (c *ClientConfig) Validate() *DecodeError {
	switch strings.ToLower(strings.TrimSpace(c.Tier)) {
	case "", "fast", "conversational", "deep", "auto":
	default:
		return unsupported("unknown tier", "tier")
	}
	return nil
}

// ClientFrame carries one vision frame. Only the most recent frame is kept;
// stale frames are dropped at dispatch time.
type ClientFrame struct {
	Type string `json:"type"`
	// DataB64 is a base64 JPEG.
	DataB64 string `json:"data"`
	// CapturedAtMS is the client capture time in unix milliseconds,
	// optional.
	CapturedAtMS int64 `json:"captured_at_ms,omitempty"`
}

// JPEG decodes the frame payload.
func (f *ClientFrame) JPEG() ([]byte, *DecodeError) {
	if strings.TrimSpace(f.DataB64) == "" {
		return nil, badRequest("missing frame data", "data")
	}
	raw, err := base64.StdEncoding.DecodeString(f.DataB64)
	if err != nil {
		return nil, badRequest("invalid base64 frame data", "data")
	}
	return raw, nil
}

// ClientBargeIn asks the gateway to stop the in-flight spoken response.
type ClientBargeIn struct {
	Type string `json:"type"`
}

// ServerSessionReady acknowledges session establishment or resume.
type ServerSessionReady struct {
	Type            string `json:"type"`
	SessionID       string `json:"session_id"`
	ProtocolVersion int    `json:"protocol_version"`
	AudioInRate     int    `json:"audio_in_rate"`
	AudioOutRate    int    `json:"audio_out_rate"`
	Resumed         bool   `json:"resumed,omitempty"`
}

// NewSessionReady builds the ready message with the fixed pipeline formats.
func NewSessionReady(sessionID string, resumed bool) ServerSessionReady {
	return ServerSessionReady{
		Type:            "session_ready",
		SessionID:       sessionID,
		ProtocolVersion: ProtocolVersion,
		AudioInRate:     AudioInSampleRate,
		AudioOutRate:    AudioOutSampleRate,
		Resumed:         resumed,
	}
}

// ServerTranscript mirrors STT output back to the client. Role is always
// "user" today; assistant text travels in response messages.
type ServerTranscript struct {
	Type    string `json:"type"`
	Role    string `json:"role"`
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
}

// ServerResponse carries the brain's text answer for a turn. Audio for the
// same turn follows as an audio marker plus binary chunks.
type ServerResponse struct {
	Type      string `json:"type"`
	TurnID    string `json:"turn_id"`
	Text      string `json:"text"`
	Tier      string `json:"tier"`
	LatencyMS int64  `json:"latency_ms"`
}

// ServerAudio marks the start of a turn's binary audio chunk stream.
type ServerAudio struct {
	Type       string `json:"type"`
	TurnID     string `json:"turn_id"`
	SampleRate int    `json:"sample_rate"`
}

// ServerAudioDone terminates a turn's audio stream. Canceled marks barge-in.
type ServerAudioDone struct {
	Type     string `json:"type"`
	TurnID   string `json:"turn_id"`
	Canceled bool   `json:"canceled,omitempty"`
}

// ServerError reports a fault. Close tells the client the socket is about to
// shut; retryable faults leave the session usable.
type ServerError struct {
	Type      string `json:"type"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
	Close     bool   `json:"close,omitempty"`
}

type typeProbe struct {
	Type string `json:"type"`
}

// DecodeClientMessage parses one text frame from the client and returns a
// typed message (*ClientConfig, *ClientFrame, or *ClientBargeIn).
func DecodeClientMessage(data []byte) (any, *DecodeError) {
	var probe typeProbe
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, badRequest("invalid JSON", "")
	}

	switch probe.Type {
	case "config":
		var msg ClientConfig
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid config message", "")
		}
		if derr := msg.Validate(); derr != nil {
			return nil, derr
		}
		return &msg, nil

	case "frame":
		var msg ClientFrame
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid frame message", "")
		}
		return &msg, nil

	case "barge_in":
		var msg ClientBargeIn
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid barge_in message", "")
		}
		return &msg, nil

	case "":
		return nil, badRequest("missing message type", "type")

	default:
		return nil, unsupported("unknown message type: "+probe.Type, "type")
	}
}
