package session

import (
	"time"

	"github.com/lyra-ai/lyra-gateway/pkg/core/types"
)

// State is the session lifecycle. Transitions are owned by the run loop:
// connecting -> active -> responding -> active, and any state -> closing ->
// closed.
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateResponding
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateResponding:
		return "responding"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// InboundKind discriminates normalized transport events.
type InboundKind int

const (
	// InAudio carries PCM16LE 16 kHz mono microphone audio.
	InAudio InboundKind = iota
	// InFrame carries a vision frame.
	InFrame
	// InBargeIn is an explicit cancel request from the client.
	InBargeIn
	// InClosed ends the event stream. A non-nil Err marks an abnormal
	// disconnect, which native sessions may survive via resume.
	InClosed
)

// Inbound is one normalized event from a transport.
type Inbound struct {
	Kind  InboundKind
	PCM   []byte
	Frame *types.Frame
	Err   error
}

// Sink is the transport-facing half of a session. Implementations must
// serialize writes internally; the session calls them from the run loop and
// from the speech goroutine.
type Sink interface {
	// SendReady acknowledges session establishment or resume.
	SendReady(sessionID string, resumed bool) error
	// SendTranscript mirrors STT output to the client.
	SendTranscript(text string, isFinal bool) error
	// SendResponse delivers the brain's text answer.
	SendResponse(turnID, text string, tier types.Tier, latency time.Duration) error
	// SendAudioStart opens a turn's audio stream.
	SendAudioStart(turnID string) error
	// SendAudioChunk delivers one bounded PCM16LE 24 kHz chunk.
	SendAudioChunk(turnID string, pcm []byte) error
	// SendAudioDone terminates a turn's audio stream.
	SendAudioDone(turnID string, canceled bool) error
	// SendWarning notifies of an impending shutdown.
	SendWarning(code, message string) error
	// SendError reports a fault without necessarily ending the session.
	SendError(code, message string, retryable bool) error
	Close() error
}
