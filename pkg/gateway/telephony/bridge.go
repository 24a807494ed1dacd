package telephony

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lyra-ai/lyra-gateway/pkg/core/audio"
	"github.com/lyra-ai/lyra-gateway/pkg/core/types"
	"github.com/lyra-ai/lyra-gateway/pkg/gateway/live/session"
)

// The session core works at 16 kHz in and 24 kHz out; the carrier leg is
// fixed at 8 kHz mu-law both ways.
const (
	sttSampleRate = 16000
	ttsSampleRate = 24000
)

// Bridge adapts one carrier media stream to the session core. It implements
// session.Sink for the outbound leg; the inbound leg is fed by PumpEvents.
// Text-only messages (transcripts, responses, errors) have no carrier
// representation and are dropped; failed turns surface as spoken apologies
// via the session's SpokenApology mode.
type Bridge struct {
	ws        *websocket.Conn
	logger    *slog.Logger
	streamSid string
	callSid   string

	events  chan session.Inbound
	stopped chan struct{}

	writeMu sync.Mutex
	closed  atomic.Bool
}

// NewBridge wraps an upgraded carrier socket after its start event.
func NewBridge(ws *websocket.Conn, start *StartEvent, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		ws:        ws,
		logger:    logger.With("stream_sid", start.StreamSid, "call_sid", start.CallSid),
		streamSid: start.StreamSid,
		callSid:   start.CallSid,
		events:    make(chan session.Inbound, 256),
		stopped:   make(chan struct{}),
	}
}

// CallSid identifies the carrier call.
func (b *Bridge) CallSid() string { return b.callSid }

// Events delivers normalized inbound events for the session run loop.
func (b *Bridge) Events() <-chan session.Inbound { return b.events }

// PumpEvents reads carrier frames until the stream stops, decoding media
// payloads into 16 kHz PCM. It blocks; run it on the handler goroutine.
func (b *Bridge) PumpEvents() {
	defer close(b.events)

	for {
		_, data, err := b.ws.ReadMessage()
		if err != nil {
			// The carrier owns the link; no reconnect window applies.
			b.deliver(session.Inbound{Kind: session.InClosed})
			return
		}

		env, err := DecodeEnvelope(data)
		if err != nil {
			b.logger.Warn("bad carrier frame", "error", err)
			continue
		}

		switch env.Event {
		case "media":
			if env.Media == nil {
				continue
			}
			mulaw, err := env.Media.Audio()
			if err != nil {
				b.logger.Warn("bad media payload", "error", err)
				continue
			}
			samples := audio.Resample(audio.DecodeMuLaw(mulaw), CarrierSampleRate, sttSampleRate)
			b.deliver(session.Inbound{Kind: session.InAudio, PCM: audio.SamplesToBytes(samples)})

		case "stop":
			b.deliver(session.Inbound{Kind: session.InClosed})
			return

		case "connected", "mark":
			// Lifecycle chatter, nothing to forward.

		default:
			b.logger.Debug("ignoring carrier event", "event", env.Event)
		}
	}
}

func (b *Bridge) deliver(ev session.Inbound) {
	if b.closed.Load() {
		return
	}
	if ev.Kind == session.InClosed {
		// The terminal event must reach the run loop even when the queue is
		// full of media; losing it would leave the session alive until its
		// duration cap. It is the last send before the channel closes, and
		// Close unblocks it if the session is already gone.
		select {
		case b.events <- ev:
		case <-b.stopped:
		}
		return
	}
	select {
	case b.events <- ev:
	default:
		// Sustained flooding: drop rather than stall the carrier read.
		b.logger.Warn("inbound event dropped", "kind", ev.Kind)
	}
}

func (b *Bridge) writeEnvelope(env Envelope) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	b.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return b.ws.WriteJSON(env)
}

// SendReady implements session.Sink. The carrier has no ready message; the
// start event already implies it.
func (b *Bridge) SendReady(sessionID string, resumed bool) error { return nil }

// SendTranscript implements session.Sink.
func (b *Bridge) SendTranscript(text string, isFinal bool) error { return nil }

// SendResponse implements session.Sink.
func (b *Bridge) SendResponse(turnID, text string, tier types.Tier, latency time.Duration) error {
	b.logger.Debug("turn answered", "turn_id", turnID, "tier", tier, "latency_ms", latency.Milliseconds())
	return nil
}

// SendAudioStart implements session.Sink.
func (b *Bridge) SendAudioStart(turnID string) error { return nil }

// SendAudioChunk implements session.Sink: 24 kHz PCM down to 8 kHz mu-law
// media envelopes.
func (b *Bridge) SendAudioChunk(turnID string, pcm []byte) error {
	samples := audio.Resample(audio.BytesToSamples(pcm), ttsSampleRate, CarrierSampleRate)
	return b.writeEnvelope(NewMediaEnvelope(b.streamSid, audio.EncodeMuLaw(samples)))
}

// SendAudioDone implements session.Sink. On barge-in the carrier's buffered
// playback is flushed so the caller hears the assistant stop.
func (b *Bridge) SendAudioDone(turnID string, canceled bool) error {
	if canceled {
		return b.writeEnvelope(NewClearEnvelope(b.streamSid))
	}
	return nil
}

// SendWarning implements session.Sink.
func (b *Bridge) SendWarning(code, message string) error {
	b.logger.Info("session warning", "code", code, "message", message)
	return nil
}

// SendError implements session.Sink.
func (b *Bridge) SendError(code, message string, retryable bool) error {
	b.logger.Warn("session error", "code", code, "message", message, "retryable", retryable)
	return nil
}

// Close implements session.Sink.
func (b *Bridge) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	close(b.stopped)
	return b.ws.Close()
}
