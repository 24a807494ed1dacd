// Package stt defines the streaming speech-to-text contract used by live
// sessions, plus the Cartesia implementation.
package stt

import "context"

// Delta is one incremental transcription result. Interim deltas replace each
// other; final deltas are stable fragments the session accumulates into an
// utterance.
type Delta struct {
	Text    string
	IsFinal bool
}

// Stream is a live transcription session. SendAudio is safe to call from the
// session goroutine while deltas are consumed elsewhere.
type Stream interface {
	// SendAudio pushes PCM16LE audio in the rate given at open time.
	SendAudio(pcm []byte) error
	// Finalize flushes buffered audio without closing the stream.
	Finalize() error
	// Deltas delivers transcription results until the stream ends.
	Deltas() <-chan Delta
	// Done closes when the stream has fully shut down.
	Done() <-chan struct{}
	Close() error
}

// Provider opens transcription streams.
type Provider interface {
	Name() string
	NewStream(ctx context.Context, opts StreamOptions) (Stream, error)
}

// StreamOptions configures a transcription stream.
type StreamOptions struct {
	Model      string
	Language   string
	SampleRate int
}
