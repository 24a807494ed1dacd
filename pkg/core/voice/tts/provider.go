// Package tts defines the streaming text-to-speech contract used by live
// sessions, plus the Cartesia implementation.
package tts

import "context"

// StreamContext is an incremental synthesis session: text chunks go in, PCM
// audio chunks come out. The audio channel closes when synthesis finishes or
// the context is torn down; Err reports why.
type StreamContext interface {
	// SendText appends transcript text. final signals the last chunk and
	// lets the provider flush remaining audio.
	SendText(text string, final bool) error
	// Audio delivers raw PCM16LE chunks at the configured sample rate.
	Audio() <-chan []byte
	// Err returns the terminal error, if any, once Audio has closed.
	Err() error
	Close() error
}

// Provider opens synthesis contexts.
type Provider interface {
	Name() string
	NewStreamContext(ctx context.Context, opts ContextOptions) (StreamContext, error)
}

// ContextOptions configures a synthesis context.
type ContextOptions struct {
	Voice      string
	Language   string
	SampleRate int
	Speed      float64
}
