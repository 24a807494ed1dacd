// Package telephony bridges carrier media-stream WebSockets onto the
// session core. The carrier speaks JSON envelopes (connected, start, media,
// stop) with base64 8 kHz mu-law audio payloads; everything conversational
// is delegated to the shared pipeline.
package telephony

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Carrier media format.
const (
	AudioEncodingMulaw = "audio/x-mulaw"
	CarrierSampleRate  = 8000
)

// Envelope is one carrier event frame.
type Envelope struct {
	Event          string      `json:"event"`
	SequenceNumber string      `json:"sequenceNumber,omitempty"`
	StreamSid      string      `json:"streamSid,omitempty"`
	Start          *StartEvent `json:"start,omitempty"`
	Media          *MediaEvent `json:"media,omitempty"`
	Stop           *StopEvent  `json:"stop,omitempty"`
	Mark           *MarkEvent  `json:"mark,omitempty"`
}

// StartEvent announces a new media stream.
type StartEvent struct {
	StreamSid        string            `json:"streamSid"`
	AccountSid       string            `json:"accountSid"`
	CallSid          string            `json:"callSid"`
	Tracks           []string          `json:"tracks,omitempty"`
	MediaFormat      MediaFormat       `json:"mediaFormat"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

// MediaFormat describes the stream's audio encoding.
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// MediaEvent carries one base64 mu-law audio payload.
type MediaEvent struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

// Audio decodes the payload.
func (m *MediaEvent) Audio() ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(m.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode media payload: %w", err)
	}
	return raw, nil
}

// StopEvent ends the stream.
type StopEvent struct {
	AccountSid string `json:"accountSid"`
	CallSid    string `json:"callSid"`
}

// MarkEvent acknowledges a playback mark.
type MarkEvent struct {
	Name string `json:"name"`
}

// DecodeEnvelope parses one carrier frame.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Event == "" {
		return nil, fmt.Errorf("envelope missing event")
	}
	return &env, nil
}

// NewMediaEnvelope builds an outbound audio envelope.
func NewMediaEnvelope(streamSid string, mulaw []byte) Envelope {
	return Envelope{
		Event:     "media",
		StreamSid: streamSid,
		Media:     &MediaEvent{Payload: base64.StdEncoding.EncodeToString(mulaw)},
	}
}

// NewClearEnvelope tells the carrier to flush buffered playback, used on
// barge-in.
func NewClearEnvelope(streamSid string) Envelope {
	return Envelope{Event: "clear", StreamSid: streamSid}
}
