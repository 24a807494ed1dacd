package tts

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

const (
	cartesiaWSURL   = "wss://api.cartesia.ai/tts/websocket"
	cartesiaVersion = "2025-04-16"

	defaultModel      = "sonic-3"
	defaultVoiceID    = "a0e99841-438c-4a64-b679-ae501e7d6091"
	defaultSampleRate = 24000
)

// Cartesia implements Provider against Cartesia's streaming TTS WebSocket.
type Cartesia struct {
	apiKey string
}

// NewCartesia creates a Cartesia TTS provider.
func NewCartesia(apiKey string) *Cartesia {
	return &Cartesia{apiKey: apiKey}
}

// Name returns the provider identifier.
func (c *Cartesia) Name() string { return "cartesia" }

type cartesiaVoiceSpec struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type cartesiaOutputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
}

type cartesiaGenerationConfig struct {
	Speed float64 `json:"speed,omitempty"`
}

type cartesiaStreamRequest struct {
	ModelID          string                    `json:"model_id"`
	Transcript       string                    `json:"transcript"`
	Voice            cartesiaVoiceSpec         `json:"voice"`
	OutputFormat     cartesiaOutputFormat      `json:"output_format"`
	ContextID        string                    `json:"context_id"`
	Continue         bool                      `json:"continue"`
	MaxBufferDelayMs int                       `json:"max_buffer_delay_ms,omitempty"`
	GenerationConfig *cartesiaGenerationConfig `json:"generation_config,omitempty"`
	Language         *string                   `json:"language,omitempty"`
}

type cartesiaStreamResponse struct {
	Type  string `json:"type"` // "chunk", "flush_done", "done", "error"
	Data  string `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

var contextCounter atomic.Uint64

func nextContextID() string {
	return fmt.Sprintf("ctx_%d", contextCounter.Add(1))
}

// NewStreamContext opens an incremental synthesis session.
func (c *Cartesia) NewStreamContext(ctx context.Context, opts ContextOptions) (StreamContext, error) {
	u, err := url.Parse(cartesiaWSURL)
	if err != nil {
		return nil, fmt.Errorf("parse websocket URL: %w", err)
	}
	q := u.Query()
	q.Set("api_key", c.apiKey)
	q.Set("cartesia_version", cartesiaVersion)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket connect: %w", err)
	}

	voiceID := opts.Voice
	if voiceID == "" {
		voiceID = defaultVoiceID
	}
	sampleRate := opts.SampleRate
	if sampleRate == 0 {
		sampleRate = defaultSampleRate
	}

	baseReq := cartesiaStreamRequest{
		ModelID: defaultModel,
		Voice:   cartesiaVoiceSpec{Mode: "id", ID: voiceID},
		OutputFormat: cartesiaOutputFormat{
			Container:  "raw",
			Encoding:   "pcm_s16le",
			SampleRate: sampleRate,
		},
		ContextID:        nextContextID(),
		MaxBufferDelayMs: 500,
	}
	if opts.Speed != 0 {
		baseReq.GenerationConfig = &cartesiaGenerationConfig{Speed: opts.Speed}
	}
	if opts.Language != "" {
		baseReq.Language = &opts.Language
	}

	ctx, cancel := context.WithCancel(ctx)
	sc := &cartesiaContext{
		conn:    conn,
		baseReq: baseReq,
		audio:   make(chan []byte, 32),
		ctx:     ctx,
		cancel:  cancel,
	}
	go sc.readLoop()
	return sc, nil
}

type cartesiaContext struct {
	conn    *websocket.Conn
	baseReq cartesiaStreamRequest
	audio   chan []byte

	writeMu sync.Mutex
	closed  atomic.Bool

	errMu sync.Mutex
	err   error

	ctx    context.Context
	cancel context.CancelFunc
}

// SendText appends transcript text to the synthesis context. Continue stays
// true until the final chunk; Cartesia closes the context once it sees
// continue=false and rejects anything after that.
func (sc *cartesiaContext) SendText(text string, final bool) error {
	if sc.closed.Load() {
		return fmt.Errorf("context closed")
	}
	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()

	req := sc.baseReq
	req.Transcript = text
	req.Continue = !final
	return sc.conn.WriteJSON(req)
}

func (sc *cartesiaContext) readLoop() {
	defer close(sc.audio)
	defer sc.conn.Close()

	for {
		select {
		case <-sc.ctx.Done():
			sc.setErr(sc.ctx.Err())
			return
		default:
		}

		var msg cartesiaStreamResponse
		if err := sc.conn.ReadJSON(&msg); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) || sc.closed.Load() {
				return
			}
			sc.setErr(err)
			return
		}

		switch msg.Type {
		case "chunk":
			data, err := base64.StdEncoding.DecodeString(msg.Data)
			if err != nil {
				sc.setErr(fmt.Errorf("decode audio: %w", err))
				return
			}
			select {
			case sc.audio <- data:
			case <-sc.ctx.Done():
				sc.setErr(sc.ctx.Err())
				return
			}
		case "flush_done":
			continue
		case "done":
			return
		case "error":
			sc.setErr(fmt.Errorf("cartesia error: %s", msg.Error))
			return
		}
	}
}

func (sc *cartesiaContext) setErr(err error) {
	if err == nil {
		return
	}
	sc.errMu.Lock()
	if sc.err == nil {
		sc.err = err
	}
	sc.errMu.Unlock()
}

func (sc *cartesiaContext) Audio() <-chan []byte { return sc.audio }

func (sc *cartesiaContext) Err() error {
	sc.errMu.Lock()
	defer sc.errMu.Unlock()
	return sc.err
}

func (sc *cartesiaContext) Close() error {
	if sc.closed.Swap(true) {
		return nil
	}
	sc.cancel()
	return sc.conn.Close()
}
