// Package native adapts a client WebSocket to the transport-neutral session
// core. Binary frames are microphone PCM; text frames are protocol JSON. All
// outbound traffic funnels through a single writer goroutine with priority
// and normal queues, so control messages overtake queued audio.
package native

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lyra-ai/lyra-gateway/pkg/core/types"
	"github.com/lyra-ai/lyra-gateway/pkg/gateway/live/protocol"
	"github.com/lyra-ai/lyra-gateway/pkg/gateway/live/session"
)

var errBackpressure = errors.New("outbound queue full")

// Config tunes one native connection.
type Config struct {
	WriteTimeout       time.Duration
	PingInterval       time.Duration
	ReadTimeout        time.Duration
	MaxAudioFrameBytes int
	QueueSize          int
}

func (c Config) withDefaults() Config {
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 20 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 60 * time.Second
	}
	if c.MaxAudioFrameBytes <= 0 {
		c.MaxAudioFrameBytes = 8192
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	return c
}

type outFrame struct {
	text    []byte
	binary  []byte
	turnID  string
	isAudio bool
}

// Conn is one native client connection. It implements session.Sink.
type Conn struct {
	ws     *websocket.Conn
	cfg    Config
	logger *slog.Logger

	priority chan outFrame
	normal   chan outFrame
	events   chan session.Inbound

	ctx    context.Context
	cancel context.CancelFunc

	// canceledTurn is the most recent barge-in victim; the writer drops
	// its queued audio frames.
	canceledTurn atomic.Value // string

	closeOnce sync.Once
	writerWG  sync.WaitGroup
}

// NewConn wraps an upgraded WebSocket and starts the writer and reader
// loops.
func NewConn(ws *websocket.Conn, cfg Config, logger *slog.Logger) *Conn {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		ws:       ws,
		cfg:      cfg,
		logger:   logger,
		priority: make(chan outFrame, cfg.QueueSize),
		normal:   make(chan outFrame, cfg.QueueSize),
		events:   make(chan session.Inbound, cfg.QueueSize),
		ctx:      ctx,
		cancel:   cancel,
	}
	c.canceledTurn.Store("")

	c.writerWG.Add(1)
	go func() {
		defer c.writerWG.Done()
		c.writeLoop()
	}()
	go c.readLoop()
	return c
}

// Events delivers normalized inbound events until the socket closes.
func (c *Conn) Events() <-chan session.Inbound {
	return c.events
}

func (c *Conn) readLoop() {
	defer close(c.events)

	c.ws.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	})

	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			var closeErr error
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && c.ctx.Err() == nil {
				closeErr = err
			}
			c.deliver(session.Inbound{Kind: session.InClosed, Err: closeErr})
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))

		switch mt {
		case websocket.BinaryMessage:
			if len(data) > c.cfg.MaxAudioFrameBytes {
				_ = c.SendError("frame_too_large", "audio frame exceeds limit", false)
				continue
			}
			pcm := make([]byte, len(data))
			copy(pcm, data)
			c.deliver(session.Inbound{Kind: session.InAudio, PCM: pcm})

		case websocket.TextMessage:
			msg, derr := protocol.DecodeClientMessage(data)
			if derr != nil {
				_ = c.SendError(derr.Code, derr.Message, false)
				continue
			}
			switch m := msg.(type) {
			case *protocol.ClientFrame:
				jpeg, derr := m.JPEG()
				if derr != nil {
					_ = c.SendError(derr.Code, derr.Message, false)
					continue
				}
				now := time.Now()
				capturedAt := now
				if m.CapturedAtMS > 0 {
					capturedAt = time.UnixMilli(m.CapturedAtMS)
				}
				c.deliver(session.Inbound{Kind: session.InFrame, Frame: &types.Frame{
					JPEG:       jpeg,
					CapturedAt: capturedAt,
					ReceivedAt: now,
				}})
			case *protocol.ClientBargeIn:
				c.deliver(session.Inbound{Kind: session.InBargeIn})
			case *protocol.ClientConfig:
				// The handshake consumed the config; a second one is a
				// client bug.
				_ = c.SendError("bad_request", "session already configured", false)
			}
		}
	}
}

func (c *Conn) deliver(ev session.Inbound) {
	select {
	case c.events <- ev:
	case <-c.ctx.Done():
	}
}

func (c *Conn) writeLoop() {
	pingTicker := time.NewTicker(c.cfg.PingInterval)
	defer pingTicker.Stop()

	var pendingNormal *outFrame

	for {
		select {
		case <-c.ctx.Done():
			c.flushPriorityOnShutdown()
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.cfg.WriteTimeout))
			_ = c.ws.Close()
			return
		default:
		}

		// Hard priority: drain control frames before any queued audio.
		select {
		case frame := <-c.priority:
			if err := c.writeFrame(frame); err != nil {
				c.teardown(err)
				return
			}
			continue
		default:
		}

		if pendingNormal != nil {
			select {
			case frame := <-c.priority:
				if err := c.writeFrame(frame); err != nil {
					c.teardown(err)
					return
				}
				continue
			default:
			}
			if err := c.writeFrame(*pendingNormal); err != nil {
				c.teardown(err)
				return
			}
			pendingNormal = nil
			continue
		}

		select {
		case <-c.ctx.Done():
			continue
		case <-pingTicker.C:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				c.teardown(err)
				return
			}
		case frame := <-c.priority:
			if err := c.writeFrame(frame); err != nil {
				c.teardown(err)
				return
			}
		case frame := <-c.normal:
			pendingNormal = &frame
		}
	}
}

func (c *Conn) teardown(err error) {
	if c.ctx.Err() == nil {
		c.logger.Debug("writer stopped", "error", err)
	}
	c.cancel()
	_ = c.ws.Close()
}

func (c *Conn) flushPriorityOnShutdown() {
	deadline := time.Now().Add(100 * time.Millisecond)
	for i := 0; i < 8 && time.Now().Before(deadline); i++ {
		select {
		case frame := <-c.priority:
			_ = c.writeFrame(frame)
		default:
			return
		}
	}
}

func (c *Conn) writeFrame(frame outFrame) error {
	if frame.isAudio && frame.turnID != "" && c.canceledTurn.Load() == frame.turnID {
		return nil
	}

	deadline := time.Now().Add(c.cfg.WriteTimeout)
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if frame.binary != nil {
		return c.ws.WriteMessage(websocket.BinaryMessage, frame.binary)
	}
	return c.ws.WriteMessage(websocket.TextMessage, frame.text)
}

func (c *Conn) enqueue(ch chan outFrame, frame outFrame) error {
	select {
	case ch <- frame:
		return nil
	case <-c.ctx.Done():
		return c.ctx.Err()
	default:
		return errBackpressure
	}
}

func (c *Conn) enqueueJSON(ch chan outFrame, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.enqueue(ch, outFrame{text: data})
}

// SendReady implements session.Sink.
func (c *Conn) SendReady(sessionID string, resumed bool) error {
	return c.enqueueJSON(c.priority, protocol.NewSessionReady(sessionID, resumed))
}

// SendTranscript implements session.Sink.
func (c *Conn) SendTranscript(text string, isFinal bool) error {
	return c.enqueueJSON(c.priority, protocol.ServerTranscript{
		Type:    "transcript",
		Role:    string(types.RoleUser),
		Text:    text,
		IsFinal: isFinal,
	})
}

// SendResponse implements session.Sink.
func (c *Conn) SendResponse(turnID, text string, tier types.Tier, latency time.Duration) error {
	return c.enqueueJSON(c.priority, protocol.ServerResponse{
		Type:      "response",
		TurnID:    turnID,
		Text:      text,
		Tier:      string(tier),
		LatencyMS: latency.Milliseconds(),
	})
}

// SendAudioStart implements session.Sink. Audio traffic rides the normal
// queue so the marker, chunks, and terminal message stay ordered.
func (c *Conn) SendAudioStart(turnID string) error {
	data, err := json.Marshal(protocol.ServerAudio{
		Type:       "audio",
		TurnID:     turnID,
		SampleRate: protocol.AudioOutSampleRate,
	})
	if err != nil {
		return err
	}
	return c.enqueue(c.normal, outFrame{text: data, turnID: turnID, isAudio: true})
}

// SendAudioChunk implements session.Sink.
func (c *Conn) SendAudioChunk(turnID string, pcm []byte) error {
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	return c.enqueue(c.normal, outFrame{binary: buf, turnID: turnID, isAudio: true})
}

// SendAudioDone implements session.Sink. A canceled turn's terminal marker
// jumps the queue and its remaining audio frames are dropped.
func (c *Conn) SendAudioDone(turnID string, canceled bool) error {
	done := protocol.ServerAudioDone{Type: "audio_done", TurnID: turnID, Canceled: canceled}
	if canceled {
		c.canceledTurn.Store(turnID)
		return c.enqueueJSON(c.priority, done)
	}
	data, err := json.Marshal(done)
	if err != nil {
		return err
	}
	return c.enqueue(c.normal, outFrame{text: data, turnID: turnID})
}

// SendWarning implements session.Sink.
func (c *Conn) SendWarning(code, message string) error {
	return c.SendError(code, message, true)
}

// SendError implements session.Sink.
func (c *Conn) SendError(code, message string, retryable bool) error {
	return c.enqueueJSON(c.priority, protocol.ServerError{
		Type:      "error",
		Code:      code,
		Message:   message,
		Retryable: retryable,
	})
}

// Close implements session.Sink. It waits for the writer to flush priority
// frames and send a close message before the socket goes away.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
	})
	c.writerWG.Wait()
	return nil
}
