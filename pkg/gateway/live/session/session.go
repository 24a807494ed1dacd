// Package session implements the conversational core shared by every
// transport: utterance segmentation, brain dispatch, speech streaming, and
// barge-in. One goroutine owns all session state; transports feed it
// normalized inbound events and receive outbound messages through a Sink.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/lyra-ai/lyra-gateway/pkg/core"
	"github.com/lyra-ai/lyra-gateway/pkg/core/types"
	"github.com/lyra-ai/lyra-gateway/pkg/core/voice/stt"
	"github.com/lyra-ai/lyra-gateway/pkg/core/voice/tts"
	"github.com/lyra-ai/lyra-gateway/pkg/gateway/brain"
	"github.com/lyra-ai/lyra-gateway/pkg/gateway/memory"
	"github.com/lyra-ai/lyra-gateway/pkg/gateway/metrics"
)

// Config tunes one session.
type Config struct {
	// Debounce is the utterance commit timer, reset on every final STT
	// fragment. Clamped to [700ms, 1s].
	Debounce time.Duration
	// FrameFreshness bounds how old a cached vision frame may be at
	// dispatch; stale frames are dropped silently.
	FrameFreshness time.Duration
	// SpeechChunk bounds outbound audio chunk duration at 24 kHz.
	SpeechChunk time.Duration
	// TurnTimeout bounds one brain completion.
	TurnTimeout time.Duration
	// MaxDuration caps the whole session; zero means unlimited.
	MaxDuration time.Duration
	// ResumeWindow keeps a disconnected session alive awaiting reconnect.
	// Zero disables resume (telephony).
	ResumeWindow time.Duration
	// MaxHistoryExchanges bounds the conversation context.
	MaxHistoryExchanges int

	Tier      types.Tier
	Persona   string
	STTModel  string
	Voice     string
	Language  string
	UserID    string
	ClientAEC bool
	// SpokenApology makes failed turns speak a short apology, for
	// transports with no error channel to the listener.
	SpokenApology bool
	// Transport labels metrics: "native" or "telephony".
	Transport string
}

const (
	debounceMin     = 700 * time.Millisecond
	debounceMax     = time.Second
	debounceDefault = 800 * time.Millisecond

	speechChunkDefault = 200 * time.Millisecond
	outSampleRate      = 24000

	apologyText = "Sorry, I hit a snag just now. Could you say that again?"
)

func (c Config) withDefaults() Config {
	if c.Debounce == 0 {
		c.Debounce = debounceDefault
	}
	if c.Debounce < debounceMin {
		c.Debounce = debounceMin
	}
	if c.Debounce > debounceMax {
		c.Debounce = debounceMax
	}
	if c.FrameFreshness <= 0 {
		c.FrameFreshness = 5 * time.Second
	}
	if c.SpeechChunk <= 0 {
		c.SpeechChunk = speechChunkDefault
	}
	if c.TurnTimeout <= 0 {
		c.TurnTimeout = 30 * time.Second
	}
	if c.MaxHistoryExchanges <= 0 {
		c.MaxHistoryExchanges = 10
	}
	if c.Tier == "" {
		c.Tier = types.TierAuto
	}
	if c.Transport == "" {
		c.Transport = "native"
	}
	return c
}

// Brain runs one routed completion. *brain.Router satisfies this.
type Brain interface {
	Respond(ctx context.Context, req brain.CompletionRequest, requested types.Tier) (brain.TurnResult, error)
}

// Dependencies are the session collaborators. STT, TTS, and Brain are
// required; Memory and Metrics may be nil.
type Dependencies struct {
	STT     stt.Provider
	TTS     tts.Provider
	Brain   Brain
	Memory  memory.Store
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Session is one live conversation.
type Session struct {
	ID     string
	cfg    Config
	deps   Dependencies
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// sinkMu guards sink against swap during resume; the run loop swaps,
	// the speech goroutine and Warn read.
	sinkMu sync.Mutex
	sink   Sink

	inbound  <-chan Inbound
	resumeCh chan resumeRequest

	state           atomic.Int32
	pendingCancel   atomic.Bool
	playbackStarted atomic.Bool

	startedAt time.Time
}

type resumeRequest struct {
	sink    Sink
	inbound <-chan Inbound
	reply   chan error
}

type turnOutcome struct {
	turnID    string
	utterance string
	result    brain.TurnResult
	err       error
}

type speakResult struct {
	turnID   string
	canceled bool
}

// New builds a session. Run must be called exactly once.
func New(id string, cfg Config, deps Dependencies, sink Sink, inbound <-chan Inbound) *Session {
	cfg = cfg.withDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:       id,
		cfg:      cfg,
		deps:     deps,
		logger:   logger.With("session_id", id, "transport", cfg.Transport),
		ctx:      ctx,
		cancel:   cancel,
		sink:     sink,
		inbound:  inbound,
		resumeCh: make(chan resumeRequest),
	}
	s.state.Store(int32(StateConnecting))
	return s
}

// State reports the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// Cancel tears the session down from outside the run loop.
func (s *Session) Cancel() {
	s.cancel()
}

// Warn notifies the client of an impending shutdown.
func (s *Session) Warn(code, message string) error {
	s.sinkMu.Lock()
	sink := s.sink
	s.sinkMu.Unlock()
	if sink == nil {
		return nil
	}
	return sink.SendWarning(code, message)
}

// Resume attaches a reconnected transport to a parked session. It fails once
// the session has closed.
func (s *Session) Resume(sink Sink, inbound <-chan Inbound) error {
	req := resumeRequest{sink: sink, inbound: inbound, reply: make(chan error, 1)}
	select {
	case s.resumeCh <- req:
		return <-req.reply
	case <-s.ctx.Done():
		return context.Canceled
	}
}

func (s *Session) currentSink() Sink {
	s.sinkMu.Lock()
	defer s.sinkMu.Unlock()
	return s.sink
}

func (s *Session) swapTransport(sink Sink, inbound <-chan Inbound) {
	s.sinkMu.Lock()
	if s.sink != nil {
		_ = s.sink.Close()
	}
	s.sink = sink
	s.sinkMu.Unlock()
	s.inbound = inbound
}

// Run drives the session until it closes. It owns all state transitions.
func (s *Session) Run() error {
	s.startedAt = time.Now()
	if m := s.deps.Metrics; m != nil {
		m.SessionsActive.Inc()
		m.SessionsTotal.WithLabelValues(s.cfg.Transport).Inc()
	}

	sttStream, err := s.deps.STT.NewStream(s.ctx, stt.StreamOptions{
		Model:      s.cfg.STTModel,
		Language:   s.cfg.Language,
		SampleRate: 16000,
	})
	if err != nil {
		s.logger.Error("stt open failed", "error", err)
		_ = s.currentSink().SendError("stt_unavailable", "transcription unavailable", true)
		s.shutdown(nil, nil, nil)
		return err
	}

	s.setState(StateActive)
	_ = s.currentSink().SendReady(s.ID, false)
	s.logger.Info("session started")

	// Debounce timer, reset on every final fragment. The reset-not-stack
	// pattern keeps exactly one pending fire.
	var (
		debounce       *time.Timer
		debounceCh     <-chan time.Time
		debounceActive bool
	)
	stopDebounce := func() {
		if debounce != nil && debounceActive {
			if !debounce.Stop() {
				select {
				case <-debounce.C:
				default:
				}
			}
		}
		debounceActive = false
		debounceCh = nil
	}
	resetDebounce := func() {
		stopDebounce()
		if debounce == nil {
			debounce = time.NewTimer(s.cfg.Debounce)
		} else {
			debounce.Reset(s.cfg.Debounce)
		}
		debounceActive = true
		debounceCh = debounce.C
	}

	var (
		sessionTimer   *time.Timer
		sessionTimerCh <-chan time.Time
	)
	if s.cfg.MaxDuration > 0 {
		sessionTimer = time.NewTimer(s.cfg.MaxDuration)
		sessionTimerCh = sessionTimer.C
	}

	var (
		parkTimer   *time.Timer
		parkTimerCh <-chan time.Time
		parked      bool
	)
	stopPark := func() {
		if parkTimer != nil {
			parkTimer.Stop()
			parkTimer = nil
		}
		parkTimerCh = nil
		parked = false
	}
	park := func(err error) {
		parked = true
		s.inbound = nil
		parkTimer = time.NewTimer(s.cfg.ResumeWindow)
		parkTimerCh = parkTimer.C
		s.logger.Info("session parked", "error", err, "window", s.cfg.ResumeWindow)
	}

	var (
		fragments    []string
		deferred     string
		lastFrame    *types.Frame
		hist         = newHistory(s.cfg.MaxHistoryExchanges)
		activeTurnID string
		turnCancel   context.CancelFunc
		speakCancel  context.CancelFunc
		runResultCh  = make(chan turnOutcome, 1)
		speakDoneCh  = make(chan speakResult, 1)
	)

	sttDeltas := sttStream.Deltas()
	var runErr error

	dispatch := func(utterance string) {
		s.setState(StateResponding)
		s.pendingCancel.Store(false)
		s.playbackStarted.Store(false)
		activeTurnID = "t_" + uuid.NewString()

		frame := lastFrame
		if !frame.FreshAt(time.Now(), s.cfg.FrameFreshness) {
			frame = nil
		}

		req := brain.CompletionRequest{
			System:  s.cfg.Persona,
			History: hist.snapshot(),
			User:    utterance,
			Frame:   frame,
		}

		var turnCtx context.Context
		turnCtx, turnCancel = context.WithTimeout(s.ctx, s.cfg.TurnTimeout)
		turnID := activeTurnID
		go func() {
			if s.deps.Memory != nil && s.cfg.UserID != "" {
				memText, err := s.deps.Memory.Context(turnCtx, s.cfg.UserID)
				if err != nil {
					s.logger.Warn("memory context failed", "error", err)
				} else {
					req.Memory = memText
				}
			}
			res, err := s.deps.Brain.Respond(turnCtx, req, s.cfg.Tier)
			runResultCh <- turnOutcome{turnID: turnID, utterance: utterance, result: res, err: err}
		}()
	}

	startSpeaking := func(turnID, text string) {
		var speakCtx context.Context
		speakCtx, speakCancel = context.WithCancel(s.ctx)
		go func() {
			canceled := s.speakTurn(speakCtx, turnID, text)
			speakDoneCh <- speakResult{turnID: turnID, canceled: canceled}
		}()
	}

	// finishTurn returns to active and flushes any utterance committed
	// while responding. Deferred speech is never dropped.
	finishTurn := func() {
		activeTurnID = ""
		turnCancel = nil
		speakCancel = nil
		s.pendingCancel.Store(false)
		s.playbackStarted.Store(false)
		s.setState(StateActive)
		if deferred != "" {
			u := deferred
			deferred = ""
			dispatch(u)
		}
	}

	bargeIn := func(source string) {
		if s.State() != StateResponding {
			return
		}
		// Only honored once playback has started; earlier signals would
		// cancel audio the listener never heard.
		if !s.playbackStarted.Load() {
			return
		}
		if s.pendingCancel.Swap(true) {
			return
		}
		if speakCancel != nil {
			speakCancel()
		}
		if m := s.deps.Metrics; m != nil {
			m.BargeInsTotal.Inc()
		}
		s.logger.Info("barge in", "source", source, "turn_id", activeTurnID)
	}

	commitUtterance := func() {
		utterance := strings.TrimSpace(strings.Join(fragments, " "))
		fragments = nil
		if utterance == "" {
			return
		}
		if s.State() == StateResponding {
			if deferred != "" {
				deferred += " " + utterance
			} else {
				deferred = utterance
			}
			return
		}
		dispatch(utterance)
	}

	defer func() {
		stopDebounce()
		if sessionTimer != nil {
			sessionTimer.Stop()
		}
		stopPark()
		s.shutdown(turnCancel, speakCancel, sttStream)
	}()

	for {
		select {
		case <-s.ctx.Done():
			return runErr

		case req := <-s.resumeCh:
			s.swapTransport(req.sink, req.inbound)
			stopPark()
			_ = s.currentSink().SendReady(s.ID, true)
			s.logger.Info("session resumed")
			req.reply <- nil

		case ev, ok := <-s.inbound:
			if !ok {
				// The transport closed its event stream without a close
				// event. Nothing else ends the session, so treat it as an
				// abnormal disconnect.
				if s.cfg.ResumeWindow > 0 {
					park(nil)
					continue
				}
				return runErr
			}
			switch ev.Kind {
			case InAudio:
				if parked {
					continue
				}
				if err := sttStream.SendAudio(ev.PCM); err != nil {
					s.logger.Warn("stt send failed", "error", err)
				}
				if m := s.deps.Metrics; m != nil {
					m.AudioBytesTotal.WithLabelValues("in", s.cfg.Transport).Add(float64(len(ev.PCM)))
				}
			case InFrame:
				lastFrame = ev.Frame
			case InBargeIn:
				bargeIn("client")
			case InClosed:
				if ev.Err != nil && s.cfg.ResumeWindow > 0 {
					// Abnormal disconnect: park and await resume within
					// the backoff window.
					park(ev.Err)
					continue
				}
				return runErr
			}

		case d, ok := <-sttDeltas:
			if !ok {
				sttDeltas = nil
				_ = s.currentSink().SendError("stt_closed", "transcription stream ended", true)
				return runErr
			}
			text := strings.TrimSpace(d.Text)
			if text == "" {
				continue
			}
			_ = s.currentSink().SendTranscript(text, d.IsFinal)
			if speechConfirmed(text, d.IsFinal, s.cfg.ClientAEC) {
				bargeIn("speech")
			}
			if d.IsFinal {
				fragments = append(fragments, text)
				resetDebounce()
			}

		case <-debounceCh:
			debounceActive = false
			debounceCh = nil
			commitUtterance()

		case out := <-runResultCh:
			if out.turnID != activeTurnID {
				continue
			}
			if turnCancel != nil {
				turnCancel()
				turnCancel = nil
			}
			if out.err != nil {
				// A failed turn never ends the session.
				s.logger.Warn("turn failed", "turn_id", out.turnID, "error", out.err)
				if m := s.deps.Metrics; m != nil {
					m.TurnsTotal.WithLabelValues(string(s.cfg.Tier), "error").Inc()
					m.ErrorsTotal.WithLabelValues("turn").Inc()
				}
				_ = s.currentSink().SendError("turn_failed", "could not produce a response", turnRetryable(out.err))
				if s.cfg.SpokenApology {
					startSpeaking(out.turnID, apologyText)
					continue
				}
				finishTurn()
				continue
			}

			res := out.result
			if m := s.deps.Metrics; m != nil {
				m.TurnsTotal.WithLabelValues(string(res.Tier), "ok").Inc()
				m.TurnLatency.WithLabelValues(string(res.Tier)).Observe(res.Latency.Seconds())
			}
			_ = s.currentSink().SendResponse(out.turnID, res.Text, res.Tier, res.Latency)
			hist.appendExchange(out.utterance, res.Text)
			if s.deps.Memory != nil && s.cfg.UserID != "" {
				go func(user, assistant string) {
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if err := s.deps.Memory.AppendExchange(ctx, s.cfg.UserID, user, assistant); err != nil {
						s.logger.Warn("memory append failed", "error", err)
					}
				}(out.utterance, res.Text)
			}
			startSpeaking(out.turnID, res.Text)

		case res := <-speakDoneCh:
			if res.turnID != activeTurnID {
				continue
			}
			finishTurn()

		case <-parkTimerCh:
			s.logger.Info("resume window lapsed")
			return runErr

		case <-sessionTimerCh:
			s.logger.Info("session max duration reached")
			_ = s.Warn("session_expired", "maximum session duration reached")
			return runErr
		}
	}
}

// shutdown releases resources synchronously. Timers are already stopped by
// the run loop defer before this runs.
func (s *Session) shutdown(turnCancel, speakCancel context.CancelFunc, sttStream stt.Stream) {
	s.setState(StateClosing)
	if turnCancel != nil {
		turnCancel()
	}
	if speakCancel != nil {
		speakCancel()
	}
	s.cancel()
	if sttStream != nil {
		_ = sttStream.Close()
	}
	s.sinkMu.Lock()
	if s.sink != nil {
		_ = s.sink.Close()
	}
	s.sinkMu.Unlock()
	if m := s.deps.Metrics; m != nil {
		m.SessionsActive.Dec()
		m.SessionDuration.WithLabelValues(s.cfg.Transport).Observe(time.Since(s.startedAt).Seconds())
	}
	s.setState(StateClosed)
	s.logger.Info("session closed", "duration", time.Since(s.startedAt))
}

// speakTurn streams synthesis for one turn, checking the cancel flag between
// chunks. It always terminates the stream with audio_done.
func (s *Session) speakTurn(ctx context.Context, turnID, text string) (canceled bool) {
	sink := s.currentSink()

	tc, err := s.deps.TTS.NewStreamContext(ctx, tts.ContextOptions{
		Voice:      s.cfg.Voice,
		Language:   s.cfg.Language,
		SampleRate: outSampleRate,
	})
	if err != nil {
		s.logger.Warn("tts open failed", "error", err)
		_ = sink.SendError("tts_unavailable", "speech synthesis unavailable", true)
		_ = sink.SendAudioDone(turnID, false)
		return false
	}
	defer tc.Close()

	if err := tc.SendText(text, true); err != nil {
		s.logger.Warn("tts send failed", "error", err)
		_ = sink.SendAudioDone(turnID, false)
		return false
	}

	maxChunk := int(s.cfg.SpeechChunk.Seconds() * outSampleRate * 2)
	if maxChunk <= 0 {
		maxChunk = 9600
	}
	started := false

loop:
	for {
		select {
		case <-ctx.Done():
			canceled = true
			break loop
		case chunk, ok := <-tc.Audio():
			if !ok {
				break loop
			}
			for off := 0; off < len(chunk); off += maxChunk {
				if s.pendingCancel.Load() {
					canceled = true
					break loop
				}
				end := off + maxChunk
				if end > len(chunk) {
					end = len(chunk)
				}
				if !started {
					if err := sink.SendAudioStart(turnID); err != nil {
						break loop
					}
					started = true
					s.playbackStarted.Store(true)
				}
				piece := chunk[off:end]
				if err := sink.SendAudioChunk(turnID, piece); err != nil {
					s.logger.Warn("audio write failed", "error", err)
					break loop
				}
				if m := s.deps.Metrics; m != nil {
					m.AudioBytesTotal.WithLabelValues("out", s.cfg.Transport).Add(float64(len(piece)))
				}
			}
		}
	}

	if err := tc.Err(); err != nil && !canceled && ctx.Err() == nil {
		s.logger.Warn("tts stream error", "error", err)
	}
	_ = sink.SendAudioDone(turnID, canceled)
	return canceled
}

// turnRetryable reports whether repeating the utterance could plausibly
// succeed. Classified provider faults carry their own verdict; anything else
// is assumed transient.
func turnRetryable(err error) bool {
	var cerr *core.Error
	if errors.As(err, &cerr) {
		return cerr.IsRetryable()
	}
	return true
}

// speechConfirmed decides whether a transcript delta counts as the user
// talking over the assistant. Without client echo cancellation the bar is
// higher, since the microphone hears the assistant's own speech.
func speechConfirmed(text string, isFinal, clientAEC bool) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	if clientAEC {
		return len(trimmed) >= 2
	}
	if isFinal {
		return len(trimmed) >= 3
	}
	return len(trimmed) >= 12
}
