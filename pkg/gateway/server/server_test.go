package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lyra-ai/lyra-gateway/pkg/core/types"
	"github.com/lyra-ai/lyra-gateway/pkg/core/voice/stt"
	"github.com/lyra-ai/lyra-gateway/pkg/core/voice/tts"
	"github.com/lyra-ai/lyra-gateway/pkg/gateway/brain"
	"github.com/lyra-ai/lyra-gateway/pkg/gateway/config"
	"github.com/lyra-ai/lyra-gateway/pkg/gateway/live/session"
	"github.com/lyra-ai/lyra-gateway/pkg/gateway/memory"
	"github.com/lyra-ai/lyra-gateway/pkg/gateway/telephony"
)

type fakeSTTStream struct {
	deltas chan stt.Delta
	done   chan struct{}
}

func (s *fakeSTTStream) SendAudio([]byte) error   { return nil }
func (s *fakeSTTStream) Finalize() error          { return nil }
func (s *fakeSTTStream) Deltas() <-chan stt.Delta { return s.deltas }
func (s *fakeSTTStream) Done() <-chan struct{}    { return s.done }
func (s *fakeSTTStream) Close() error {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	return nil
}

type fakeSTT struct{}

func (fakeSTT) Name() string { return "fake-stt" }
func (fakeSTT) NewStream(context.Context, stt.StreamOptions) (stt.Stream, error) {
	return &fakeSTTStream{deltas: make(chan stt.Delta, 8), done: make(chan struct{})}, nil
}

type fakeTTSCtx struct {
	audio chan []byte
}

func (c *fakeTTSCtx) SendText(text string, final bool) error {
	if final {
		c.audio <- make([]byte, 960)
		close(c.audio)
	}
	return nil
}
func (c *fakeTTSCtx) Audio() <-chan []byte { return c.audio }
func (c *fakeTTSCtx) Err() error           { return nil }
func (c *fakeTTSCtx) Close() error         { return nil }

type fakeTTS struct{}

func (fakeTTS) Name() string { return "fake-tts" }
func (fakeTTS) NewStreamContext(context.Context, tts.ContextOptions) (tts.StreamContext, error) {
	return &fakeTTSCtx{audio: make(chan []byte, 4)}, nil
}

type fakeBrain struct{}

func (fakeBrain) Respond(_ context.Context, req brain.CompletionRequest, _ types.Tier) (brain.TurnResult, error) {
	return brain.TurnResult{Text: "hi there", Tier: types.TierFast}, nil
}

func testConfig() config.Config {
	return config.Config{
		Addr:                   ":0",
		AuthMode:               config.AuthModeRequired,
		APIKeys:                map[string]struct{}{"test-key": {}},
		LimitSessionsPerMinute: 600,
		LimitSessionBurst:      10,
		LimitMaxSessions:       16,
		LiveMaxAudioFrameBytes: 8192,
		LiveQueueSize:          64,
		LiveWSPingInterval:     20 * time.Second,
		LiveWSWriteTimeout:     5 * time.Second,
		LiveWSReadTimeout:      60 * time.Second,
		LiveHandshakeTimeout:   2 * time.Second,
		UtteranceDebounce:      800 * time.Millisecond,
		FrameFreshness:         5 * time.Second,
		SpeechChunk:            200 * time.Millisecond,
		TurnTimeout:            10 * time.Second,
		SessionMaxDuration:     time.Hour,
		HistoryExchanges:       10,
		Persona:                "test persona",
	}
}

func testServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	deps := session.Dependencies{
		STT:    fakeSTT{},
		TTS:    fakeTTS{},
		Brain:  fakeBrain{},
		Memory: memory.Disabled{},
	}
	srv := New(testConfig(), deps, false, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func TestHealthz(t *testing.T) {
	_, ts := testServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
}

func TestReadyz(t *testing.T) {
	_, ts := testServer(t)

	resp, err := http.Get(ts.URL + "/readyz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	var body struct {
		OK             bool `json:"ok"`
		ActiveSessions int  `json:"active_sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.OK || body.ActiveSessions != 0 {
		t.Fatalf("body=%+v", body)
	}
}

func TestLiveRequiresAuth(t *testing.T) {
	_, ts := testServer(t)

	resp, err := http.Get(ts.URL + "/v1/live")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status=%d", resp.StatusCode)
	}
}

func TestLiveSessionHandshake(t *testing.T) {
	srv, ts := testServer(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/live?api_key=test-key"
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	if err := client.WriteJSON(map[string]string{"type": "config", "tier": "fast"}); err != nil {
		t.Fatalf("write config: %v", err)
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ready struct {
		Type      string `json:"type"`
		SessionID string `json:"session_id"`
		Resumed   bool   `json:"resumed"`
	}
	if err := client.ReadJSON(&ready); err != nil {
		t.Fatalf("read ready: %v", err)
	}
	if ready.Type != "session_ready" || ready.SessionID == "" || ready.Resumed {
		t.Fatalf("ready=%+v", ready)
	}

	deadline := time.Now().Add(2 * time.Second)
	for srv.ActiveSessions() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("session not registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLiveRejectsNonConfigFirstMessage(t *testing.T) {
	_, ts := testServer(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/live?api_key=test-key"
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	if err := client.WriteJSON(map[string]string{"type": "barge_in"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Type string `json:"type"`
		Code string `json:"code"`
	}
	if err := client.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != "error" || msg.Code != "bad_request" {
		t.Fatalf("msg=%+v", msg)
	}
}

func TestTelephonySessionLifecycle(t *testing.T) {
	srv, ts := testServer(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/telephony?api_key=test-key"
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	if err := client.WriteJSON(telephony.Envelope{Event: "connected"}); err != nil {
		t.Fatalf("write connected: %v", err)
	}
	if err := client.WriteJSON(telephony.Envelope{
		Event: "start",
		Start: &telephony.StartEvent{StreamSid: "MZ1", CallSid: "CA1"},
	}); err != nil {
		t.Fatalf("write start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for srv.ActiveSessions() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("call session not registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := client.WriteJSON(telephony.Envelope{Event: "stop", StreamSid: "MZ1"}); err != nil {
		t.Fatalf("write stop: %v", err)
	}

	deadline = time.Now().Add(2 * time.Second)
	for srv.ActiveSessions() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("call session not released after stop")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDrainingRefusesNewSessions(t *testing.T) {
	srv, ts := testServer(t)
	srv.SetDraining()

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/v1/live", nil)
	req.Header.Set("Authorization", "Bearer test-key")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", resp.StatusCode)
	}
}
