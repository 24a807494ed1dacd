package native

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lyra-ai/lyra-gateway/pkg/gateway/live/session"
)

func dialTestConn(t *testing.T, cfg Config) (*Conn, *websocket.Conn, func()) {
	t.Helper()

	connCh := make(chan *Conn, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		connCh <- NewConn(ws, cfg, nil)
	}))

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("dial: %v", err)
	}

	var conn *Conn
	select {
	case conn = <-connCh:
	case <-time.After(time.Second):
		t.Fatalf("server conn not created")
	}

	cleanup := func() {
		conn.Close()
		client.Close()
		srv.Close()
	}
	return conn, client, cleanup
}

func readJSON(t *testing.T, client *websocket.Conn) map[string]any {
	t.Helper()
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	mt, data, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if mt != websocket.TextMessage {
		t.Fatalf("message type=%d, want text", mt)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return m
}

func TestConnNormalizesInboundEvents(t *testing.T) {
	conn, client, cleanup := dialTestConn(t, Config{})
	defer cleanup()

	if err := client.WriteMessage(websocket.BinaryMessage, make([]byte, 640)); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	if err := client.WriteMessage(websocket.TextMessage, []byte(`{"type":"barge_in"}`)); err != nil {
		t.Fatalf("write barge_in: %v", err)
	}

	var kinds []session.InboundKind
	timeout := time.After(2 * time.Second)
	for len(kinds) < 2 {
		select {
		case ev := <-conn.Events():
			kinds = append(kinds, ev.Kind)
		case <-timeout:
			t.Fatalf("events not delivered, got %v", kinds)
		}
	}
	if kinds[0] != session.InAudio || kinds[1] != session.InBargeIn {
		t.Fatalf("kinds=%v", kinds)
	}
}

func TestConnRejectsOversizedAudio(t *testing.T) {
	_, client, cleanup := dialTestConn(t, Config{MaxAudioFrameBytes: 100})
	defer cleanup()

	if err := client.WriteMessage(websocket.BinaryMessage, make([]byte, 200)); err != nil {
		t.Fatalf("write: %v", err)
	}
	msg := readJSON(t, client)
	if msg["type"] != "error" || msg["code"] != "frame_too_large" {
		t.Fatalf("msg=%v", msg)
	}
}

func TestConnRejectsMalformedJSON(t *testing.T) {
	_, client, cleanup := dialTestConn(t, Config{})
	defer cleanup()

	if err := client.WriteMessage(websocket.TextMessage, []byte("{")); err != nil {
		t.Fatalf("write: %v", err)
	}
	msg := readJSON(t, client)
	if msg["type"] != "error" || msg["code"] != "bad_request" {
		t.Fatalf("msg=%v", msg)
	}
}

func TestConnTranscriptCarriesUserRole(t *testing.T) {
	conn, client, cleanup := dialTestConn(t, Config{})
	defer cleanup()

	if err := conn.SendTranscript("hello", true); err != nil {
		t.Fatalf("SendTranscript: %v", err)
	}
	msg := readJSON(t, client)
	if msg["type"] != "transcript" || msg["role"] != "user" {
		t.Fatalf("msg=%v", msg)
	}
	if msg["text"] != "hello" || msg["is_final"] != true {
		t.Fatalf("msg=%v", msg)
	}
}

func TestConnSinkOrderingAndCancelDrop(t *testing.T) {
	conn, client, cleanup := dialTestConn(t, Config{})
	defer cleanup()

	if err := conn.SendAudioStart("t_1"); err != nil {
		t.Fatalf("SendAudioStart: %v", err)
	}
	if err := conn.SendAudioChunk("t_1", make([]byte, 320)); err != nil {
		t.Fatalf("SendAudioChunk: %v", err)
	}
	if err := conn.SendAudioDone("t_1", false); err != nil {
		t.Fatalf("SendAudioDone: %v", err)
	}

	msg := readJSON(t, client)
	if msg["type"] != "audio" || msg["turn_id"] != "t_1" {
		t.Fatalf("first msg=%v", msg)
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	mt, data, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("read chunk: %v", err)
	}
	if mt != websocket.BinaryMessage || len(data) != 320 {
		t.Fatalf("chunk mt=%d len=%d", mt, len(data))
	}

	msg = readJSON(t, client)
	if msg["type"] != "audio_done" {
		t.Fatalf("terminal msg=%v", msg)
	}
	if _, ok := msg["canceled"]; ok {
		t.Fatalf("normal completion should omit canceled")
	}
}

func TestConnDropsAudioOfCanceledTurn(t *testing.T) {
	conn, client, cleanup := dialTestConn(t, Config{})
	defer cleanup()

	conn.canceledTurn.Store("t_2")

	// The writer must skip audio frames of the canceled turn but still
	// deliver other turns' audio.
	if err := conn.writeFrame(outFrame{binary: make([]byte, 320), turnID: "t_2", isAudio: true}); err != nil {
		t.Fatalf("writeFrame canceled: %v", err)
	}
	if err := conn.writeFrame(outFrame{binary: make([]byte, 160), turnID: "t_3", isAudio: true}); err != nil {
		t.Fatalf("writeFrame live: %v", err)
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	mt, data, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if mt != websocket.BinaryMessage || len(data) != 160 {
		t.Fatalf("got mt=%d len=%d, want the live turn's 160-byte frame", mt, len(data))
	}
}

func TestConnCloseWaitsForWriterShutdown(t *testing.T) {
	conn, client, cleanup := dialTestConn(t, Config{})
	defer cleanup()

	if err := conn.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Close returns only after the writer has flushed and released the
	// socket, so the peer observes the shutdown promptly.
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, _, err := client.ReadMessage()
		if err == nil {
			continue
		}
		if e, ok := err.(net.Error); ok && e.Timeout() {
			t.Fatalf("peer saw no shutdown after Close returned")
		}
		return
	}
}

func TestConnCloseDeliversClosedEvent(t *testing.T) {
	conn, client, cleanup := dialTestConn(t, Config{})
	defer cleanup()

	client.Close()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-conn.Events():
			if !ok {
				return
			}
			if ev.Kind == session.InClosed {
				return
			}
		case <-timeout:
			t.Fatalf("closed event not delivered")
		}
	}
}
