package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type wireEvent struct {
	Type    string          `json:"type"`
	Message string          `json:"message"`
	Input   string          `json:"input"`
	Index   int             `json:"index"`
	Raw     json.RawMessage `json:"-"`
}

func dial(t *testing.T, env *testEnv, clientID string, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws/" + clientID
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) wireEvent {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	var ev wireEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decode event %s: %v", data, err)
	}
	ev.Raw = data
	return ev
}

func TestWebSocketRelay(t *testing.T) {
	env := newTestEnv(t, prefixEngine{})
	conn := dial(t, env, "alice", nil)

	if err := conn.WriteJSON(map[string]string{"text": "Hello world"}); err != nil {
		t.Fatalf("write request: %v", err)
	}

	var types []string
	var indexes []int
	for {
		ev := readEvent(t, conn)
		types = append(types, ev.Type)
		if ev.Type == "translation" {
			indexes = append(indexes, ev.Index)
		}
		if ev.Type == "complete" {
			break
		}
	}

	want := []string{"status", "detection", "translation", "progress", "translation", "progress", "translation", "complete"}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Errorf("event types = %v, want %v", types, want)
	}
	for i, idx := range indexes {
		if idx != i {
			t.Errorf("translation indexes = %v, want 0..n", indexes)
			break
		}
	}
}

func TestWebSocketRejectsBadPayload(t *testing.T) {
	env := newTestEnv(t, prefixEngine{})
	conn := dial(t, env, "bob", nil)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	ev := readEvent(t, conn)
	if ev.Type != "error" || ev.Message != "Invalid JSON format" {
		t.Errorf("event = %s", ev.Raw)
	}

	if err := conn.WriteJSON(map[string]string{"text": "  ", "locale": "fr"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	ev = readEvent(t, conn)
	if ev.Type != "error" || ev.Message != "Le texte ne doit pas être vide" {
		t.Errorf("event = %s", ev.Raw)
	}

	// The connection stays usable after a rejected request.
	if err := conn.WriteJSON(map[string]string{"text": "Hello"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if ev := readEvent(t, conn); ev.Type != "status" || ev.Input != "Hello" {
		t.Errorf("event = %s", ev.Raw)
	}
}

func TestWebSocketDisconnectDeregisters(t *testing.T) {
	env := newTestEnv(t, prefixEngine{})
	conn := dial(t, env, "carol", nil)

	deadline := time.Now().Add(5 * time.Second)
	for env.registry.Len() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	conn.Close()
	for env.registry.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("client not removed after disconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWebSocketOriginCheck(t *testing.T) {
	env := newTestEnv(t, prefixEngine{})
	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws/dave"

	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Fatal("dial with a foreign origin succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("response = %v, want 403", resp)
	}

	dial(t, env, "dave", http.Header{"Origin": []string{"http://localhost:5173"}})
}
