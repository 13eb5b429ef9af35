package ws_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	wsHub "github.com/bridgewatch/bridgewatch/internal/ws"
)

const testInterval = 20 * time.Millisecond

// startHub starts the hub on a test HTTP server with a counter-backed
// snapshot producer, so each dashboard frame is distinguishable.
func startHub(t *testing.T) (wsURL string, hub *wsHub.Hub, cancel func()) {
	t.Helper()

	var ticks atomic.Int64
	hub = wsHub.New(func() any {
		return map[string]any{"tick": ticks.Add(1)}
	}, testInterval)

	ctx, cancelFn := context.WithCancel(context.Background())
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	go hub.Run(ctx)

	t.Cleanup(func() {
		cancelFn()
		srv.Close()
	})

	wsURL = "ws" + strings.TrimPrefix(srv.URL, "http")
	return wsURL, hub, cancelFn
}

func dial(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(msg, &m); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	return m
}

func TestHub_Connect_ReceivesImmediateDashboard(t *testing.T) {
	wsURL, _, _ := startHub(t)

	conn := dial(t, wsURL)
	m := readFrame(t, conn)

	if m["event"] != "dashboard" {
		t.Errorf("event: got %v, want dashboard", m["event"])
	}
	if m["at"] == nil || m["at"] == "" {
		t.Error("at: missing")
	}
	data, ok := m["data"].(map[string]any)
	if !ok {
		t.Fatal("data: missing or wrong type")
	}
	if data["tick"] == nil {
		t.Error("tick: missing from snapshot data")
	}
}

func TestHub_ReceivesBroadcastOnTick(t *testing.T) {
	wsURL, _, _ := startHub(t)

	conn := dial(t, wsURL)
	first := readFrame(t, conn)  // immediate frame on connect
	second := readFrame(t, conn) // first ticker broadcast

	a := first["data"].(map[string]any)["tick"].(float64)
	b := second["data"].(map[string]any)["tick"].(float64)
	if b <= a {
		t.Errorf("ticker frame not newer: first=%v second=%v", a, b)
	}
}

func TestHub_PublishReachesAllClients(t *testing.T) {
	wsURL, hub, _ := startHub(t)

	conns := make([]*websocket.Conn, 3)
	for i := range conns {
		conns[i] = dial(t, wsURL)
		readFrame(t, conns[i]) // consume connect frame
	}
	time.Sleep(10 * time.Millisecond)

	hub.Publish("alert", map[string]any{"id": "a1", "state": "firing"})

	for i, conn := range conns {
		// Skip over dashboard ticks until the alert frame arrives.
		deadline := time.Now().Add(2 * time.Second)
		for {
			if time.Now().After(deadline) {
				t.Fatalf("client %d: no alert frame", i)
			}
			m := readFrame(t, conn)
			if m["event"] != "alert" {
				continue
			}
			data := m["data"].(map[string]any)
			if data["id"] != "a1" {
				t.Errorf("client %d: id = %v, want a1", i, data["id"])
			}
			break
		}
	}
}

func TestHub_CountTracksConnects(t *testing.T) {
	wsURL, hub, _ := startHub(t)

	conn := dial(t, wsURL)
	readFrame(t, conn)
	time.Sleep(10 * time.Millisecond)

	if n := hub.Count(); n != 1 {
		t.Errorf("Count: got %d, want 1", n)
	}

	conn.Close()
	time.Sleep(50 * time.Millisecond) // let readPump see the close

	if n := hub.Count(); n != 0 {
		t.Errorf("Count after disconnect: got %d, want 0", n)
	}
}

func TestHub_CancelContextClosesConnections(t *testing.T) {
	wsURL, hub, cancel := startHub(t)

	conn := dial(t, wsURL)
	readFrame(t, conn)
	time.Sleep(10 * time.Millisecond)

	cancel()

	time.Sleep(50 * time.Millisecond)
	if n := hub.Count(); n != 0 {
		t.Errorf("Count after cancel: got %d, want 0", n)
	}
}

func TestHub_NonWebSocketRequest_Returns400(t *testing.T) {
	hub := wsHub.New(func() any { return nil }, testInterval)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", resp.StatusCode)
	}
}
