package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// ─── Hub Tests ─────────────────────────────────────────────────────

func TestHubBroadcastToSubscribed(t *testing.T) {
	hub := NewHub(4, testLogger())

	client := &WSClient{
		hub:      hub,
		send:     make(chan []byte, 4),
		channels: map[string]struct{}{ChannelDoorState: {}},
	}
	hub.Register(client)

	hub.Broadcast(ChannelDoorState, map[string]any{"state": "opening"})

	select {
	case raw := <-client.send:
		var msg WSMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if msg.Type != WSTypeEvent {
			t.Errorf("type = %q, want %q", msg.Type, WSTypeEvent)
		}
		if msg.EventType != ChannelDoorState {
			t.Errorf("event_type = %q, want %q", msg.EventType, ChannelDoorState)
		}
		payload, ok := msg.Payload.(map[string]any)
		if !ok || payload["state"] != "opening" {
			t.Errorf("payload = %v, want state=opening", msg.Payload)
		}
	case <-time.After(time.Second):
		t.Error("timed out waiting for broadcast message")
	}
}

func TestHubSkipsUnsubscribed(t *testing.T) {
	hub := NewHub(4, testLogger())

	client := &WSClient{
		hub:      hub,
		send:     make(chan []byte, 4),
		channels: map[string]struct{}{ChannelHealth: {}},
	}
	hub.Register(client)

	hub.Broadcast(ChannelDoorState, map[string]any{"state": "opening"})

	select {
	case <-client.send:
		t.Error("unsubscribed client received message")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHubClientCount(t *testing.T) {
	hub := NewHub(4, testLogger())

	if hub.ClientCount() != 0 {
		t.Errorf("initial client count = %d, want 0", hub.ClientCount())
	}

	client := &WSClient{
		hub:      hub,
		send:     make(chan []byte, 4),
		channels: make(map[string]struct{}),
	}
	hub.Register(client)

	if hub.ClientCount() != 1 {
		t.Errorf("after register count = %d, want 1", hub.ClientCount())
	}

	hub.Unregister(client)

	if hub.ClientCount() != 0 {
		t.Errorf("after unregister count = %d, want 0", hub.ClientCount())
	}
}

// Unregister can race between a dying read pump and hub shutdown; the
// second call must be a no-op, not a double close.
func TestHubUnregisterTwice(t *testing.T) {
	hub := NewHub(4, testLogger())

	client := &WSClient{
		hub:      hub,
		send:     make(chan []byte, 4),
		channels: make(map[string]struct{}),
	}
	hub.Register(client)

	hub.Unregister(client)
	hub.Unregister(client)
}

// ─── Stream Relay Tests ────────────────────────────────────────────

func TestRelayToStream(t *testing.T) {
	srv, _, _ := testServer(t, nil)

	client := &WSClient{
		hub:      srv.hub,
		send:     make(chan []byte, 4),
		channels: map[string]struct{}{ChannelLockState: {}},
	}
	srv.hub.Register(client)

	srv.relayToStream(ChannelLockState, []byte(`{"device_id":"sesami-test","state":"locked"}`))

	select {
	case raw := <-client.send:
		var msg WSMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if msg.EventType != ChannelLockState {
			t.Errorf("event_type = %q, want %q", msg.EventType, ChannelLockState)
		}
		payload, ok := msg.Payload.(map[string]any)
		if !ok || payload["state"] != "locked" {
			t.Errorf("payload = %v, want state=locked", msg.Payload)
		}
	case <-time.After(time.Second):
		t.Error("timed out waiting for relayed message")
	}

	// Malformed bus traffic is dropped, not broadcast.
	srv.relayToStream(ChannelLockState, []byte("not json"))

	select {
	case raw := <-client.send:
		t.Errorf("malformed payload was broadcast: %s", raw)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestStreamBridgesBusTopics(t *testing.T) {
	srv, _, broker := testServer(t, nil)

	if err := srv.subscribeBusUpdates(); err != nil {
		t.Fatalf("subscribeBusUpdates: %v", err)
	}

	for topic := range srv.busChannels() {
		if broker.handlerFor(topic) == nil {
			t.Errorf("topic %s not subscribed", topic)
		}
	}

	client := &WSClient{
		hub:      srv.hub,
		send:     make(chan []byte, 4),
		channels: map[string]struct{}{ChannelDoorState: {}},
	}
	srv.hub.Register(client)

	topic := "sesami-test/door/state"
	handler := broker.handlerFor(topic)
	if handler == nil {
		t.Fatalf("no handler for %s", topic)
	}
	handler(topic, []byte(`{"device_id":"sesami-test","state":"opening"}`))

	select {
	case raw := <-client.send:
		var msg WSMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if msg.EventType != ChannelDoorState {
			t.Errorf("event_type = %q, want %q", msg.EventType, ChannelDoorState)
		}
	case <-time.After(time.Second):
		t.Error("timed out waiting for bridged message")
	}
}

// ─── Connection Tests ──────────────────────────────────────────────

// startStreamServer serves the router over a real listener so tests can
// dial the WebSocket endpoint.
func startStreamServer(t *testing.T, mutate func(*Deps)) (*Server, string) {
	t.Helper()

	srv, _, _ := testServer(t, mutate)
	ts := httptest.NewServer(srv.buildRouter())
	t.Cleanup(ts.Close)

	return srv, "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
}

func TestWebSocketSubscribeFlow(t *testing.T) {
	srv, wsURL := startStreamServer(t, nil)

	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: []string{ChannelDoorState}},
	}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	//nolint:errcheck // Deadline on a test connection
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp WSMessage
	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatalf("read subscribe response: %v", err)
	}
	if resp.Type != WSTypeResponse {
		t.Errorf("response type = %q, want %q", resp.Type, WSTypeResponse)
	}
	if resp.ID != "sub-1" {
		t.Errorf("response id = %q, want sub-1", resp.ID)
	}

	// The subscription is live once the response has been read, so a
	// broadcast now must reach the socket.
	srv.hub.Broadcast(ChannelDoorState, map[string]any{"state": "opening"})

	var event WSMessage
	if err := ws.ReadJSON(&event); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if event.Type != WSTypeEvent {
		t.Errorf("event type = %q, want %q", event.Type, WSTypeEvent)
	}
	if event.EventType != ChannelDoorState {
		t.Errorf("event_type = %q, want %q", event.EventType, ChannelDoorState)
	}
}

func TestWebSocketPing(t *testing.T) {
	_, wsURL := startStreamServer(t, nil)

	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	if err := ws.WriteJSON(WSMessage{Type: WSTypePing, ID: "ping-1"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}

	//nolint:errcheck // Deadline on a test connection
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp WSMessage
	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if resp.Type != WSTypePong {
		t.Errorf("response type = %q, want %q", resp.Type, WSTypePong)
	}
	if resp.ID != "ping-1" {
		t.Errorf("response id = %q, want ping-1", resp.ID)
	}
}

func TestWebSocketUnknownType(t *testing.T) {
	_, wsURL := startStreamServer(t, nil)

	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	if err := ws.WriteJSON(WSMessage{Type: "teleport", ID: "x"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	//nolint:errcheck // Deadline on a test connection
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp WSMessage
	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatalf("read error response: %v", err)
	}
	if resp.Type != WSTypeError {
		t.Errorf("response type = %q, want %q", resp.Type, WSTypeError)
	}
}

func TestWebSocketRequiresToken(t *testing.T) {
	_, wsURL := startStreamServer(t, func(d *Deps) { d.Config.AuthToken = "hunter2" })

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("dial succeeded without token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("handshake response = %v, want 401", resp)
	}
	resp.Body.Close()

	ws, _, err := websocket.DefaultDialer.Dial(wsURL+"?token=hunter2", nil)
	if err != nil {
		t.Fatalf("dial with token: %v", err)
	}
	ws.Close()
}
