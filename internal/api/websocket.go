package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/sesami-core/internal/infrastructure/logging"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

// Stream channels clients can subscribe to. Each carries the JSON body
// of the matching MQTT topic, unmodified.
const (
	ChannelDoorState  = "door.state"
	ChannelDoorSensor = "door.sensor"
	ChannelLockState  = "lock.state"
	ChannelLockEvent  = "lock.event"
	ChannelHealth     = "health"
)

// Connection pacing. Clients only send short control messages, so the
// read limit is tight. A client that misses pongs for a full minute is
// taken down by the read deadline.
const (
	wsPingInterval   = 30 * time.Second
	wsPongWait       = 60 * time.Second
	wsWriteWait      = 10 * time.Second
	wsMaxMessageSize = 1024

	// defaultSendBuffer is the per-client outbound queue length when the
	// config leaves ws_send_buffer unset.
	defaultSendBuffer = 64
)

// WSMessage is the wire frame for both directions of the stream. The
// server fills EventType and Timestamp on events; clients set ID so
// responses can be matched to the request that caused them.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload names the channels a subscribe or unsubscribe
// frame applies to.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// controlFrame is the inbound half of the protocol. Payload stays raw
// until the frame type says how to decode it.
type controlFrame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// Hub tracks connected stream clients and fans events out to them.
type Hub struct {
	sendBuffer int
	logger     *logging.Logger

	mu      sync.RWMutex
	clients map[*WSClient]struct{}
}

// WSClient is one connected stream consumer.
type WSClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu       sync.RWMutex
	channels map[string]struct{}
}

// upgrader configures the WebSocket upgrader. Origin checks are skipped:
// the listener binds localhost and access control is the bearer token.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// NewHub creates a WebSocket hub.
func NewHub(sendBuffer int, logger *logging.Logger) *Hub {
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	return &Hub{
		sendBuffer: sendBuffer,
		logger:     logger,
		clients:    make(map[*WSClient]struct{}),
	}
}

// Run blocks until the context is cancelled, then disconnects everyone.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

// Unregister drops a client. Whichever caller actually removes it from
// the map closes the send channel; a later call finds nothing to do, so
// a dying read loop and hub shutdown cannot double close.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, present := h.clients[client]
	delete(h.clients, client)
	n := len(h.clients)
	h.mu.Unlock()

	if present {
		close(client.send)
	}
	h.logger.Debug("websocket client disconnected", "clients", n)
}

// Broadcast fans one event out to every client watching the channel.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "error", err)
		return
	}

	for _, client := range h.subscribers(channel) {
		client.enqueue(data)
	}
}

// subscribers snapshots the clients watching a channel. The snapshot is
// taken under the read lock and released before any sends, so a stalled
// client cannot hold the hub against new registrations.
func (h *Hub) subscribers(channel string) []*WSClient {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []*WSClient
	for client := range h.clients {
		if client.wants(channel) {
			out = append(out, client)
		}
	}
	return out
}

// ClientCount reports how many clients are connected.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// closeAll tears down every client so the write loops exit.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
	}
}

// busChannels maps each relayed MQTT topic to the channel clients see.
func (s *Server) busChannels() map[string]string {
	return map[string]string{
		s.topics.DoorState():    ChannelDoorState,
		s.topics.DoorSensor():   ChannelDoorSensor,
		s.topics.LockState():    ChannelLockState,
		s.topics.LockEvent():    ChannelLockEvent,
		s.topics.DoorHealth():   ChannelHealth,
		s.topics.BridgeHealth(): ChannelHealth,
	}
}

// subscribeBusUpdates wires the live stream to the device's MQTT topics.
func (s *Server) subscribeBusUpdates() error {
	if s.mqtt == nil {
		s.logger.Warn("mqtt not configured, websocket stream disabled")
		return nil
	}

	for topic, channel := range s.busChannels() {
		if err := s.mqtt.Subscribe(topic, s.qos, func(_ string, payload []byte) {
			s.relayToStream(channel, payload)
		}); err != nil {
			return fmt.Errorf("subscribing to %s: %w", topic, err)
		}
	}
	return nil
}

// relayToStream parses a bus message and broadcasts it to subscribers.
func (s *Server) relayToStream(channel string, payload []byte) {
	if s.hub == nil {
		return
	}

	var msg map[string]any
	if err := json.Unmarshal(payload, &msg); err != nil {
		s.logger.Warn("dropping malformed bus message from stream",
			"channel", channel,
			"error", err,
		)
		return
	}

	s.hub.Broadcast(channel, msg)
}

// handleWebSocket upgrades the connection and starts the client loops.
// Token auth has already run in the middleware chain.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "stream not started")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:      s.hub,
		conn:     conn,
		send:     make(chan []byte, s.hub.sendBuffer),
		channels: make(map[string]struct{}),
	}
	s.hub.Register(client)

	go client.writeLoop()
	go client.readLoop()
}

// readLoop consumes the connection until it dies or goes silent past
// the pong deadline. Cleanup runs here, so a vanished client is removed
// from the hub exactly once.
func (c *WSClient) readLoop() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(wsMaxMessageSize)
	alive := func() {
		//nolint:errcheck // A dead connection fails the next read anyway
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	}
	alive()
	c.conn.SetPongHandler(func(string) error {
		alive()
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		// Any client traffic proves liveness, not just pongs.
		alive()
		c.control(data)
	}
}

// writeLoop is the only goroutine that writes to the connection, as the
// gorilla API requires. It drains the send queue and keeps protocol
// pings flowing.
func (c *WSClient) writeLoop() {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				// Hub closed the channel
				c.write(websocket.CloseMessage, nil) //nolint:errcheck // Courtesy close frame
				return
			}
			if err := c.write(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// write stamps the deadline and sends one frame.
func (c *WSClient) write(messageType int, data []byte) error {
	//nolint:errcheck // A failed deadline surfaces as a write error
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteMessage(messageType, data)
}

// control dispatches one inbound frame.
func (c *WSClient) control(data []byte) {
	var frame controlFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.replyError("", "invalid JSON message")
		return
	}

	switch frame.Type {
	case WSTypeSubscribe:
		c.setChannels(frame, true)
	case WSTypeUnsubscribe:
		c.setChannels(frame, false)
	case WSTypePing:
		c.reply(frame.ID, WSTypePong, nil)
	default:
		c.replyError(frame.ID, "unknown message type: "+frame.Type)
	}
}

// setChannels applies a subscribe or unsubscribe frame. Unknown channel
// names are accepted and simply never fire.
func (c *WSClient) setChannels(frame controlFrame, add bool) {
	var sub WSSubscribePayload
	if err := json.Unmarshal(frame.Payload, &sub); err != nil {
		c.replyError(frame.ID, "invalid "+frame.Type+" payload")
		return
	}

	c.mu.Lock()
	for _, ch := range sub.Channels {
		if add {
			c.channels[ch] = struct{}{}
		} else {
			delete(c.channels, ch)
		}
	}
	c.mu.Unlock()

	key := "unsubscribed"
	if add {
		key = "subscribed"
	}
	c.reply(frame.ID, WSTypeResponse, map[string]any{key: sub.Channels})
}

// wants checks whether the client is subscribed to a channel.
func (c *WSClient) wants(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.channels[channel]
	return ok
}

// enqueue hands data to the write loop without blocking. A full queue
// means the client is not draining; its connection is closed and the
// loops tear the client down.
func (c *WSClient) enqueue(data []byte) {
	defer func() {
		// The send can race the hub closing the channel at shutdown.
		recover() //nolint:errcheck // Absorb send on closed channel
	}()

	select {
	case c.send <- data:
	default:
		if c.conn != nil {
			c.conn.Close()
		}
	}
}

// reply queues a protocol message for the client. Replies go through
// enqueue like broadcasts, so a shutdown race cannot panic the reader.
func (c *WSClient) reply(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.enqueue(data)
}

func (c *WSClient) replyError(id, message string) {
	c.reply(id, WSTypeError, map[string]string{"message": message})
}
