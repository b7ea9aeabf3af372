// Package bridge provides the WebSocket message bridge between the sync core
// and UI clients. The UI owns the auth session, so the core requests
// credentials over the bridge instead of storing them; the core in turn
// pushes sync lifecycle notifications to every connected client.
package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pedidolist/pedidolist-core/internal/errors"
	"github.com/pedidolist/pedidolist-core/internal/logging"
	"github.com/pedidolist/pedidolist-core/internal/uuid"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The bridge listens on loopback only; any local client may connect.
		return true
	},
}

// Envelope wraps every bridge message in both directions.
type Envelope struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp int64                  `json:"timestamp"`
}

// Bridge message types. Outbound messages notify UI clients; inbound messages
// carry client replies and requests.
const (
	// Outbound
	MsgSyncStarted   = "SYNC_STARTED"
	MsgSyncCompleted = "SYNC_COMPLETED"
	MsgSyncError     = "SYNC_ERROR"
	MsgGetAuthToken  = "GET_AUTH_TOKEN"

	// Inbound
	MsgAuthToken     = "AUTH_TOKEN"
	MsgSyncRequest   = "SYNC_REQUEST"
	MsgNetworkStatus = "NETWORK_STATUS"
)

// Client represents one connected UI client.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

// Hub maintains active client connections, broadcasts notifications and
// correlates auth-token replies with their requests.
type Hub struct {
	clients    map[string]*Client
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex

	waitersMu    sync.Mutex
	tokenWaiters map[string]chan string

	onSyncRequest   func()
	onNetworkStatus func(online bool)
}

// NewHub creates a Hub and starts its connection loop.
func NewHub() *Hub {
	hub := &Hub{
		clients:      make(map[string]*Client),
		broadcast:    make(chan []byte, 256),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		tokenWaiters: make(map[string]chan string),
	}
	go hub.run()
	return hub
}

// OnSyncRequest registers the handler invoked when a client asks for an
// immediate sync pass.
func (h *Hub) OnSyncRequest(fn func()) {
	h.onSyncRequest = fn
}

// OnNetworkStatus registers the handler invoked when a client reports a
// connectivity change.
func (h *Hub) OnNetworkStatus(fn func(online bool)) {
	h.onNetworkStatus = fn
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// run manages client connections and broadcasts.
func (h *Hub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			total := len(h.clients)
			h.mu.Unlock()
			logging.Info("Bridge client connected",
				map[string]interface{}{"client_id": client.id, "total": total})

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			logging.Info("Bridge client disconnected",
				map[string]interface{}{"client_id": client.id, "total": total})

		case message := <-h.broadcast:
			h.mu.Lock()
			for _, client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Client send buffer is full, close connection
					close(client.send)
					delete(h.clients, client.id)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast sends a message to all connected clients.
func (h *Hub) Broadcast(messageType string, data map[string]interface{}) {
	envelope := Envelope{
		Type:      messageType,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		logging.Error("Failed to marshal bridge message", err, nil)
		return
	}

	h.broadcast <- bytes
}

// SyncStarted notifies clients that a sync pass has begun.
func (h *Hub) SyncStarted() {
	h.Broadcast(MsgSyncStarted, nil)
}

// SyncCompleted notifies clients that a sync pass finished, with the number
// of entities reconciled.
func (h *Hub) SyncCompleted(synced, conflicts int) {
	h.Broadcast(MsgSyncCompleted, map[string]interface{}{
		"synced":    synced,
		"conflicts": conflicts,
	})
}

// SyncFailed notifies clients that a sync pass failed.
func (h *Hub) SyncFailed(err error) {
	h.Broadcast(MsgSyncError, map[string]interface{}{
		"error": err.Error(),
		"code":  string(errors.CodeOf(err)),
	})
}

// RequestAuthToken asks the connected UI for the current session token and
// waits for the correlated reply. It fails immediately when no client is
// connected and when ctx expires before a reply arrives; the caller aborts
// the sync pass in both cases without consuming queue retries.
func (h *Hub) RequestAuthToken(ctx context.Context) (string, error) {
	if h.ClientCount() == 0 {
		return "", errors.New(errors.ErrAuthUnavailable, "no ui client connected to supply a token")
	}

	requestID := uuid.New()
	reply := make(chan string, 1)

	h.waitersMu.Lock()
	h.tokenWaiters[requestID] = reply
	h.waitersMu.Unlock()
	defer func() {
		h.waitersMu.Lock()
		delete(h.tokenWaiters, requestID)
		h.waitersMu.Unlock()
	}()

	h.Broadcast(MsgGetAuthToken, map[string]interface{}{"request_id": requestID})

	select {
	case token := <-reply:
		if token == "" {
			return "", errors.New(errors.ErrAuthUnavailable, "ui client has no active session")
		}
		return token, nil
	case <-ctx.Done():
		return "", errors.Wrap(errors.ErrAuthUnavailable, "timed out waiting for auth token", ctx.Err())
	}
}

// deliverToken routes an AUTH_TOKEN reply to its waiting request. Late or
// unknown replies are dropped.
func (h *Hub) deliverToken(requestID, token string) {
	h.waitersMu.Lock()
	reply, ok := h.tokenWaiters[requestID]
	if ok {
		delete(h.tokenWaiters, requestID)
	}
	h.waitersMu.Unlock()
	if ok {
		reply <- token
	}
}

// handleMessage dispatches one inbound client message.
func (h *Hub) handleMessage(env *Envelope) {
	switch env.Type {
	case MsgAuthToken:
		requestID, _ := env.Data["request_id"].(string)
		token, _ := env.Data["token"].(string)
		h.deliverToken(requestID, token)

	case MsgSyncRequest:
		if h.onSyncRequest != nil {
			h.onSyncRequest()
		}

	case MsgNetworkStatus:
		online, ok := env.Data["online"].(bool)
		if ok && h.onNetworkStatus != nil {
			h.onNetworkStatus(online)
		}

	default:
		logging.Debug("Ignoring unknown bridge message",
			map[string]interface{}{"type": env.Type})
	}
}

// readPump pumps messages from the WebSocket connection.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Warn("Bridge read error", map[string]interface{}{"error": err.Error()})
			}
			break
		}

		var env Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			logging.Warn("Invalid bridge message", map[string]interface{}{"error": err.Error()})
			continue
		}

		c.hub.handleMessage(&env)
	}
}

// writePump pumps messages to the WebSocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Handler returns the HTTP handler that upgrades connections into the hub.
func Handler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logging.Warn("Failed to upgrade bridge connection",
				map[string]interface{}{"error": err.Error()})
			return
		}

		client := &Client{
			id:   uuid.New(),
			conn: conn,
			send: make(chan []byte, 256),
			hub:  hub,
		}

		hub.register <- client

		go client.writePump()
		go client.readPump()
	}
}
