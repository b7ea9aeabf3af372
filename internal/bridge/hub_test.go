// Package bridge provides unit tests for the WebSocket bridge.
package bridge

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pedidolist/pedidolist-core/internal/errors"
)

// dialTestClient connects a websocket client to a fresh hub and waits until
// the hub has registered it.
func dialTestClient(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(Handler(hub))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	waitFor(t, func() bool { return hub.ClientCount() == 1 })
	return conn
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("Condition not met before deadline")
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, message, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		t.Fatalf("Invalid envelope: %v", err)
	}
	return env
}

// TestRequestAuthTokenNoClients tests that a token request fails immediately
// when no UI client is connected.
func TestRequestAuthTokenNoClients(t *testing.T) {
	hub := NewHub()

	_, err := hub.RequestAuthToken(context.Background())
	if !errors.Is(err, errors.ErrAuthUnavailable) {
		t.Errorf("Expected ErrAuthUnavailable, got %v", err)
	}
}

// TestRequestAuthTokenRoundTrip tests the request/reply correlation.
func TestRequestAuthTokenRoundTrip(t *testing.T) {
	hub := NewHub()
	conn := dialTestClient(t, hub)

	// Client side: answer the token request.
	go func() {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var env Envelope
		if json.Unmarshal(message, &env) != nil || env.Type != MsgGetAuthToken {
			return
		}
		requestID, _ := env.Data["request_id"].(string)
		conn.WriteJSON(Envelope{
			Type: MsgAuthToken,
			Data: map[string]interface{}{"request_id": requestID, "token": "tok-99"},
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	token, err := hub.RequestAuthToken(ctx)
	if err != nil {
		t.Fatalf("RequestAuthToken failed: %v", err)
	}
	if token != "tok-99" {
		t.Errorf("Expected tok-99, got %q", token)
	}
}

// TestRequestAuthTokenTimeout tests that a silent client does not hang the
// sync pass.
func TestRequestAuthTokenTimeout(t *testing.T) {
	hub := NewHub()
	dialTestClient(t, hub)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := hub.RequestAuthToken(ctx)
	if !errors.Is(err, errors.ErrAuthUnavailable) {
		t.Errorf("Expected ErrAuthUnavailable on timeout, got %v", err)
	}
}

// TestSyncNotifications tests the lifecycle broadcasts.
func TestSyncNotifications(t *testing.T) {
	hub := NewHub()
	conn := dialTestClient(t, hub)

	hub.SyncCompleted(4, 1)

	env := readEnvelope(t, conn)
	if env.Type != MsgSyncCompleted {
		t.Fatalf("Expected %s, got %s", MsgSyncCompleted, env.Type)
	}
	if env.Data["synced"].(float64) != 4 || env.Data["conflicts"].(float64) != 1 {
		t.Errorf("Unexpected payload: %+v", env.Data)
	}
	if env.Timestamp == 0 {
		t.Error("Expected timestamp stamped")
	}

	hub.SyncFailed(errors.New(errors.ErrSyncFailed, "boom"))
	env = readEnvelope(t, conn)
	if env.Type != MsgSyncError {
		t.Fatalf("Expected %s, got %s", MsgSyncError, env.Type)
	}
	if env.Data["code"].(string) != string(errors.ErrSyncFailed) {
		t.Errorf("Expected error code in payload, got %+v", env.Data)
	}
}

// TestInboundSyncRequest tests that a client can trigger a sync pass.
func TestInboundSyncRequest(t *testing.T) {
	hub := NewHub()

	triggered := make(chan struct{}, 1)
	hub.OnSyncRequest(func() { triggered <- struct{}{} })

	conn := dialTestClient(t, hub)
	conn.WriteJSON(Envelope{Type: MsgSyncRequest})

	select {
	case <-triggered:
	case <-time.After(2 * time.Second):
		t.Fatal("Sync request handler never fired")
	}
}

// TestInboundNetworkStatus tests connectivity change reporting.
func TestInboundNetworkStatus(t *testing.T) {
	hub := NewHub()

	statuses := make(chan bool, 2)
	hub.OnNetworkStatus(func(online bool) { statuses <- online })

	conn := dialTestClient(t, hub)
	conn.WriteJSON(Envelope{Type: MsgNetworkStatus, Data: map[string]interface{}{"online": false}})
	conn.WriteJSON(Envelope{Type: MsgNetworkStatus, Data: map[string]interface{}{"online": true}})

	for _, want := range []bool{false, true} {
		select {
		case got := <-statuses:
			if got != want {
				t.Errorf("Expected online=%v, got %v", want, got)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Network status handler never fired")
		}
	}
}
