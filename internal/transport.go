package internal

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const defaultReconnectDelay = 2 * time.Second

// Transport wraps one websocket connection scoped to a single work order.
// It carries the two logical subscriptions (messages and typing) as
// topic-tagged frames on the one socket. Reconnection uses a fixed delay;
// the panel schedules the retry so it stays inside the UI event loop.
type Transport struct {
	serverURL      string
	workOrderID    int64
	identity       Identity
	reconnectDelay time.Duration

	mu        sync.Mutex
	writeMu   sync.Mutex
	conn      *websocket.Conn
	connected bool
}

// NewTransport builds a transport for the given work order. serverURL is the
// websocket endpoint base, e.g. ws://host:port/ws. The identity travels as
// headers on the upgrade request, matching the REST surface. A non-positive
// delay selects the default 2 seconds.
func NewTransport(serverURL string, workOrderID int64, identity Identity, reconnectDelay time.Duration) *Transport {
	if reconnectDelay <= 0 {
		reconnectDelay = defaultReconnectDelay
	}
	return &Transport{
		serverURL:      serverURL,
		workOrderID:    workOrderID,
		identity:       identity,
		reconnectDelay: reconnectDelay,
	}
}

// WorkOrderID returns the work order this transport is scoped to.
func (t *Transport) WorkOrderID() int64 {
	return t.workOrderID
}

// ReconnectDelay is the fixed backoff between dial attempts.
func (t *Transport) ReconnectDelay() time.Duration {
	return t.reconnectDelay
}

// Dial connects the websocket. Calling Dial on a live transport tears down
// the previous connection first, so a work-order switch never leaks a
// subscription.
func (t *Transport) Dial() error {
	connectURL, err := buildSubscribeURL(t.serverURL, t.workOrderID)
	if err != nil {
		return err
	}
	t.mu.Lock()
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
		t.connected = false
	}
	t.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.Dial(connectURL, t.identity.headers())
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.conn = conn
	t.connected = true
	t.mu.Unlock()
	return nil
}

// Connected reports whether the socket is currently believed live.
func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// ReadFrame blocks for the next frame. A read error marks the transport
// disconnected; the caller re-dials after the reconnect delay. Missed events
// during a disconnect window are not replayed; history is re-fetched.
func (t *Transport) ReadFrame() (Frame, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return Frame{}, fmt.Errorf("transport not connected")
	}
	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			t.markDisconnected(conn)
			return Frame{}, err
		}
		if messageType != websocket.TextMessage {
			continue
		}
		var frame Frame
		if err := json.Unmarshal(payload, &frame); err != nil {
			// A malformed frame is dropped rather than killing the loop.
			continue
		}
		return frame, nil
	}
}

// PublishTyping sends a typing signal to the work order's typing destination.
// Typing indicators are best effort: while disconnected the publish is a
// silent no-op, never queued or retried.
func (t *Transport) PublishTyping(n TypingNotification) error {
	t.mu.Lock()
	conn := t.conn
	connected := t.connected
	t.mu.Unlock()
	if !connected || conn == nil {
		return nil
	}
	frame := Frame{Topic: TypingDestination(t.workOrderID), Typing: &n}
	encoded, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, encoded)
	t.writeMu.Unlock()
	if err != nil {
		t.markDisconnected(conn)
	}
	return err
}

// Close shuts the socket down with a normal-closure frame.
func (t *Transport) Close() {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.connected = false
	t.mu.Unlock()
	if conn != nil {
		t.writeMu.Lock()
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		t.writeMu.Unlock()
		_ = conn.Close()
	}
}

func (t *Transport) markDisconnected(conn *websocket.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == conn {
		t.connected = false
	}
}

// buildSubscribeURL sets the workOrder query parameter on the websocket
// endpoint so the server knows which channel to join.
func buildSubscribeURL(base string, workOrderID int64) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return "", fmt.Errorf("invalid scheme for websocket: %s", parsed.Scheme)
	}
	query := parsed.Query()
	query.Set("workOrder", fmt.Sprintf("%d", workOrderID))
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
