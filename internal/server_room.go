package internal

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Channel fans out frames to every subscriber of one work order and handles
// membership changes.
type Channel struct {
	workOrderID int64
	clients     map[*Client]bool
	register    chan *Client
	unregister  chan *Client
	broadcast   chan []byte
	mutex       sync.RWMutex
}

func newChannel(workOrderID int64) *Channel {
	return &Channel{
		workOrderID: workOrderID,
		clients:     make(map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan []byte, 256),
	}
}

func (channel *Channel) size() int {
	channel.mutex.RLock()
	defer channel.mutex.RUnlock()
	return len(channel.clients)
}

func (channel *Channel) run() {
	for {
		select {
		case client := <-channel.register:
			channel.mutex.Lock()
			channel.clients[client] = true
			channel.mutex.Unlock()
		case client := <-channel.unregister:
			channel.mutex.Lock()
			if _, exists := channel.clients[client]; exists {
				delete(channel.clients, client)
				close(client.send)
			}
			channel.mutex.Unlock()
		case payload := <-channel.broadcast:
			// Fan out to every connected client. If a client can't keep up we
			// close its send channel, which triggers cleanup in writePump.
			channel.mutex.Lock()
			for client := range channel.clients {
				select {
				case client.send <- payload:
				default:
					close(client.send)
					delete(channel.clients, client)
				}
			}
			channel.mutex.Unlock()
		}
	}
}

// Client wraps a single websocket connection and a buffered send queue.
type Client struct {
	channel      *Channel
	conn         *websocket.Conn
	send         chan []byte
	frameTimes   []time.Time
	identity     Identity
	onDisconnect func()
}

const (
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
	maxFrameSize    = 8192
	frameRateWindow = 3 * time.Second
	frameRateBurst  = 10
)

func newClient(channel *Channel, conn *websocket.Conn, identity Identity, onDisconnect func()) *Client {
	return &Client{
		channel:      channel,
		conn:         conn,
		send:         make(chan []byte, 256),
		frameTimes:   make([]time.Time, 0, frameRateBurst),
		identity:     identity,
		onDisconnect: onDisconnect,
	}
}

// readPump consumes inbound frames. The only frame clients publish over the
// socket is the typing signal; message mutations travel over the REST API
// and reach the channel as server-side broadcasts. Anything else inbound is
// dropped.
func (client *Client) readPump(hub *Hub) {
	workOrderID := client.channel.workOrderID
	defer func() {
		client.channel.unregister <- client
		client.conn.Close()
		hub.deleteChannelIfEmpty(workOrderID)
		if client.onDisconnect != nil {
			client.onDisconnect()
		}
	}()
	client.conn.SetReadLimit(maxFrameSize)
	_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, payload, err := client.conn.ReadMessage()
		if err != nil {
			// read error ends the loop so the deferred cleanup can fire
			break
		}
		var frame Frame
		if err := json.Unmarshal(payload, &frame); err != nil {
			continue
		}
		if frame.Typing == nil {
			continue
		}
		if !client.allowFrame(time.Now()) {
			continue
		}
		// stamp the sender identity so a client cannot impersonate another
		// user, then rebroadcast on the typing topic
		frame.Topic = TypingTopic(workOrderID)
		frame.Typing.UserID = client.identity.UserID
		if frame.Typing.UserName == "" {
			frame.Typing.UserName = client.identity.DisplayName()
		}
		encoded, err := json.Marshal(frame)
		if err != nil {
			continue
		}
		client.channel.broadcast <- encoded
	}
}

func (client *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// allowFrame applies a sliding window limit to inbound frames. Typing
// signals are debounced client-side, so a well-behaved client never hits it.
func (client *Client) allowFrame(now time.Time) bool {
	cutoff := now.Add(-frameRateWindow)
	idx := 0
	for _, ts := range client.frameTimes {
		if ts.After(cutoff) {
			client.frameTimes[idx] = ts
			idx++
		}
	}
	client.frameTimes = client.frameTimes[:idx]
	if len(client.frameTimes) >= frameRateBurst {
		return false
	}
	client.frameTimes = append(client.frameTimes, now)
	return true
}
