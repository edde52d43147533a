package internal

import "sync"

// Hub tracks the live broadcast channel for each work order.
type Hub struct {
	mutex    sync.RWMutex
	channels map[int64]*Channel
}

// NewHub builds an empty hub ready to serve websocket requests.
func NewHub() *Hub {
	return &Hub{channels: make(map[int64]*Channel)}
}

// Exists reports whether a work order currently has a live channel.
func (hub *Hub) Exists(workOrderID int64) bool {
	hub.mutex.RLock()
	defer hub.mutex.RUnlock()
	_, ok := hub.channels[workOrderID]
	return ok
}

// ensures there is a live Channel for the work order
func (hub *Hub) getOrCreateChannel(workOrderID int64) *Channel {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	if channel, exists := hub.channels[workOrderID]; exists {
		return channel
	}
	channel := newChannel(workOrderID)
	hub.channels[workOrderID] = channel
	go channel.run()
	return channel
}

// getChannel retrieves a channel by work order id (may return nil)
func (hub *Hub) getChannel(workOrderID int64) *Channel {
	hub.mutex.RLock()
	defer hub.mutex.RUnlock()
	return hub.channels[workOrderID]
}

func (hub *Hub) deleteChannelIfEmpty(workOrderID int64) {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	if channel, exists := hub.channels[workOrderID]; exists {
		if channel.size() == 0 {
			delete(hub.channels, workOrderID)
		}
	}
}

// Broadcast pushes a payload to every subscriber of a work order. A work
// order with no live channel simply has nobody listening, so the payload is
// dropped rather than queued.
func (hub *Hub) Broadcast(workOrderID int64, payload []byte) {
	channel := hub.getChannel(workOrderID)
	if channel == nil {
		return
	}
	channel.broadcast <- payload
}
