package internal

import "sync"

// PresenceTracker counts active websocket connections per user within each
// work order. A user with multiple panels open on the same work order holds
// multiple connections and stays online until the last one drops.
type PresenceTracker struct {
	mu     sync.Mutex
	online map[int64]map[int64]int
}

func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{online: make(map[int64]map[int64]int)}
}

func (p *PresenceTracker) Join(workOrderID, userID int64) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	users := p.online[workOrderID]
	if users == nil {
		users = make(map[int64]int)
		p.online[workOrderID] = users
	}
	users[userID]++
	return users[userID]
}

func (p *PresenceTracker) Leave(workOrderID, userID int64) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	users := p.online[workOrderID]
	if users == nil {
		return 0
	}
	if count, ok := users[userID]; ok {
		if count <= 1 {
			delete(users, userID)
			if len(users) == 0 {
				delete(p.online, workOrderID)
			}
			return 0
		}
		users[userID] = count - 1
		return users[userID]
	}
	return 0
}

func (p *PresenceTracker) Online(workOrderID, userID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online[workOrderID][userID] > 0
}

func (p *PresenceTracker) ActiveCount(workOrderID int64) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.online[workOrderID])
}
