package internal

import (
	"sort"
	"sync"
	"time"
)

const defaultTypingTTL = 3 * time.Second

// typingEntry owns the expiry timer for one user's typing indicator. The
// registry guarantees at most one live timer per user: an upsert always stops
// the previous handle before arming a new one.
type typingEntry struct {
	name  string
	timer *time.Timer
}

// ChatStore holds the in-memory chat state for a single work order: the
// ordered message list, the typing registry, and the transport connection
// flag. The server remains the source of truth for persisted state; the
// store only replays what the transport and the history fetch hand it.
//
// Mutations are guarded by a mutex because typing expiry fires from timer
// goroutines, but each mutation itself is a plain synchronous transition.
type ChatStore struct {
	mu          sync.Mutex
	workOrderID int64
	messages    []ChatMessage
	typing      map[int64]*typingEntry
	connected   bool
	typingTTL   time.Duration
	closed      bool
}

// NewChatStore builds a store scoped to one work order. A non-positive
// typingTTL selects the default 3 second quiet window.
func NewChatStore(workOrderID int64, typingTTL time.Duration) *ChatStore {
	if typingTTL <= 0 {
		typingTTL = defaultTypingTTL
	}
	return &ChatStore{
		workOrderID: workOrderID,
		messages:    make([]ChatMessage, 0, 64),
		typing:      make(map[int64]*typingEntry),
		typingTTL:   typingTTL,
	}
}

// WorkOrderID returns the work order this store is scoped to.
func (s *ChatStore) WorkOrderID() int64 {
	return s.workOrderID
}

// Seed replaces the whole message list with a freshly fetched history.
// It is a full replace, not a merge: after a disconnect window the gap is
// closed by re-fetching, never by assuming the socket stream was continuous.
func (s *ChatStore) Seed(messages []ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = make([]ChatMessage, len(messages))
	copy(s.messages, messages)
}

// Messages returns a snapshot of the ordered message list.
func (s *ChatStore) Messages() []ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := make([]ChatMessage, len(s.messages))
	copy(snapshot, s.messages)
	return snapshot
}

// Len returns the number of messages currently held.
func (s *ChatStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// ApplyEvent applies one transport envelope to the message list. Events
// referencing an id the store has never seen are silent no-ops: a live event
// can legitimately race the history fetch that would have introduced the id.
func (s *ChatStore) ApplyEvent(env Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch env.Type {
	case EventNewMessage:
		if env.Message == nil {
			return
		}
		// Server emission order is the authoritative order; append only,
		// never re-sort by timestamp.
		s.messages = append(s.messages, *env.Message)
	case EventMessageUpdated:
		if env.Message == nil {
			return
		}
		if idx := s.indexOf(env.Message.ID); idx >= 0 {
			s.messages[idx] = *env.Message
		}
	case EventMessageDeleted:
		if idx := s.indexOf(env.MessageID); idx >= 0 {
			// Tombstone only. Content stays in memory; the renderer
			// suppresses it.
			s.messages[idx].Deleted = true
		}
	case EventMessageRead:
		if env.Reader == nil {
			return
		}
		if idx := s.indexOf(env.MessageID); idx >= 0 {
			msg := &s.messages[idx]
			if !msg.ReadByUser(env.Reader.ID) {
				msg.ReadBy = append(msg.ReadBy, *env.Reader)
			}
		}
	case EventReactionToggled:
		if idx := s.indexOf(env.MessageID); idx >= 0 {
			s.messages[idx].Reactions = env.Reactions
		}
	}
}

func (s *ChatStore) indexOf(id int64) int {
	for i := range s.messages {
		if s.messages[i].ID == id {
			return i
		}
	}
	return -1
}

// ApplyTyping upserts or removes a typing indicator. A typing=true signal
// (re)arms the expiry timer for that user; typing=false removes the entry
// immediately and releases its timer.
func (s *ChatStore) ApplyTyping(n TypingNotification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if existing, ok := s.typing[n.UserID]; ok {
		existing.timer.Stop()
		delete(s.typing, n.UserID)
	}
	if !n.Typing {
		return
	}
	userID := n.UserID
	entry := &typingEntry{name: n.UserName}
	entry.timer = time.AfterFunc(s.typingTTL, func() {
		s.expireTyping(userID, entry)
	})
	s.typing[userID] = entry
}

// expireTyping removes an entry when its quiet window elapses. The entry
// identity check keeps a stale timer from evicting a renewed indicator.
func (s *ChatStore) expireTyping(userID int64, entry *typingEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.typing[userID]; ok && current == entry {
		delete(s.typing, userID)
	}
}

// TypingUsers returns the display names of users currently typing, ordered
// by user id so renders are stable.
func (s *ChatStore) TypingUsers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.typing))
	for id := range s.typing {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		names = append(names, s.typing[id].name)
	}
	return names
}

// SetConnected records the transport connection state.
func (s *ChatStore) SetConnected(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = connected
}

// Connected reports the last known transport connection state.
func (s *ChatStore) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Close releases every outstanding typing timer. The store must not be used
// after Close; it is discarded with the panel that owned it.
func (s *ChatStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, entry := range s.typing {
		entry.timer.Stop()
		delete(s.typing, id)
	}
}
