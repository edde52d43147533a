package internal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textMessage(id int64, userID int64, content string) ChatMessage {
	return ChatMessage{
		ID:          id,
		WorkOrderID: 7,
		User:        &UserSummary{ID: userID, FirstName: "User", LastName: "T"},
		MessageType: MessageTypeText,
		Content:     content,
		CreatedAt:   time.Now(),
	}
}

func TestChatStoreSeedReplaces(t *testing.T) {
	store := NewChatStore(7, 0)
	defer store.Close()

	store.ApplyEvent(Envelope{Type: EventNewMessage, Message: ptrMsg(textMessage(99, 1, "stale"))})
	store.Seed([]ChatMessage{textMessage(1, 1, "a"), textMessage(2, 2, "b")})

	messages := store.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, int64(1), messages[0].ID)
	assert.Equal(t, int64(2), messages[1].ID)
}

func TestChatStoreAppendsInArrivalOrder(t *testing.T) {
	store := NewChatStore(7, 0)
	defer store.Close()

	// arrival order wins even when timestamps disagree
	early := textMessage(2, 1, "second")
	early.CreatedAt = time.Now().Add(-time.Hour)
	store.ApplyEvent(Envelope{Type: EventNewMessage, Message: ptrMsg(textMessage(1, 1, "first"))})
	store.ApplyEvent(Envelope{Type: EventNewMessage, Message: &early})

	messages := store.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, int64(1), messages[0].ID)
	assert.Equal(t, int64(2), messages[1].ID)
}

func TestChatStoreUpdateTargetsExisting(t *testing.T) {
	store := NewChatStore(7, 0)
	defer store.Close()
	store.Seed([]ChatMessage{textMessage(1, 1, "a"), textMessage(2, 1, "b")})

	edited := textMessage(2, 1, "b, but better")
	edited.Edited = true
	store.ApplyEvent(Envelope{Type: EventMessageUpdated, Message: &edited})

	messages := store.Messages()
	assert.Equal(t, "a", messages[0].Content)
	assert.Equal(t, "b, but better", messages[1].Content)
	assert.True(t, messages[1].Edited)

	// unknown id is a silent no-op
	ghost := textMessage(42, 1, "ghost")
	store.ApplyEvent(Envelope{Type: EventMessageUpdated, Message: &ghost})
	assert.Equal(t, 2, store.Len())
}

func TestChatStoreDeleteTombstones(t *testing.T) {
	store := NewChatStore(7, 0)
	defer store.Close()
	store.Seed([]ChatMessage{textMessage(1, 1, "a")})

	store.ApplyEvent(Envelope{Type: EventMessageDeleted, MessageID: 5})
	assert.Equal(t, 1, store.Len())

	store.ApplyEvent(Envelope{Type: EventMessageDeleted, MessageID: 1})
	messages := store.Messages()
	require.Len(t, messages, 1)
	assert.True(t, messages[0].Deleted)
	assert.Equal(t, "a", messages[0].Content)
}

func TestChatStoreReadReceiptDedup(t *testing.T) {
	store := NewChatStore(7, 0)
	defer store.Close()
	store.Seed([]ChatMessage{textMessage(1, 1, "a")})

	reader := UserSummary{ID: 2, FirstName: "Bob"}
	store.ApplyEvent(Envelope{Type: EventMessageRead, MessageID: 1, Reader: &reader})
	store.ApplyEvent(Envelope{Type: EventMessageRead, MessageID: 1, Reader: &reader})

	messages := store.Messages()
	require.Len(t, messages[0].ReadBy, 1)
	assert.Equal(t, int64(2), messages[0].ReadBy[0].ID)
}

func TestChatStoreReactionSetReplaced(t *testing.T) {
	store := NewChatStore(7, 0)
	defer store.Close()
	seeded := textMessage(1, 1, "a")
	seeded.Reactions = []MessageReaction{{Reaction: "👍", Count: 1}}
	store.Seed([]ChatMessage{seeded})

	store.ApplyEvent(Envelope{
		Type:      EventReactionToggled,
		MessageID: 1,
		Reactions: []MessageReaction{{Reaction: "🔥", Count: 2}},
	})

	messages := store.Messages()
	require.Len(t, messages[0].Reactions, 1)
	assert.Equal(t, "🔥", messages[0].Reactions[0].Reaction)

	// toggled down to an empty set clears the list
	store.ApplyEvent(Envelope{Type: EventReactionToggled, MessageID: 1})
	assert.Empty(t, store.Messages()[0].Reactions)
}

func TestTypingExpiresAfterQuietWindow(t *testing.T) {
	store := NewChatStore(7, 30*time.Millisecond)
	defer store.Close()

	store.ApplyTyping(TypingNotification{UserID: 2, UserName: "Bob", Typing: true})
	assert.Equal(t, []string{"Bob"}, store.TypingUsers())

	assert.Eventually(t, func() bool {
		return len(store.TypingUsers()) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestTypingRenewalRestartsWindow(t *testing.T) {
	store := NewChatStore(7, 60*time.Millisecond)
	defer store.Close()

	store.ApplyTyping(TypingNotification{UserID: 2, UserName: "Bob", Typing: true})
	time.Sleep(40 * time.Millisecond)
	store.ApplyTyping(TypingNotification{UserID: 2, UserName: "Bob", Typing: true})
	time.Sleep(40 * time.Millisecond)

	// the renewal reset the clock, so the indicator is still live
	assert.Equal(t, []string{"Bob"}, store.TypingUsers())

	assert.Eventually(t, func() bool {
		return len(store.TypingUsers()) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestTypingStopRemovesImmediately(t *testing.T) {
	store := NewChatStore(7, time.Minute)
	defer store.Close()

	store.ApplyTyping(TypingNotification{UserID: 2, UserName: "Bob", Typing: true})
	store.ApplyTyping(TypingNotification{UserID: 3, UserName: "Cara", Typing: true})
	assert.Equal(t, []string{"Bob", "Cara"}, store.TypingUsers())

	store.ApplyTyping(TypingNotification{UserID: 2, Typing: false})
	assert.Equal(t, []string{"Cara"}, store.TypingUsers())
}

func TestChatStoreCloseReleasesTimers(t *testing.T) {
	store := NewChatStore(7, time.Minute)
	store.ApplyTyping(TypingNotification{UserID: 2, UserName: "Bob", Typing: true})
	store.Close()
	assert.Empty(t, store.TypingUsers())

	// signals after close are ignored
	store.ApplyTyping(TypingNotification{UserID: 3, UserName: "Cara", Typing: true})
	assert.Empty(t, store.TypingUsers())
}

func TestChatStoreConnectedFlag(t *testing.T) {
	store := NewChatStore(7, 0)
	defer store.Close()

	assert.False(t, store.Connected())
	store.SetConnected(true)
	assert.True(t, store.Connected())
	store.SetConnected(false)
	assert.False(t, store.Connected())
}

func ptrMsg(m ChatMessage) *ChatMessage {
	return &m
}
