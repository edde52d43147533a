package internal

import (
	"fmt"
	"strings"
	"time"
)

// MessageType tags which payload variant a chat message carries.
type MessageType string

const (
	MessageTypeText     MessageType = "TEXT"
	MessageTypeVoice    MessageType = "VOICE"
	MessageTypeImage    MessageType = "IMAGE"
	MessageTypeVideo    MessageType = "VIDEO"
	MessageTypeDocument MessageType = "DOCUMENT"
	MessageTypeSystem   MessageType = "SYSTEM"
)

// RequiresFile reports whether this message type must reference an upload.
func (t MessageType) RequiresFile() bool {
	switch t {
	case MessageTypeVoice, MessageTypeImage, MessageTypeVideo, MessageTypeDocument:
		return true
	}
	return false
}

// UserSummary is the sender identity attached to messages, reactions, and
// read receipts. Authentication lives outside this module; the identity is
// consumed as an opaque object.
type UserSummary struct {
	ID        int64  `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
}

func (u UserSummary) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Email
	}
	return name
}

// FileRef points at an uploaded binary referenced by a non-text message.
type FileRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
}

// MessageReaction aggregates one reaction symbol on a message.
type MessageReaction struct {
	Reaction           string        `json:"reaction"`
	Count              int           `json:"count"`
	Users              []UserSummary `json:"users"`
	CurrentUserReacted bool          `json:"currentUserReacted"`
}

// ReactedBy reports whether the given user is in the reaction's user set.
// Broadcast payloads carry the set without a per-viewer flag, so receivers
// check membership themselves.
func (r MessageReaction) ReactedBy(userID int64) bool {
	if r.CurrentUserReacted {
		return true
	}
	for _, u := range r.Users {
		if u.ID == userID {
			return true
		}
	}
	return false
}

// ChatMessage is the json envelope exchanged with the message API and the
// websocket channel. A deleted message keeps its id and metadata; rendering
// is where the tombstone takes effect.
type ChatMessage struct {
	ID              int64             `json:"id"`
	WorkOrderID     int64             `json:"workOrderId"`
	User            *UserSummary      `json:"user,omitempty"`
	MessageType     MessageType       `json:"messageType"`
	Content         string            `json:"content,omitempty"`
	File            *FileRef          `json:"file,omitempty"`
	ParentMessageID *int64            `json:"parentMessageId,omitempty"`
	Edited          bool              `json:"edited"`
	Deleted         bool              `json:"deleted"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
	Reactions       []MessageReaction `json:"reactions,omitempty"`
	ReadBy          []UserSummary     `json:"readBy,omitempty"`
}

// ReadByUser reports whether the given user has acknowledged the message.
func (m ChatMessage) ReadByUser(userID int64) bool {
	for _, u := range m.ReadBy {
		if u.ID == userID {
			return true
		}
	}
	return false
}

// SentBy reports whether the message was authored by the given user.
// System messages have no author and match nobody.
func (m ChatMessage) SentBy(userID int64) bool {
	return m.User != nil && m.User.ID == userID
}

// Validate enforces the payload invariant: TEXT needs content, media types
// need a file reference, SYSTEM carries content and no author.
func (m ChatMessage) Validate() error {
	switch {
	case m.MessageType == MessageTypeText && strings.TrimSpace(m.Content) == "":
		return fmt.Errorf("TEXT message requires content")
	case m.MessageType.RequiresFile() && m.File == nil:
		return fmt.Errorf("%s message requires a file reference", m.MessageType)
	case m.MessageType == MessageTypeSystem && m.User != nil:
		return fmt.Errorf("SYSTEM message cannot have an author")
	}
	return nil
}

// WorkOrder carries the slice of the work order the chat panel needs: the
// completion status drives the read-only gate.
type WorkOrder struct {
	ID     int64  `json:"id"`
	Title  string `json:"title"`
	Status string `json:"status"`
}

const (
	WorkOrderStatusOpen     = "OPEN"
	WorkOrderStatusComplete = "COMPLETE"
)

// Complete reports whether the work order reached its terminal state.
// Completion is one-way from the chat's perspective.
func (w WorkOrder) Complete() bool {
	return w.Status == WorkOrderStatusComplete
}

// EventType discriminates websocket envelopes.
type EventType string

const (
	EventNewMessage      EventType = "NEW_MESSAGE"
	EventMessageUpdated  EventType = "MESSAGE_UPDATED"
	EventMessageDeleted  EventType = "MESSAGE_DELETED"
	EventMessageRead     EventType = "MESSAGE_READ"
	EventReactionToggled EventType = "REACTION_TOGGLED"
)

// Envelope is the discriminated union pushed on the messages topic. Each
// variant carries the minimal payload needed to apply that mutation:
// NEW_MESSAGE and MESSAGE_UPDATED carry the full message, MESSAGE_DELETED
// carries an id, MESSAGE_READ adds an id plus the acknowledging reader, and
// REACTION_TOGGLED carries the full updated reaction set so the client never
// needs a refetch round trip.
type Envelope struct {
	Type      EventType         `json:"type"`
	Message   *ChatMessage      `json:"message,omitempty"`
	MessageID int64             `json:"messageId,omitempty"`
	Reader    *UserSummary      `json:"reader,omitempty"`
	Reactions []MessageReaction `json:"reactions,omitempty"`
}

// TypingNotification is the transient typing signal. It is never persisted;
// receivers expire it on their own clock if no renewal arrives.
type TypingNotification struct {
	UserID   int64  `json:"userId"`
	UserName string `json:"userName"`
	Typing   bool   `json:"typing"`
}

// Frame is the wire unit on the websocket: a topic string plus exactly one
// payload. Subscriptions are expressed as topic filters on the client side.
type Frame struct {
	Topic    string              `json:"topic"`
	Envelope *Envelope           `json:"envelope,omitempty"`
	Typing   *TypingNotification `json:"typing,omitempty"`
}

// MessagesTopic is the per-work-order topic carrying message envelopes.
func MessagesTopic(workOrderID int64) string {
	return fmt.Sprintf("/topic/work-order/%d/messages", workOrderID)
}

// TypingTopic is the per-work-order topic carrying typing notifications.
func TypingTopic(workOrderID int64) string {
	return fmt.Sprintf("/topic/work-order/%d/typing", workOrderID)
}

// TypingDestination is where clients publish their own typing signals.
func TypingDestination(workOrderID int64) string {
	return fmt.Sprintf("/app/work-order/%d/typing", workOrderID)
}
