package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"wochat/internal/storage"
)

const (
	sendRateLimit  = 10
	sendRateWindow = 3 * time.Second
)

var errWorkOrderClosed = errors.New("work order is completed; chat is read-only")

// Server holds the REST and websocket surface over one store and hub.
type Server struct {
	hub      *Hub
	store    *storage.Store
	uploads  *FileUploadHandler
	limiter  *RateLimiter
	presence *PresenceTracker
	metrics  *Metrics
}

// NewServer wires the message API, upload handler, and websocket hub around
// a store.
func NewServer(store *storage.Store, uploadDir string, maxFileSize int64) *Server {
	hub := NewHub()
	metrics := NewMetrics()
	s := &Server{
		hub:      hub,
		store:    store,
		limiter:  NewRateLimiter(sendRateLimit, sendRateWindow),
		presence: NewPresenceTracker(),
		metrics:  metrics,
	}
	s.uploads = NewFileUploadHandler(store, metrics, uploadDir, maxFileSize)
	return s
}

// HandleFileUpload serves POST /api/upload.
func (s *Server) HandleFileUpload(w http.ResponseWriter, r *http.Request) {
	s.uploads.HandleUpload(w, r)
}

// HandleFileDownload serves GET /api/files/{id}.
func (s *Server) HandleFileDownload(w http.ResponseWriter, r *http.Request) {
	s.uploads.HandleDownload(w, r)
}

// MetricsHandler exposes the counters as JSON.
func (s *Server) MetricsHandler() http.Handler {
	return s.metrics
}

// HandleHealthz is a liveness probe.
func (s *Server) HandleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": Version})
}

// HandleSendMessage serves POST /work-order-messages.
func (s *Server) HandleSendMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	identity, err := identityFromRequest(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	if !s.limiter.Allow(identity.UserID) {
		http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		return
	}
	var req SendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.WorkOrderID <= 0 {
		writeError(w, http.StatusBadRequest, errors.New("workOrderId is required"))
		return
	}
	if err := s.requireOpenWorkOrder(r.Context(), req.WorkOrderID); err != nil {
		writeWorkOrderError(w, err)
		return
	}

	stored := storage.Message{
		WorkOrderID:     req.WorkOrderID,
		Sender:          actorFromIdentity(identity),
		MessageType:     string(req.MessageType),
		Content:         strings.TrimSpace(req.Content),
		ParentMessageID: req.ParentMessageID,
	}
	switch {
	case req.MessageType == MessageTypeText:
		if stored.Content == "" {
			writeError(w, http.StatusBadRequest, errors.New("content is required for TEXT messages"))
			return
		}
	case req.MessageType.RequiresFile():
		if req.FileID <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("fileId is required for %s messages", req.MessageType))
			return
		}
		if _, err := s.store.GetFile(r.Context(), req.FileID); err != nil {
			writeError(w, http.StatusBadRequest, errors.New("unknown fileId"))
			return
		}
		fileID := req.FileID
		stored.FileID = &fileID
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("unsupported message type %q", req.MessageType))
		return
	}

	msg, err := s.store.InsertMessage(r.Context(), stored)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	chat, err := s.chatMessage(r.Context(), msg, identity.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.metrics.IncMessage()
	s.broadcastEnvelope(msg.WorkOrderID, Envelope{Type: EventNewMessage, Message: chat})
	writeJSON(w, http.StatusCreated, chat)
}

// HandleMessage dispatches /work-order-messages/{id}[/read|/reaction].
func (s *Server) HandleMessage(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/work-order-messages/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}
	messageID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}
	switch {
	case len(parts) == 1:
		s.handleUpdateMessage(w, r, messageID)
	case len(parts) == 2 && parts[1] == "read":
		s.handleMarkRead(w, r, messageID)
	case len(parts) == 2 && parts[1] == "reaction":
		s.handleToggleReaction(w, r, messageID)
	default:
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	}
}

func (s *Server) handleUpdateMessage(w http.ResponseWriter, r *http.Request, messageID int64) {
	if r.Method != http.MethodPatch {
		methodNotAllowed(w, http.MethodPatch)
		return
	}
	identity, err := identityFromRequest(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	var req struct {
		Content *string `json:"content,omitempty"`
		Deleted *bool   `json:"deleted,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Content == nil && req.Deleted == nil {
		writeError(w, http.StatusBadRequest, errors.New("nothing to update"))
		return
	}
	if req.Content != nil && strings.TrimSpace(*req.Content) == "" {
		writeError(w, http.StatusBadRequest, errors.New("content cannot be empty"))
		return
	}

	existing, err := s.store.GetMessage(r.Context(), messageID)
	if err != nil {
		writeMessageError(w, err)
		return
	}
	if existing.Sender == nil || existing.Sender.ID != identity.UserID {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}
	if err := s.requireOpenWorkOrder(r.Context(), existing.WorkOrderID); err != nil {
		writeWorkOrderError(w, err)
		return
	}

	msg, err := s.store.UpdateMessage(r.Context(), messageID, req.Content, req.Deleted)
	if err != nil {
		writeMessageError(w, err)
		return
	}
	chat, err := s.chatMessage(r.Context(), msg, identity.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if req.Deleted != nil && *req.Deleted {
		s.broadcastEnvelope(msg.WorkOrderID, Envelope{Type: EventMessageDeleted, MessageID: msg.ID})
	} else {
		s.broadcastEnvelope(msg.WorkOrderID, Envelope{Type: EventMessageUpdated, Message: chat})
	}
	writeJSON(w, http.StatusOK, chat)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request, messageID int64) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	identity, err := identityFromRequest(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	msg, err := s.store.GetMessage(r.Context(), messageID)
	if err != nil {
		writeMessageError(w, err)
		return
	}
	if err := s.store.MarkRead(r.Context(), messageID, *actorFromIdentity(identity)); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	reader := identity.Summary()
	s.broadcastEnvelope(msg.WorkOrderID, Envelope{Type: EventMessageRead, MessageID: messageID, Reader: &reader})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleToggleReaction(w http.ResponseWriter, r *http.Request, messageID int64) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	identity, err := identityFromRequest(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	symbol := r.URL.Query().Get("reaction")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, errors.New("reaction query param required"))
		return
	}
	msg, err := s.store.GetMessage(r.Context(), messageID)
	if err != nil {
		writeMessageError(w, err)
		return
	}
	if err := s.requireOpenWorkOrder(r.Context(), msg.WorkOrderID); err != nil {
		writeWorkOrderError(w, err)
		return
	}
	if _, err := s.store.ToggleReaction(r.Context(), messageID, *actorFromIdentity(identity), symbol); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	msg, err = s.store.GetMessage(r.Context(), messageID)
	if err != nil {
		writeMessageError(w, err)
		return
	}
	// the broadcast carries the full updated reaction set so receivers apply
	// it without a refetch round trip
	reactions := aggregateReactions(msg.Reactions, 0)
	s.broadcastEnvelope(msg.WorkOrderID, Envelope{Type: EventReactionToggled, MessageID: messageID, Reactions: reactions})
	writeJSON(w, http.StatusOK, map[string]any{"reactions": aggregateReactions(msg.Reactions, identity.UserID)})
}

// HandleWorkOrderMessages dispatches /work-order-messages/work-order/{id}[...].
func (s *Server) HandleWorkOrderMessages(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/work-order-messages/work-order/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}
	workOrderID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}
	switch {
	case len(parts) == 1:
		s.handleListMessages(w, r, workOrderID)
	case len(parts) == 2 && parts[1] == "read-all":
		s.handleMarkAllRead(w, r, workOrderID)
	case len(parts) == 2 && parts[1] == "unread-count":
		s.handleUnreadCount(w, r, workOrderID)
	case len(parts) == 2 && parts[1] == "participants":
		s.handleParticipants(w, r, workOrderID)
	default:
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	}
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request, workOrderID int64) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	identity, err := identityFromRequest(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	if _, err := s.store.GetWorkOrder(r.Context(), workOrderID); err != nil {
		writeWorkOrderError(w, err)
		return
	}
	messages, err := s.store.ListMessages(r.Context(), workOrderID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]ChatMessage, 0, len(messages))
	for i := range messages {
		chat, err := s.chatMessage(r.Context(), &messages[i], identity.UserID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		out = append(out, *chat)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleMarkAllRead(w http.ResponseWriter, r *http.Request, workOrderID int64) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	identity, err := identityFromRequest(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	ids, err := s.store.MarkAllRead(r.Context(), workOrderID, *actorFromIdentity(identity))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	reader := identity.Summary()
	for _, id := range ids {
		s.broadcastEnvelope(workOrderID, Envelope{Type: EventMessageRead, MessageID: id, Reader: &reader})
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnreadCount(w http.ResponseWriter, r *http.Request, workOrderID int64) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	identity, err := identityFromRequest(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	count, err := s.store.UnreadCount(r.Context(), workOrderID, identity.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": count})
}

func (s *Server) handleParticipants(w http.ResponseWriter, r *http.Request, workOrderID int64) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	actors, err := s.store.Participants(r.Context(), workOrderID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	type participantDTO struct {
		User   UserSummary `json:"user"`
		Online bool        `json:"online"`
	}
	out := make([]participantDTO, 0, len(actors))
	for _, actor := range actors {
		out = append(out, participantDTO{
			User:   summaryFromActor(actor),
			Online: s.presence.Online(workOrderID, actor.ID),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleWorkOrder dispatches /work-orders/{id}[/complete].
func (s *Server) HandleWorkOrder(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/work-orders/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}
	workOrderID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}
	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		s.handleGetWorkOrder(w, r, workOrderID)
	case len(parts) == 2 && parts[1] == "complete" && r.Method == http.MethodPost:
		s.handleCompleteWorkOrder(w, r, workOrderID)
	default:
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	}
}

func (s *Server) handleGetWorkOrder(w http.ResponseWriter, r *http.Request, workOrderID int64) {
	wo, err := s.store.GetWorkOrder(r.Context(), workOrderID)
	if err != nil {
		writeWorkOrderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, WorkOrder{ID: wo.ID, Title: wo.Title, Status: wo.Status})
}

// handleCompleteWorkOrder flips the work order to its terminal state and
// announces it in the chat. Completion is idempotent; the announcement fires
// only on the first transition.
func (s *Server) handleCompleteWorkOrder(w http.ResponseWriter, r *http.Request, workOrderID int64) {
	wo, err := s.store.GetWorkOrder(r.Context(), workOrderID)
	if err != nil {
		writeWorkOrderError(w, err)
		return
	}
	alreadyComplete := wo.Status == WorkOrderStatusComplete
	if err := s.store.CompleteWorkOrder(r.Context(), workOrderID); err != nil {
		writeWorkOrderError(w, err)
		return
	}
	if !alreadyComplete {
		msg, err := s.store.InsertMessage(r.Context(), storage.Message{
			WorkOrderID: workOrderID,
			MessageType: string(MessageTypeSystem),
			Content:     "Work order completed. Chat is now read-only.",
		})
		if err == nil {
			if chat, convErr := s.chatMessage(r.Context(), msg, 0); convErr == nil {
				s.broadcastEnvelope(workOrderID, Envelope{Type: EventNewMessage, Message: chat})
			}
		}
	}
	writeJSON(w, http.StatusOK, WorkOrder{ID: wo.ID, Title: wo.Title, Status: WorkOrderStatusComplete})
}

func (s *Server) requireOpenWorkOrder(ctx context.Context, workOrderID int64) error {
	wo, err := s.store.GetWorkOrder(ctx, workOrderID)
	if err != nil {
		return err
	}
	if wo.Status == WorkOrderStatusComplete {
		return errWorkOrderClosed
	}
	return nil
}

func (s *Server) broadcastEnvelope(workOrderID int64, env Envelope) {
	frame := Frame{Topic: MessagesTopic(workOrderID), Envelope: &env}
	encoded, err := json.Marshal(frame)
	if err != nil {
		return
	}
	s.hub.Broadcast(workOrderID, encoded)
}

// chatMessage converts a storage row into the wire shape, resolving the file
// reference and aggregating reaction rows. forUserID drives the per-viewer
// reaction flag; pass 0 for viewer-neutral payloads.
func (s *Server) chatMessage(ctx context.Context, msg *storage.Message, forUserID int64) (*ChatMessage, error) {
	chat := &ChatMessage{
		ID:              msg.ID,
		WorkOrderID:     msg.WorkOrderID,
		MessageType:     MessageType(msg.MessageType),
		Content:         msg.Content,
		ParentMessageID: msg.ParentMessageID,
		Edited:          msg.Edited,
		Deleted:         msg.Deleted,
		CreatedAt:       msg.CreatedAt,
		UpdatedAt:       msg.UpdatedAt,
		Reactions:       aggregateReactions(msg.Reactions, forUserID),
	}
	if msg.Sender != nil {
		summary := summaryFromActor(*msg.Sender)
		chat.User = &summary
	}
	if msg.FileID != nil {
		file, err := s.store.GetFile(ctx, *msg.FileID)
		if err != nil {
			return nil, fmt.Errorf("resolve file %d: %w", *msg.FileID, err)
		}
		chat.File = &FileRef{ID: file.ID, Name: file.Name, Path: "/api/files/" + strconv.FormatInt(file.ID, 10)}
	}
	for _, reader := range msg.ReadBy {
		chat.ReadBy = append(chat.ReadBy, summaryFromActor(reader))
	}
	return chat, nil
}

func aggregateReactions(rows []storage.ReactionRow, forUserID int64) []MessageReaction {
	if len(rows) == 0 {
		return nil
	}
	grouped := make(map[string]*MessageReaction)
	var order []string
	for _, row := range rows {
		agg, ok := grouped[row.Reaction]
		if !ok {
			agg = &MessageReaction{Reaction: row.Reaction}
			grouped[row.Reaction] = agg
			order = append(order, row.Reaction)
		}
		agg.Count++
		agg.Users = append(agg.Users, summaryFromActor(row.User))
		if forUserID != 0 && row.User.ID == forUserID {
			agg.CurrentUserReacted = true
		}
	}
	sort.Strings(order)
	out := make([]MessageReaction, 0, len(order))
	for _, symbol := range order {
		out = append(out, *grouped[symbol])
	}
	return out
}

func actorFromIdentity(identity Identity) *storage.Actor {
	return &storage.Actor{
		ID:        identity.UserID,
		FirstName: identity.FirstName,
		LastName:  identity.LastName,
		Email:     identity.Email,
	}
}

func summaryFromActor(actor storage.Actor) UserSummary {
	return UserSummary{
		ID:        actor.ID,
		FirstName: actor.FirstName,
		LastName:  actor.LastName,
		Email:     actor.Email,
	}
}

// identityFromRequest reads the caller identity headers. Sessions and tokens
// are minted by an external system; the chat API trusts the gateway in front
// of it and only requires the headers to be present and well formed.
func identityFromRequest(r *http.Request) (Identity, error) {
	raw := r.Header.Get("X-User-Id")
	if raw == "" {
		return Identity{}, errUnauthorized
	}
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || userID <= 0 {
		return Identity{}, errUnauthorized
	}
	return Identity{
		UserID:    userID,
		FirstName: r.Header.Get("X-User-First-Name"),
		LastName:  r.Header.Get("X-User-Last-Name"),
		Email:     r.Header.Get("X-User-Email"),
	}, nil
}

func writeWorkOrderError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrWorkOrderNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, errWorkOrderClosed):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeMessageError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrMessageNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}

func decodeJSON(r *http.Request, out interface{}) error {
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
}
