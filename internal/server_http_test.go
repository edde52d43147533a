package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"wochat/internal/storage"
)

func newTestServer(t *testing.T) (*Server, *storage.Store, int64) {
	t.Helper()
	store, err := storage.NewStore("sqlite://file:" + t.Name() + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	workOrderID, err := store.CreateWorkOrder(context.Background(), "Grease bearings")
	if err != nil {
		t.Fatalf("CreateWorkOrder: %v", err)
	}
	return NewServer(store, t.TempDir(), 10*1024*1024), store, workOrderID
}

func serverMux(server *Server) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/work-order-messages", server.HandleSendMessage)
	mux.HandleFunc("/work-order-messages/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/work-order-messages/work-order/") {
			server.HandleWorkOrderMessages(w, r)
			return
		}
		server.HandleMessage(w, r)
	})
	mux.HandleFunc("/work-orders/", server.HandleWorkOrder)
	mux.HandleFunc("/healthz", server.HandleHealthz)
	return mux
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path string, payload interface{}, userID int64) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Buffer
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatal(err)
		}
		body = bytes.NewBuffer(encoded)
	} else {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-User-Id", fmt.Sprintf("%d", userID))
	req.Header.Set("X-User-First-Name", fmt.Sprintf("User%d", userID))
	req.Header.Set("X-User-Email", fmt.Sprintf("user%d@example.com", userID))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestSendAndListMessages(t *testing.T) {
	server, _, workOrderID := newTestServer(t)
	mux := serverMux(server)

	rec := doJSON(t, mux, http.MethodPost, "/work-order-messages", SendMessageRequest{
		WorkOrderID: workOrderID,
		MessageType: MessageTypeText,
		Content:     "  bearing housing looks worn  ",
	}, 1)
	if rec.Code != http.StatusCreated {
		t.Fatalf("send: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var sent ChatMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &sent); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sent.Content != "bearing housing looks worn" {
		t.Fatalf("content not trimmed: %q", sent.Content)
	}

	rec = doJSON(t, mux, http.MethodGet, fmt.Sprintf("/work-order-messages/work-order/%d", workOrderID), nil, 2)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", rec.Code)
	}
	var listed []ChatMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != sent.ID {
		t.Fatalf("unexpected list: %+v", listed)
	}
}

func TestSendValidation(t *testing.T) {
	server, _, workOrderID := newTestServer(t)
	mux := serverMux(server)

	// blank TEXT content
	rec := doJSON(t, mux, http.MethodPost, "/work-order-messages", SendMessageRequest{
		WorkOrderID: workOrderID,
		MessageType: MessageTypeText,
		Content:     "   ",
	}, 1)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank text, got %d", rec.Code)
	}

	// media without a file reference
	rec = doJSON(t, mux, http.MethodPost, "/work-order-messages", SendMessageRequest{
		WorkOrderID: workOrderID,
		MessageType: MessageTypeImage,
	}, 1)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing fileId, got %d", rec.Code)
	}

	// missing identity headers
	req := httptest.NewRequest(http.MethodPost, "/work-order-messages", strings.NewReader("{}"))
	recorder := httptest.NewRecorder()
	mux.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without identity, got %d", recorder.Code)
	}
}

func TestCompletedWorkOrderIsReadOnly(t *testing.T) {
	server, _, workOrderID := newTestServer(t)
	mux := serverMux(server)

	rec := doJSON(t, mux, http.MethodPost, fmt.Sprintf("/work-orders/%d/complete", workOrderID), nil, 1)
	if rec.Code != http.StatusOK {
		t.Fatalf("complete: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, mux, http.MethodGet, fmt.Sprintf("/work-orders/%d", workOrderID), nil, 1)
	var wo WorkOrder
	if err := json.Unmarshal(rec.Body.Bytes(), &wo); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !wo.Complete() {
		t.Fatalf("expected completed work order, got %+v", wo)
	}

	// the completion announcement landed as a SYSTEM message
	rec = doJSON(t, mux, http.MethodGet, fmt.Sprintf("/work-order-messages/work-order/%d", workOrderID), nil, 1)
	var listed []ChatMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listed) != 1 || listed[0].MessageType != MessageTypeSystem {
		t.Fatalf("expected one SYSTEM message, got %+v", listed)
	}

	// further sends bounce
	rec = doJSON(t, mux, http.MethodPost, "/work-order-messages", SendMessageRequest{
		WorkOrderID: workOrderID,
		MessageType: MessageTypeText,
		Content:     "too late",
	}, 1)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on completed work order, got %d", rec.Code)
	}
}

func TestEditAndSoftDelete(t *testing.T) {
	server, _, workOrderID := newTestServer(t)
	mux := serverMux(server)

	rec := doJSON(t, mux, http.MethodPost, "/work-order-messages", SendMessageRequest{
		WorkOrderID: workOrderID,
		MessageType: MessageTypeText,
		Content:     "first pass",
	}, 1)
	var sent ChatMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &sent); err != nil {
		t.Fatalf("decode: %v", err)
	}

	// only the author may modify
	content := "hijacked"
	rec = doJSON(t, mux, http.MethodPatch, fmt.Sprintf("/work-order-messages/%d", sent.ID),
		editMessageRequest{Content: &content}, 2)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-author edit, got %d", rec.Code)
	}

	content = "second pass"
	rec = doJSON(t, mux, http.MethodPatch, fmt.Sprintf("/work-order-messages/%d", sent.ID),
		editMessageRequest{Content: &content}, 1)
	if rec.Code != http.StatusOK {
		t.Fatalf("edit: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var edited ChatMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &edited); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if edited.Content != "second pass" || !edited.Edited {
		t.Fatalf("edit not applied: %+v", edited)
	}

	deleted := true
	rec = doJSON(t, mux, http.MethodPatch, fmt.Sprintf("/work-order-messages/%d", sent.ID),
		editMessageRequest{Deleted: &deleted}, 1)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", rec.Code)
	}

	// a soft delete keeps the row in the list as a tombstone
	rec = doJSON(t, mux, http.MethodGet, fmt.Sprintf("/work-order-messages/work-order/%d", workOrderID), nil, 1)
	var listed []ChatMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listed) != 1 || !listed[0].Deleted {
		t.Fatalf("expected tombstone, got %+v", listed)
	}
}

func TestReadReceiptsAndUnreadCount(t *testing.T) {
	server, _, workOrderID := newTestServer(t)
	mux := serverMux(server)

	for i := 0; i < 2; i++ {
		rec := doJSON(t, mux, http.MethodPost, "/work-order-messages", SendMessageRequest{
			WorkOrderID: workOrderID,
			MessageType: MessageTypeText,
			Content:     fmt.Sprintf("update %d", i),
		}, 1)
		if rec.Code != http.StatusCreated {
			t.Fatalf("send: got %d", rec.Code)
		}
	}

	rec := doJSON(t, mux, http.MethodGet, fmt.Sprintf("/work-order-messages/work-order/%d/unread-count", workOrderID), nil, 2)
	var count struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &count); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if count.Count != 2 {
		t.Fatalf("expected 2 unread, got %d", count.Count)
	}

	rec = doJSON(t, mux, http.MethodPost, fmt.Sprintf("/work-order-messages/work-order/%d/read-all", workOrderID), nil, 2)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("read-all: expected 204, got %d", rec.Code)
	}

	rec = doJSON(t, mux, http.MethodGet, fmt.Sprintf("/work-order-messages/work-order/%d/unread-count", workOrderID), nil, 2)
	if err := json.Unmarshal(rec.Body.Bytes(), &count); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if count.Count != 0 {
		t.Fatalf("expected 0 unread after read-all, got %d", count.Count)
	}

	// the sender's own message list now shows the reader
	rec = doJSON(t, mux, http.MethodGet, fmt.Sprintf("/work-order-messages/work-order/%d", workOrderID), nil, 1)
	var listed []ChatMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listed[0].ReadBy) != 1 || listed[0].ReadBy[0].ID != 2 {
		t.Fatalf("unexpected readBy: %+v", listed[0].ReadBy)
	}
}

func TestReactionToggle(t *testing.T) {
	server, _, workOrderID := newTestServer(t)
	mux := serverMux(server)

	rec := doJSON(t, mux, http.MethodPost, "/work-order-messages", SendMessageRequest{
		WorkOrderID: workOrderID,
		MessageType: MessageTypeText,
		Content:     "fixed it",
	}, 1)
	var sent ChatMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &sent); err != nil {
		t.Fatalf("decode: %v", err)
	}

	path := fmt.Sprintf("/work-order-messages/%d/reaction?reaction=%s", sent.ID, "%F0%9F%91%8D")
	rec = doJSON(t, mux, http.MethodPost, path, nil, 2)
	if rec.Code != http.StatusOK {
		t.Fatalf("toggle add: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, mux, http.MethodGet, fmt.Sprintf("/work-order-messages/work-order/%d", workOrderID), nil, 2)
	var listed []ChatMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listed[0].Reactions) != 1 {
		t.Fatalf("expected one reaction group, got %+v", listed[0].Reactions)
	}
	group := listed[0].Reactions[0]
	if group.Reaction != "👍" || group.Count != 1 || !group.CurrentUserReacted {
		t.Fatalf("unexpected reaction group: %+v", group)
	}

	// the same user toggling again removes it
	rec = doJSON(t, mux, http.MethodPost, path, nil, 2)
	if rec.Code != http.StatusOK {
		t.Fatalf("toggle remove: expected 200, got %d", rec.Code)
	}
	rec = doJSON(t, mux, http.MethodGet, fmt.Sprintf("/work-order-messages/work-order/%d", workOrderID), nil, 2)
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listed[0].Reactions) != 0 {
		t.Fatalf("expected no reactions, got %+v", listed[0].Reactions)
	}
}

func TestHealthz(t *testing.T) {
	server, _, _ := newTestServer(t)
	mux := serverMux(server)

	rec := doJSON(t, mux, http.MethodGet, "/healthz", nil, 1)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var status map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status["status"] != "ok" || status["version"] == "" {
		t.Fatalf("unexpected healthz payload: %v", status)
	}
}
