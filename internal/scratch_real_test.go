package internal

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
)

func TestScratchReal(t *testing.T) {
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
	t.Logf("second toggle path=%q body=%s", path, rec.Body.String())
	rec = doJSON(t, mux, http.MethodGet, fmt.Sprintf("/work-order-messages/work-order/%d", workOrderID), nil, 2)
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listed[0].Reactions) != 0 {
		t.Fatalf("expected no reactions, got %+v", listed[0].Reactions)
	}
}

