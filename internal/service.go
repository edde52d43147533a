package internal

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var httpTimeout = 5 * time.Second

var errUnauthorized = errors.New("unauthorized")

// Identity is the opaque current-user object handed to the chat subsystem.
type Identity struct {
	UserID    int64
	FirstName string
	LastName  string
	Email     string
}

func (i Identity) Summary() UserSummary {
	return UserSummary{ID: i.UserID, FirstName: i.FirstName, LastName: i.LastName, Email: i.Email}
}

func (i Identity) DisplayName() string {
	return i.Summary().DisplayName()
}

// headers renders the identity as the X-User-* headers every server surface
// (REST and websocket upgrade alike) authenticates with.
func (i Identity) headers() http.Header {
	h := http.Header{}
	h.Set("X-User-Id", fmt.Sprintf("%d", i.UserID))
	h.Set("X-User-First-Name", i.FirstName)
	h.Set("X-User-Last-Name", i.LastName)
	h.Set("X-User-Email", i.Email)
	return h
}

// FileCategory is the upload service's type discriminator.
type FileCategory string

const (
	FileCategoryImage FileCategory = "IMAGE"
	FileCategoryVideo FileCategory = "VIDEO"
	FileCategoryOther FileCategory = "OTHER"
)

// SendMessageRequest is the POST /work-order-messages body.
type SendMessageRequest struct {
	WorkOrderID     int64       `json:"workOrderId"`
	MessageType     MessageType `json:"messageType"`
	Content         string      `json:"content,omitempty"`
	FileID          int64       `json:"fileId,omitempty"`
	ParentMessageID *int64      `json:"parentMessageId,omitempty"`
}

type editMessageRequest struct {
	Content *string `json:"content,omitempty"`
	Deleted *bool   `json:"deleted,omitempty"`
}

type unreadCountResponse struct {
	Count int `json:"count"`
}

type uploadResponse struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// MessageService is the REST client for work-order message operations.
// The base URL is injected at construction time; nothing reads ambient
// globals, so the service tests in isolation against a local server.
type MessageService struct {
	baseURL  string
	identity Identity
}

// NewMessageService builds a client against an http(s) API base URL.
func NewMessageService(baseURL string, identity Identity) *MessageService {
	return &MessageService{baseURL: strings.TrimRight(baseURL, "/"), identity: identity}
}

// ListMessages fetches the full message history for a work order.
func (s *MessageService) ListMessages(workOrderID int64) ([]ChatMessage, error) {
	var messages []ChatMessage
	path := fmt.Sprintf("%s/work-order-messages/work-order/%d", s.baseURL, workOrderID)
	if err := s.doJSONRequest(http.MethodGet, path, nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// SendMessage posts a new message. The returned message is what the server
// persisted; the panel still waits for the broadcast echo before showing it.
func (s *MessageService) SendMessage(req SendMessageRequest) (*ChatMessage, error) {
	var msg ChatMessage
	if err := s.doJSONRequest(http.MethodPost, s.baseURL+"/work-order-messages", req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// EditMessage replaces the text body of an existing message.
func (s *MessageService) EditMessage(messageID int64, content string) (*ChatMessage, error) {
	var msg ChatMessage
	path := fmt.Sprintf("%s/work-order-messages/%d", s.baseURL, messageID)
	if err := s.doJSONRequest(http.MethodPatch, path, editMessageRequest{Content: &content}, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// DeleteMessage soft-deletes a message. The UI updates only when the
// MESSAGE_DELETED echo arrives.
func (s *MessageService) DeleteMessage(messageID int64) error {
	deleted := true
	path := fmt.Sprintf("%s/work-order-messages/%d", s.baseURL, messageID)
	return s.doJSONRequest(http.MethodPatch, path, editMessageRequest{Deleted: &deleted}, nil)
}

// MarkRead acknowledges a single message.
func (s *MessageService) MarkRead(messageID int64) error {
	path := fmt.Sprintf("%s/work-order-messages/%d/read", s.baseURL, messageID)
	return s.doJSONRequest(http.MethodPost, path, nil, nil)
}

// MarkAllRead acknowledges every unread message on the work order.
func (s *MessageService) MarkAllRead(workOrderID int64) error {
	path := fmt.Sprintf("%s/work-order-messages/work-order/%d/read-all", s.baseURL, workOrderID)
	return s.doJSONRequest(http.MethodPost, path, nil, nil)
}

// UnreadCount returns how many messages the current user has not read.
func (s *MessageService) UnreadCount(workOrderID int64) (int, error) {
	var resp unreadCountResponse
	path := fmt.Sprintf("%s/work-order-messages/work-order/%d/unread-count", s.baseURL, workOrderID)
	if err := s.doJSONRequest(http.MethodGet, path, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// ToggleReaction flips the current user's reaction on a message: present
// removes, absent adds. Fire and forget; the echo updates the UI.
func (s *MessageService) ToggleReaction(messageID int64, symbol string) error {
	path := fmt.Sprintf("%s/work-order-messages/%d/reaction?reaction=%s", s.baseURL, messageID, url.QueryEscape(symbol))
	return s.doJSONRequest(http.MethodPost, path, nil, nil)
}

// GetWorkOrder fetches the work order, primarily for the completion status.
func (s *MessageService) GetWorkOrder(workOrderID int64) (*WorkOrder, error) {
	var wo WorkOrder
	path := fmt.Sprintf("%s/work-orders/%d", s.baseURL, workOrderID)
	if err := s.doJSONRequest(http.MethodGet, path, nil, &wo); err != nil {
		return nil, err
	}
	return &wo, nil
}

// UploadFile posts a binary to the upload service and returns the durable
// file id to reference from a message. The category discriminator tells the
// service how to treat the payload.
func (s *MessageService) UploadFile(name string, category FileCategory, content io.Reader) (int64, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if err := writer.WriteField("type", string(category)); err != nil {
		return 0, err
	}
	part, err := writer.CreateFormFile("file", filepath.Base(name))
	if err != nil {
		return 0, err
	}
	if _, err := io.Copy(part, content); err != nil {
		return 0, err
	}
	if err := writer.Close(); err != nil {
		return 0, err
	}

	req, err := http.NewRequest(http.MethodPost, s.baseURL+"/api/upload", body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	s.setIdentityHeaders(req)
	client := &http.Client{Timeout: 2 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("upload failed with %d: %s", resp.StatusCode, readResponseError(resp.Body))
	}
	var parsed uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return 0, err
	}
	return parsed.ID, nil
}

// UploadFilePath uploads a file from disk.
func (s *MessageService) UploadFilePath(path string, category FileCategory) (int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()
	return s.UploadFile(filepath.Base(path), category, file)
}

func (s *MessageService) doJSONRequest(method, endpoint string, payload interface{}, out interface{}) error {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewBuffer(buf)
	}
	req, err := http.NewRequest(method, endpoint, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	s.setIdentityHeaders(req)
	client := &http.Client{Timeout: httpTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return errUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, readResponseError(resp.Body))
	}
	if out != nil {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, out); err != nil {
				return err
			}
		}
	}
	return nil
}

// Identity travels as headers; the session/auth layer that would normally
// mint them is external to this module.
func (s *MessageService) setIdentityHeaders(req *http.Request) {
	for key, values := range s.identity.headers() {
		for _, value := range values {
			req.Header.Set(key, value)
		}
	}
}

func readResponseError(body io.Reader) string {
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return "request failed"
	}
	var parsed map[string]string
	if err := json.Unmarshal(data, &parsed); err == nil {
		if msg, ok := parsed["error"]; ok {
			return msg
		}
	}
	return strings.TrimSpace(string(data))
}

// httpBaseFromSocketURL converts the websocket endpoint into the REST base
// for the same server.
func httpBaseFromSocketURL(wsURL string) (string, error) {
	parsed, err := url.Parse(wsURL)
	if err != nil {
		return "", err
	}
	switch parsed.Scheme {
	case "ws":
		parsed.Scheme = "http"
	case "wss":
		parsed.Scheme = "https"
	default:
		return "", fmt.Errorf("unsupported scheme %s", parsed.Scheme)
	}
	parsed.Path = ""
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return strings.TrimRight(parsed.String(), "/"), nil
}
