package internal

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newWSServer(t *testing.T) string {
	t.Helper()
	server, _, _ := newTestServer(t)
	httpServer := httptest.NewServer(http.HandlerFunc(server.ServeWS))
	t.Cleanup(httpServer.Close)
	return "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/ws"
}

func TestTransportDialAuthenticatesUpgrade(t *testing.T) {
	wsURL := newWSServer(t)

	transport := NewTransport(wsURL, 1, Identity{UserID: 1, FirstName: "Alice", LastName: "Ng"}, 0)
	if err := transport.Dial(); err != nil {
		t.Fatalf("dial with identity: %v", err)
	}
	defer transport.Close()
	if !transport.Connected() {
		t.Fatal("expected connected transport")
	}
}

func TestTransportDialRejectedWithoutIdentity(t *testing.T) {
	wsURL := newWSServer(t)

	transport := NewTransport(wsURL, 1, Identity{}, 0)
	if err := transport.Dial(); err == nil {
		transport.Close()
		t.Fatal("expected handshake rejection without identity headers")
	}
	if transport.Connected() {
		t.Fatal("transport should not report connected after a failed dial")
	}
}

func TestTypingRoundTripThroughServer(t *testing.T) {
	wsURL := newWSServer(t)

	reader := NewTransport(wsURL, 1, Identity{UserID: 1, FirstName: "Alice"}, 0)
	if err := reader.Dial(); err != nil {
		t.Fatalf("reader dial: %v", err)
	}
	defer reader.Close()

	writer := NewTransport(wsURL, 1, Identity{UserID: 2, FirstName: "Bob"}, 0)
	if err := writer.Dial(); err != nil {
		t.Fatalf("writer dial: %v", err)
	}
	defer writer.Close()

	received := make(chan Frame, 1)
	go func() {
		for {
			frame, err := reader.ReadFrame()
			if err != nil {
				return
			}
			if frame.Typing != nil {
				received <- frame
				return
			}
		}
	}()

	// registration is asynchronous, so re-send until the reader sees it
	deadline := time.After(2 * time.Second)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case frame := <-received:
			if frame.Topic != TypingTopic(1) {
				t.Fatalf("unexpected topic %q", frame.Topic)
			}
			// the server stamps the sender's authenticated identity
			if frame.Typing.UserID != 2 {
				t.Fatalf("expected typing user 2, got %d", frame.Typing.UserID)
			}
			if !frame.Typing.Typing {
				t.Fatal("expected typing=true notification")
			}
			return
		case <-deadline:
			t.Fatal("typing notification never arrived")
		case <-ticker.C:
			if err := writer.PublishTyping(TypingNotification{UserID: 2, Typing: true}); err != nil {
				t.Fatalf("publish typing: %v", err)
			}
		}
	}
}
