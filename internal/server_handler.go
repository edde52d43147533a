package internal

import (
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeWS upgrades the request to a websocket and subscribes the connection
// to the work order named in the "workOrder" query parameter.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("workOrder")
	if raw == "" {
		http.Error(w, "missing workOrder query param", http.StatusBadRequest)
		return
	}
	workOrderID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || workOrderID <= 0 {
		http.Error(w, "invalid workOrder query param", http.StatusBadRequest)
		return
	}
	identity, err := identityFromRequest(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	websocketConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("upgrade error: %v", err)
		return
	}

	channel := s.hub.getOrCreateChannel(workOrderID)
	s.metrics.IncConn()
	s.presence.Join(workOrderID, identity.UserID)
	client := newClient(channel, websocketConn, identity, func() {
		s.metrics.DecConn()
		s.presence.Leave(workOrderID, identity.UserID)
	})
	channel.register <- client

	go client.writePump()
	go client.readPump(s.hub)
}
