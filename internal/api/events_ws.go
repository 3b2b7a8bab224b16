package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

type wsEvent struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// EventsWSHandler streams planning events over a WebSocket:
// GET /v1/events/ws?planningId={id}. One connection follows one planning.
func (s *Server) EventsWSHandler(w http.ResponseWriter, r *http.Request) {
	planningID := r.URL.Query().Get("planningId")
	if planningID == "" {
		writeProblem(w, http.StatusBadRequest, "Missing planningId", "", r.URL.Path)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	conn.SetReadLimit(1 << 16)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	ch := s.Broker.Subscribe(planningID)
	defer s.Broker.Unsubscribe(planningID, ch)

	// Reader goroutine: we only care about liveness and client close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(20 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-done:
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case evt, open := <-ch:
			if !open {
				return
			}
			if err := conn.WriteJSON(wsEvent{Type: evt.Type, Data: evt.Data}); err != nil {
				return
			}
		}
	}
}
