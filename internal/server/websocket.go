package api

import (
	"net/http"
	"time"

	"github.com/dchest/uniuri"
	"github.com/gorilla/websocket"

	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/capture/session"
)

const (
	eventBuffer  = 64
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now
	},
}

// statusMessage is the first message of every event stream.
type statusMessage struct {
	Type   string         `json:"type"`
	Status session.Status `json:"status"`
}

// handleEvents streams lifecycle events to a WebSocket client until either
// side closes the connection.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Failed to upgrade WebSocket", "error", err)
		return
	}
	defer conn.Close()

	id := "ws-" + uniuri.NewLen(12)
	bus := s.ctrl.Events()
	events := bus.Subscribe(id, eventBuffer)
	defer bus.Unsubscribe(id)
	s.logger.Debug("Event stream opened", "subscriber", id, "remote", r.RemoteAddr)

	// The client only sends control frames; reading detects the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.logger.Debug("WebSocket read error", "subscriber", id, "error", err)
				}
				return
			}
		}
	}()

	if err := s.writeJSON(conn, statusMessage{Type: "status", Status: s.ctrl.Status()}); err != nil {
		return
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := s.writeJSON(conn, ev); err != nil {
				s.logger.Debug("Event stream write failed", "subscriber", id, "error", err)
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(writeTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-closed:
			s.logger.Debug("Event stream closed", "subscriber", id)
			return
		case <-r.Context().Done():
			return
		case <-s.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeTimeout))
			return
		}
	}
}

func (s *Server) writeJSON(conn *websocket.Conn, v interface{}) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(v)
}
