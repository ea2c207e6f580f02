package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsWriteTimeout      = 10 * time.Second
	wsHeartbeatInterval = 30 * time.Second
	wsSubscriberBuffer  = 64
)

// WSMessage represents an outgoing WebSocket frame.
type WSMessage struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// checkOrigin validates the Origin header against the configured allow list.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// Non-browser clients send no Origin header.
		return true
	}
	for _, allowed := range s.config.Server.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// handleWebSocket streams authorization events (approvals, threats, gate
// changes, kill switch transitions) to a connected client.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ch, cancel := s.bus.Subscribe(wsSubscriberBuffer)
	defer cancel()

	s.logger.Debug("websocket client connected", zap.String("remote", r.RemoteAddr))

	// Drain reads so close frames are processed; the stream is write-only.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	heartbeat := time.NewTicker(wsHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return

		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := s.writeWS(conn, WSMessage{
				Type:      string(ev.Type),
				Data:      ev.Data,
				Timestamp: ev.Timestamp,
			}); err != nil {
				return
			}

		case <-heartbeat.C:
			if err := s.writeWS(conn, WSMessage{
				Type:      "heartbeat",
				Timestamp: time.Now().UTC(),
			}); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeWS(conn *websocket.Conn, msg WSMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(msg)
}
