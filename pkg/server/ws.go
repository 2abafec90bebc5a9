package server

import (
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/duynguyendang/lexa/pkg/events"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			origins := s.cfg.AllowedOrigins
			return origin == "" || len(origins) == 0 || slices.Contains(origins, "*") || slices.Contains(origins, origin)
		},
	}
}

// handleWebsocket streams progress events as JSON. With ?sessionId= only that
// session's events are sent.
func (s *Server) handleWebsocket(c *gin.Context) {
	conn, err := s.upgrader().Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the error response
		s.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	var opts []events.SubscribeOption
	sessionID := c.Query("sessionId")
	if sessionID != "" {
		opts = append(opts, events.WithSessionFilter(sessionID))
	}
	sub := s.events.Subscribe(opts...)
	s.log.Debug("observer connected", zap.String("session_id", sessionID))

	go s.readPump(conn, sub)
	s.writePump(conn, sub)
}

// readPump discards client messages and ends the subscription when the
// client goes away.
func (s *Server) readPump(conn *websocket.Conn, sub *events.Subscription) {
	defer s.events.Unsubscribe(sub)

	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writePump(conn *websocket.Conn, sub *events.Subscription) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.events.Unsubscribe(sub)
		_ = conn.Close()
	}()

	for {
		select {
		case e, ok := <-sub.Events():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := conn.WriteJSON(e); err != nil {
				s.log.Debug("observer write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
