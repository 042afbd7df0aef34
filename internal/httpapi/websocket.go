package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/pkg/log"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

// A nil CheckOrigin makes the upgrader reject cross-origin handshakes.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// handleWebSocket pushes the same messages as /api/events over a websocket.
// Anything the client sends is discarded.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := requireSession(w, r)
	if !ok {
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("Websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	sub := s.bus.Subscribe(sessionID)
	defer sub.Close()
	log.Debug("Websocket client connected (session %q)", sessionID)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(4096)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			log.Debug("Websocket client disconnected (session %q)", sessionID)
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case msg, open := <-sub.C():
			if !open {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(msg); err != nil {
				log.Debug("Websocket write failed: %v", err)
				return
			}
		}
	}
}
