package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"artvista/internal/util"
	"artvista/pkg/domain"
)

const (
	liveWriteWait  = 10 * time.Second
	livePongWait   = 60 * time.Second
	livePingPeriod = livePongWait * 9 / 10
)

// handleLive streams like and comment events of one artwork over a websocket
// until either side closes. Browser origins must pass the CORS allowlist;
// mobile clients send no Origin.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request, session domain.Session, artworkID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if s.subscriber == nil {
		writeError(w, http.StatusServiceUnavailable, domain.KindUnavailable, "live updates are not enabled")
		return
	}
	if _, err := s.app.GetArtwork(r.Context(), artworkID); err != nil {
		writeAppError(w, err)
		return
	}
	logger := util.LoggerFromContext(r.Context()).With("artwork_id", artworkID)

	sub, err := s.subscriber.Subscribe(r.Context(), artworkID)
	if err != nil {
		logger.Error("live subscribe failed", "err", err)
		writeError(w, http.StatusServiceUnavailable, domain.KindUnavailable, "live updates unavailable")
		return
	}
	defer sub.Close()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()
	logger.Info("live stream opened", "user_id", session.UserID)

	// The read side only handles control frames; it ends when the client goes away.
	closed := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(livePongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(livePongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Warn("live stream read failed", "err", err)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(livePingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			logger.Info("live stream closed")
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case ev, ok := <-sub.Events():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream ended"),
					time.Now().Add(liveWriteWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				logger.Warn("live stream write failed", "err", err)
				return
			}
		}
	}
}
