package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const (
	// eventBuffer is the per-client queue; a slower client misses events.
	eventBuffer = 32
	// eventWriteTimeout bounds a single websocket write.
	eventWriteTimeout = 10 * time.Second
	// sessionRecheckInterval is how often an idle stream re-validates its
	// session so that expiry closes the socket even without traffic.
	sessionRecheckInterval = 30 * time.Second
)

// handleEvents streams vault change events as JSON websocket messages until
// the client goes away, the session expires, or the server shuts down.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		s.handleNotFound(w, r)

		return
	}

	caller := identityFrom(r.Context())

	// Accept enforces a same-origin check on the Origin header.
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", slog.String("error", err.Error()))

		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(r.Context())

	events, unsubscribe := s.hub.Subscribe(eventBuffer)
	defer unsubscribe()

	recheck := time.NewTicker(sessionRecheckInterval)
	defer recheck.Stop()

	s.logger.Debug("event stream opened", slog.String("user", caller.username))

	for {
		select {
		case <-ctx.Done():
			return

		case <-s.streamsDone:
			conn.Close(websocket.StatusGoingAway, "server shutting down")

			return

		case <-recheck.C:
			if !s.sessions.Validate(caller.sessionID) {
				conn.Close(websocket.StatusPolicyViolation, "session expired")

				return
			}

		case ev, ok := <-events:
			if !ok {
				return
			}

			if !s.sessions.Validate(caller.sessionID) {
				conn.Close(websocket.StatusPolicyViolation, "session expired")

				return
			}

			if err := s.writeEvent(ctx, conn, ev); err != nil {
				s.logger.Debug("event stream closed", slog.String("error", err.Error()))

				return
			}
		}
	}
}

func (s *Server) writeEvent(ctx context.Context, conn *websocket.Conn, v any) error {
	ctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()

	return wsjson.Write(ctx, conn, v)
}
