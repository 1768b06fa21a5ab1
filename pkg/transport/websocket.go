package transport

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/karipov/nostrust/pkg/api"
	"github.com/karipov/nostrust/pkg/message"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// handleWebsocket serves one connection: every text frame is a client
// message and every response is written back as one frame. Failures are
// answered with a problem frame and the connection stays open.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WarnContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ip := api.ClientIP(r)
	logger := s.logger.With("remote", ip)
	logger.DebugContext(r.Context(), "websocket client connected")

	conn.SetReadLimit(MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	}()

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.WarnContext(r.Context(), "websocket read error", "error", err)
			}
			return
		}
		if kind != websocket.TextMessage {
			if !s.writeFrame(conn, api.NewProblem(http.StatusBadRequest, "binary frames are not supported")) {
				return
			}
			continue
		}
		if s.limiter != nil && !s.limiter.Allow(ip) {
			if !s.writeFrame(conn, api.NewProblem(http.StatusTooManyRequests, "rate limit exceeded")) {
				return
			}
			continue
		}

		if !s.writeFrame(conn, s.dispatchFrame(r, data)) {
			return
		}
	}
}

// dispatchFrame returns the value to send back, or nil for no response.
func (s *Server) dispatchFrame(r *http.Request, data []byte) any {
	msg, err := message.DecodeClient(data)
	if err != nil {
		return api.NewProblem(http.StatusBadRequest, err.Error())
	}
	resp, err := s.engine.Handle(r.Context(), msg)
	if err != nil {
		status := statusFor(err)
		if status == 0 {
			s.logger.ErrorContext(r.Context(), "websocket dispatch failed", "error", err)
			return api.NewProblem(http.StatusInternalServerError, "An unexpected error occurred.")
		}
		return api.NewProblem(status, err.Error())
	}
	if resp == nil {
		return nil
	}
	return resp
}

// writeFrame sends v as a text frame; nil sends nothing. It reports whether
// the connection is still usable.
func (s *Server) writeFrame(conn *websocket.Conn, v any) bool {
	if v == nil {
		return true
	}
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("encode websocket frame", "error", err)
		return false
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data) == nil
}
