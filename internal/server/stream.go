package server

import (
	"bytes"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Iron-Ham/waproxy/internal/detect"
	"github.com/Iron-Ham/waproxy/internal/errors"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// Send pings with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Clients only send control frames.
	maxClientMessage = 512
)

// handleLogStream upgrades to a websocket, sends the last TailLines lines
// of the bridge log, then one text frame per batch of new output.
func (s *Server) handleLogStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an error status.
		s.logger.Warn("log stream upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	logger := s.logger.WithRequest(RequestIDFrom(r.Context()))
	logger.Debug("log stream opened", "remote", r.RemoteAddr)
	defer logger.Debug("log stream closed", "remote", r.RemoteAddr)

	path := s.bridge.LogPath()
	follower := detect.NewFollower(path)
	if err := follower.SkipToEnd(); err != nil && !errors.Is(err, errors.ErrLogNotFound) {
		logger.Warn("failed to position log stream", "error", err)
	}

	initial, err := detect.TailLines(path, s.opts.TailLines)
	if err != nil && !errors.Is(err, errors.ErrLogNotFound) {
		logger.Warn("failed to read log tail", "error", err)
	}
	if initial != "" {
		if err := writeFrame(conn, websocket.TextMessage, []byte(initial)); err != nil {
			return
		}
	}

	closed := make(chan struct{})
	go readUntilClosed(conn, closed)

	poll := time.NewTicker(s.opts.StreamPoll)
	defer poll.Stop()
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	var buf bytes.Buffer
	for {
		select {
		case <-r.Context().Done():
			_ = writeFrame(conn, websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case <-closed:
			return
		case <-ping.C:
			if err := writeFrame(conn, websocket.PingMessage, nil); err != nil {
				return
			}
		case <-poll.C:
			buf.Reset()
			_, err := follower.Next(func(chunk []byte) { buf.Write(chunk) })
			if err != nil && !errors.Is(err, errors.ErrLogNotFound) {
				logger.Warn("log stream read failed", "error", err)
			}
			if buf.Len() == 0 {
				continue
			}
			if err := writeFrame(conn, websocket.TextMessage, buf.Bytes()); err != nil {
				return
			}
		}
	}
}

func writeFrame(conn *websocket.Conn, messageType int, data []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(messageType, data)
}

// readUntilClosed discards client frames so control frames are processed,
// and closes done once the connection fails or the peer closes it.
func readUntilClosed(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(maxClientMessage)
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
