package dashboard

import (
	"io"
	"log/slog"
	"time"

	"github.com/foxseedlab/kuchiguse/internal/logstream"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
)

type logFrame struct {
	Type    string            `json:"type"`
	Entry   *logstream.Entry  `json:"entry,omitempty"`
	Entries []logstream.Entry `json:"entries,omitempty"`
}

// streamLogs serves the log history followed by live entries as
// server-sent events.
func (s *Server) streamLogs(c *gin.Context) {
	history, entries, cancel := s.hub.Subscribe()
	defer cancel()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("log-history", history)
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case e, ok := <-entries:
			if !ok {
				return false
			}
			c.SSEvent("log", e)
			return true
		}
	})
}

func (s *Server) websocketLogs(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	history, entries, cancel := s.hub.Subscribe()
	defer cancel()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := writeFrame(conn, logFrame{Type: "log-history", Entries: history}); err != nil {
		return
	}

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case e, ok := <-entries:
			if !ok {
				return
			}
			if err := writeFrame(conn, logFrame{Type: "log", Entry: &e}); err != nil {
				slog.Debug("log websocket write failed", "error", err)
				return
			}
		}
	}
}

func writeFrame(conn *websocket.Conn, frame logFrame) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(frame)
}
