package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// metricsPushInterval is how often each connected client receives a snapshot.
const metricsPushInterval = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins; tighten in production.
	},
}

// handleMetricsStream upgrades the connection and pushes metrics snapshots
// until the client disconnects.
func (s *Server) handleMetricsStream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written its own error response.
		s.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	go s.streamMetrics(conn)
}

func (s *Server) streamMetrics(conn *websocket.Conn) {
	defer conn.Close()

	// Drain inbound frames so close frames are processed; the stream is
	// push-only and ignores client payloads.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// First snapshot goes out immediately so clients render without waiting
	// a full interval.
	if err := conn.WriteJSON(s.engine.Metrics()); err != nil {
		return
	}

	ticker := time.NewTicker(s.metricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteJSON(s.engine.Metrics()); err != nil {
				return
			}
		}
	}
}
