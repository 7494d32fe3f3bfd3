package handler

import (
	"net/http"
	"time"

	"bencheth/internal/stream"
	"bencheth/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	pingInterval = 30 * time.Second
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// StreamHandler handles WebSocket and SSE streaming connections
type StreamHandler struct {
	stream *stream.Stream
	logger *logger.Logger
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(s *stream.Stream, log *logger.Logger) *StreamHandler {
	return &StreamHandler{stream: s, logger: log}
}

// HandleWebSocket streams JSON block summaries to a WebSocket client
func (h *StreamHandler) HandleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	clientChan, cleanup := h.stream.Subscribe()
	defer cleanup()
	h.logger.Debug("WebSocket client connected from %s", c.ClientIP())

	// the read loop only exists to process pongs and notice disconnects
	closed := make(chan struct{})
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-clientChan:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-closed:
			h.logger.Debug("WebSocket client %s disconnected", c.ClientIP())
			return

		case <-c.Request.Context().Done():
			return
		}
	}
}

// HandleSSE streams block summaries as Server-Sent Events named "block"
func (h *StreamHandler) HandleSSE(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	clientChan, cleanup := h.stream.Subscribe()
	defer cleanup()

	for {
		select {
		case data, ok := <-clientChan:
			if !ok {
				return
			}
			c.SSEvent("block", string(data))
			c.Writer.Flush()

		case <-c.Request.Context().Done():
			return
		}
	}
}
