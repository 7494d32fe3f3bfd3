package stream

import (
	"context"
	"encoding/json"
	"sync"

	"bencheth/internal/models"
	"bencheth/pkg/logger"
)

// Stream fans out processed block summaries to connected clients.
// Supports both WebSocket and Server-Sent Events (SSE) through the handler package.
type Stream struct {
	clients    map[chan []byte]struct{}
	mu         sync.Mutex
	recent     [][]byte
	bufferSize int
	logger     *logger.Logger
}

// NewStream creates a new stream instance that remembers the last bufferSize summaries
func NewStream(bufferSize int, log *logger.Logger) *Stream {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Stream{
		clients:    make(map[chan []byte]struct{}),
		recent:     make([][]byte, 0, bufferSize),
		bufferSize: bufferSize,
		logger:     log,
	}
}

// PublishBlock sends a block summary to all connected clients.
// Non-blocking: if a client channel is full, the event is dropped for that client.
func (s *Stream) PublishBlock(_ context.Context, summary *models.BlockSummary) {
	if s == nil || summary == nil {
		return
	}

	data, err := json.Marshal(summary)
	if err != nil {
		s.logger.Error("Failed to marshal block %d for streaming: %v", summary.Number, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.recent) == s.bufferSize {
		copy(s.recent, s.recent[1:])
		s.recent = s.recent[:len(s.recent)-1]
	}
	s.recent = append(s.recent, data)

	for clientChan := range s.clients {
		select {
		case clientChan <- data:
		default:
			s.logger.Debug("Client channel full, dropping block %d", summary.Number)
		}
	}
}

// Subscribe creates a new client channel preloaded with the recent summaries.
// The returned cleanup function unregisters and closes the channel.
func (s *Stream) Subscribe() (<-chan []byte, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	clientChan := make(chan []byte, s.bufferSize)
	for _, data := range s.recent {
		clientChan <- data
	}
	s.clients[clientChan] = struct{}{}

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.clients, clientChan)
			close(clientChan)
		})
	}

	return clientChan, cleanup
}

// ClientCount returns the number of connected clients
func (s *Stream) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Recent returns the number of buffered summaries
func (s *Stream) Recent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recent)
}
