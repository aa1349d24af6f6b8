// internal/stream/stream.go
package stream

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrReadTimeout  = errors.New("stream: read timeout")
	ErrNotConnected = errors.New("stream: not connected")
	ErrClosed       = errors.New("stream: closed")
	ErrWriteOnly    = errors.New("stream: attempt to read from write only stream")
	ErrReadOnly     = errors.New("stream: attempt to write to read only stream")
)

// Stream is the raw byte transport under an interface
type Stream interface {
	// Connection lifecycle
	Connect(ctx context.Context) error
	Disconnect() error
	Connected() bool

	// Read blocks for the next chunk of bytes. A nil chunk with a nil error
	// means the peer closed the connection.
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error

	// Type returns the stream kind, e.g. "tcp_client"
	Type() string
	Stats() Stats
}

// Stats provides stream level statistics
type Stats struct {
	BytesWritten   int64         `json:"bytes_written"`
	BytesRead      int64         `json:"bytes_read"`
	OperationCount int64         `json:"operation_count"`
	ErrorCount     int64         `json:"error_count"`
	LastActivity   time.Time     `json:"last_activity"`
	AverageLatency time.Duration `json:"average_latency"`
	IsConnected    bool          `json:"is_connected"`
}

// statsRecorder is embedded by every stream implementation
type statsRecorder struct {
	mu    sync.Mutex
	stats Stats
}

func (s *statsRecorder) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *statsRecorder) setConnected(connected bool) {
	s.mu.Lock()
	s.stats.IsConnected = connected
	if connected {
		s.stats.LastActivity = time.Now()
	}
	s.mu.Unlock()
}

func (s *statsRecorder) recordRead(n int) {
	s.mu.Lock()
	s.stats.BytesRead += int64(n)
	s.stats.OperationCount++
	s.stats.LastActivity = time.Now()
	s.mu.Unlock()
}

func (s *statsRecorder) recordWrite(n int, latency time.Duration) {
	s.mu.Lock()
	s.stats.BytesWritten += int64(n)
	s.stats.OperationCount++
	s.stats.LastActivity = time.Now()
	// updateAverageLatency
	if s.stats.AverageLatency == 0 {
		s.stats.AverageLatency = latency
	} else {
		s.stats.AverageLatency = (s.stats.AverageLatency + latency) / 2
	}
	s.mu.Unlock()
}

func (s *statsRecorder) recordError() {
	s.mu.Lock()
	s.stats.ErrorCount++
	s.mu.Unlock()
}
