// internal/stream/memory.go
package stream

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process stream. Tests feed it read data and inspect what
// was written; in loopback mode written data is read back.
type Memory struct {
	statsRecorder
	mutex       sync.Mutex
	reads       chan []byte
	written     [][]byte
	closed      chan struct{}
	isOpen      bool
	loopback    bool
	readTimeout time.Duration
	writeErr    error
	connectErr  error
}

// NewMemory creates an in-memory stream
func NewMemory(loopback bool) *Memory {
	return &Memory{
		reads:    make(chan []byte, 1024),
		closed:   make(chan struct{}),
		loopback: loopback,
	}
}

// SetReadTimeout makes Read return ErrReadTimeout after d without data
func (m *Memory) SetReadTimeout(d time.Duration) {
	m.mutex.Lock()
	m.readTimeout = d
	m.mutex.Unlock()
}

// FailConnect makes the next Connect calls return err until cleared with nil
func (m *Memory) FailConnect(err error) {
	m.mutex.Lock()
	m.connectErr = err
	m.mutex.Unlock()
}

// FailWrites makes Write return err until cleared with nil
func (m *Memory) FailWrites(err error) {
	m.mutex.Lock()
	m.writeErr = err
	m.mutex.Unlock()
}

// Feed queues data for a later Read
func (m *Memory) Feed(data []byte) {
	m.reads <- append([]byte{}, data...)
}

// CloseRemote simulates the peer closing: the next Read reports a closed stream
func (m *Memory) CloseRemote() {
	m.reads <- nil
}

// Written returns every chunk written so far
func (m *Memory) Written() [][]byte {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	out := make([][]byte, len(m.written))
	copy(out, m.written)
	return out
}

// Connect opens the stream
func (m *Memory) Connect(ctx context.Context) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.connectErr != nil {
		return m.connectErr
	}
	if !m.isOpen {
		m.closed = make(chan struct{})
		m.isOpen = true
	}
	m.setConnected(true)
	return nil
}

// Disconnect closes the stream and wakes blocked readers
func (m *Memory) Disconnect() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.isOpen {
		close(m.closed)
		m.isOpen = false
	}
	m.setConnected(false)
	return nil
}

// Connected returns whether the stream is open
func (m *Memory) Connected() bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.isOpen
}

// Read returns the next fed chunk
func (m *Memory) Read(ctx context.Context) ([]byte, error) {
	m.mutex.Lock()
	open, closed, timeout := m.isOpen, m.closed, m.readTimeout
	m.mutex.Unlock()

	if !open {
		return nil, ErrNotConnected
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case data := <-m.reads:
		if data != nil {
			m.recordRead(len(data))
		}
		return data, nil
	case <-closed:
		return nil, nil
	case <-expired:
		return nil, ErrReadTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Write records data, echoing it back in loopback mode
func (m *Memory) Write(ctx context.Context, data []byte) error {
	m.mutex.Lock()
	if !m.isOpen {
		m.mutex.Unlock()
		return ErrNotConnected
	}
	if m.writeErr != nil {
		err := m.writeErr
		m.mutex.Unlock()
		m.recordError()
		return err
	}
	chunk := append([]byte{}, data...)
	m.written = append(m.written, chunk)
	loopback := m.loopback
	m.mutex.Unlock()

	m.recordWrite(len(data), 0)
	if loopback {
		m.Feed(chunk)
	}
	return nil
}

// Type returns the stream type
func (m *Memory) Type() string {
	if m.loopback {
		return "loopback"
	}
	return "memory"
}
