// internal/protocol/burst.go
package protocol

import (
	"bytes"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"groundlink/internal/packet"
)

type syncState int

const (
	syncSearching syncState = iota
	syncFound
)

// reducer cuts one frame out of the accumulated bytes. Protocols built on Burst
// install themselves so Burst.ReadData dispatches to their framing rule.
type reducer interface {
	reduceToSinglePacket() (Result[[]byte], error)
}

// BurstConfig holds burst framing parameters
type BurstConfig struct {
	DiscardLeadingBytes int
	SyncPattern         []byte
	FillFields          bool
	AllowEmptyData      *bool
}

// Burst treats all available bytes as one frame, optionally after locating a
// sync pattern
type Burst struct {
	Base
	discardLeadingBytes int
	syncPattern         []byte
	fillFields          bool

	data      []byte
	syncState syncState
	reducer   reducer
}

// NewBurst creates a burst protocol
func NewBurst(config BurstConfig, logger *zap.Logger) (*Burst, error) {
	b, err := newBurst(config, logger)
	if err != nil {
		return nil, err
	}
	b.reducer = b
	return b, nil
}

func newBurst(config BurstConfig, logger *zap.Logger) (*Burst, error) {
	if config.DiscardLeadingBytes < 0 {
		return nil, fmt.Errorf("%w: discard_leading_bytes must not be negative", ErrInvalidConfig)
	}
	b := &Burst{
		Base:                newBase(config.AllowEmptyData, logger),
		discardLeadingBytes: config.DiscardLeadingBytes,
		syncPattern:         config.SyncPattern,
		fillFields:          config.FillFields,
	}
	b.Reset()
	return b, nil
}

func (b *Burst) Reset() {
	b.data = nil
	b.syncState = syncSearching
}

func (b *Burst) ConnectReset()    { b.Reset() }
func (b *Burst) DisconnectReset() { b.Reset() }

// Buffered returns the number of bytes waiting for a complete frame
func (b *Burst) Buffered() int {
	return len(b.data)
}

func (b *Burst) ReadData(data []byte) (Result[[]byte], error) {
	b.data = append(b.data, data...)

	if b.handleSyncPattern() && len(data) > 0 {
		return Stop[[]byte](), nil
	}

	res, err := b.reducer.reduceToSinglePacket()
	if err != nil {
		return res, err
	}
	if !res.Continued() {
		if len(data) == 0 && res.Stopped() {
			return b.Base.ReadData(data)
		}
		return res, nil
	}

	b.syncState = syncSearching
	frame := res.Value
	if b.discardLeadingBytes > 0 {
		if b.discardLeadingBytes >= len(frame) {
			frame = frame[:0]
		} else {
			frame = frame[b.discardLeadingBytes:]
		}
	}
	return Continue(frame), nil
}

func (b *Burst) WritePacket(pkt *packet.Packet) (Result[*packet.Packet], error) {
	if b.fillFields && len(b.syncPattern) > 0 && b.discardLeadingBytes == 0 {
		buf := pkt.Buffer()
		if len(buf) < len(b.syncPattern) {
			grown := make([]byte, len(b.syncPattern))
			copy(grown, buf)
			buf = grown
		}
		copy(buf, b.syncPattern)
		pkt.SetBuffer(buf)
	}
	return Continue(pkt), nil
}

func (b *Burst) WriteData(data []byte) (Result[[]byte], error) {
	if b.fillFields && b.discardLeadingBytes > 0 {
		filled := make([]byte, b.discardLeadingBytes, b.discardLeadingBytes+len(data))
		filled = append(filled, data...)
		if len(b.syncPattern) > 0 {
			if len(filled) < len(b.syncPattern) {
				grown := make([]byte, len(b.syncPattern))
				copy(grown, filled)
				filled = grown
			}
			copy(filled, b.syncPattern)
		}
		data = filled
	}
	return b.Base.WriteData(data)
}

// handleSyncPattern searches for the sync pattern and reports whether the read
// must stop for more data
func (b *Burst) handleSyncPattern() bool {
	if len(b.syncPattern) == 0 || b.syncState != syncSearching {
		return false
	}

	for {
		if len(b.data) < len(b.syncPattern) {
			return true
		}

		idx := bytes.IndexByte(b.data, b.syncPattern[0])
		if idx < 0 {
			b.logDiscard(len(b.data), false)
			b.data = b.data[:0]
			return true
		}
		if len(b.data) < idx+len(b.syncPattern) {
			return true
		}

		if bytes.Equal(b.data[idx:idx+len(b.syncPattern)], b.syncPattern) {
			if idx != 0 {
				b.logDiscard(idx, true)
				b.data = b.data[idx:]
			}
			b.syncState = syncFound
			return false
		}

		b.logDiscard(idx+1, false)
		b.data = b.data[idx+1:]
	}
}

func (b *Burst) logDiscard(length int, found bool) {
	state := "found"
	if !found {
		state = "not found"
	}
	b.logger.Error(fmt.Sprintf("Sync %s. Discarding %d bytes of data.", state, length),
		zap.String("interface", b.ownerName()),
		zap.String("starting", startingBytes(b.data)),
	)
}

// startingBytes formats the first six buffered bytes, zero filled
func startingBytes(data []byte) string {
	parts := make([]string, 6)
	for i := range parts {
		var v byte
		if i < len(data) {
			v = data[i]
		}
		parts[i] = fmt.Sprintf("0x%02X", v)
	}
	return strings.Join(parts, " ")
}

// take removes and returns a copy of the first n buffered bytes
func (b *Burst) take(n int) []byte {
	frame := make([]byte, n)
	copy(frame, b.data[:n])
	b.data = b.data[n:]
	return frame
}

func (b *Burst) reduceToSinglePacket() (Result[[]byte], error) {
	if len(b.data) == 0 {
		return Stop[[]byte](), nil
	}
	frame := b.data
	b.data = nil
	return Continue(frame), nil
}
