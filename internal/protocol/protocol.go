// internal/protocol/protocol.go
package protocol

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"groundlink/internal/packet"
)

// Protocol is one stage of an interface's read and write pipeline.
// Implementations are not safe for concurrent use: the owning interface runs
// the read chain and the resets under one lock.
type Protocol interface {
	// Read path
	ReadData(data []byte) (Result[[]byte], error)
	ReadPacket(pkt *packet.Packet) (Result[*packet.Packet], error)

	// Write path
	WritePacket(pkt *packet.Packet) (Result[*packet.Packet], error)
	WriteData(data []byte) (Result[[]byte], error)
	PostWriteInterface(pkt *packet.Packet, data []byte) (Result[*packet.Packet], []byte, error)

	// State
	Reset()
	ConnectReset()
	DisconnectReset()

	// Bind attaches the protocol to its interface. lastRead is true when the
	// protocol is the last stage of the read chain.
	Bind(owner Owner, lastRead bool)
}

// Owner is the interface a protocol is attached to
type Owner interface {
	Name() string
	TargetNames() []string
	Overrides() *packet.OverrideTable
}

// Direction selects which chains a protocol joins
type Direction string

const (
	DirectionRead      Direction = "READ"
	DirectionWrite     Direction = "WRITE"
	DirectionReadWrite Direction = "READ_WRITE"
)

// ParseDirection parses READ, WRITE or READ_WRITE. An empty string means READ_WRITE.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", string(DirectionReadWrite):
		return DirectionReadWrite, nil
	case string(DirectionRead):
		return DirectionRead, nil
	case string(DirectionWrite):
		return DirectionWrite, nil
	default:
		return "", fmt.Errorf("%w: unknown protocol direction: %s. Must be READ, WRITE, or READ_WRITE", ErrInvalidConfig, s)
	}
}

// Reads reports whether the direction includes the read chain
func (d Direction) Reads() bool { return d == DirectionRead || d == DirectionReadWrite }

// Writes reports whether the direction includes the write chain
func (d Direction) Writes() bool { return d == DirectionWrite || d == DirectionReadWrite }

// Base implements pass-through behavior for every stage.
//
// allowEmptyData nil means automatic: empty data stops the read only when the
// protocol is the last stage of the read chain.
type Base struct {
	allowEmptyData *bool
	owner          Owner
	lastRead       bool
	logger         *zap.Logger
}

func newBase(allowEmptyData *bool, logger *zap.Logger) Base {
	if logger == nil {
		logger = zap.NewNop()
	}
	return Base{allowEmptyData: allowEmptyData, logger: logger}
}

func (b *Base) Bind(owner Owner, lastRead bool) {
	b.owner = owner
	b.lastRead = lastRead
}

func (b *Base) ReadData(data []byte) (Result[[]byte], error) {
	if len(data) == 0 {
		if b.allowEmptyData == nil {
			if b.lastRead {
				return Stop[[]byte](), nil
			}
		} else if !*b.allowEmptyData {
			return Stop[[]byte](), nil
		}
	}
	return Continue(data), nil
}

func (b *Base) ReadPacket(pkt *packet.Packet) (Result[*packet.Packet], error) {
	return Continue(pkt), nil
}

func (b *Base) WritePacket(pkt *packet.Packet) (Result[*packet.Packet], error) {
	return Continue(pkt), nil
}

func (b *Base) WriteData(data []byte) (Result[[]byte], error) {
	return Continue(data), nil
}

func (b *Base) PostWriteInterface(pkt *packet.Packet, data []byte) (Result[*packet.Packet], []byte, error) {
	return Continue(pkt), data, nil
}

func (b *Base) Reset()           {}
func (b *Base) ConnectReset()    {}
func (b *Base) DisconnectReset() {}

func (b *Base) ownerName() string {
	if b.owner == nil {
		return ""
	}
	return b.owner.Name()
}

func (b *Base) targetNames() []string {
	if b.owner == nil {
		return nil
	}
	return b.owner.TargetNames()
}
