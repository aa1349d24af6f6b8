// internal/protocol/length.go
package protocol

import (
	"fmt"

	"go.uber.org/zap"

	"groundlink/internal/packet"
)

// LengthConfig holds length field framing parameters
type LengthConfig struct {
	BitOffset           int
	BitSize             int
	ValueOffset         int
	BytesPerCount       int
	Endianness          packet.Endianness
	DiscardLeadingBytes int
	SyncPattern         []byte
	MaxLength           *int
	FillFields          bool
	AllowEmptyData      *bool
}

// DefaultLengthConfig returns a 16 bit big endian length field at offset 0
func DefaultLengthConfig() LengthConfig {
	return LengthConfig{
		BitSize:       16,
		BytesPerCount: 1,
		Endianness:    packet.BigEndian,
	}
}

// Length frames packets with a length field inside the frame. The total frame
// size is value*bytes_per_count + value_offset and includes discarded bytes.
type Length struct {
	*Burst
	bitOffset     int
	bitSize       int
	valueOffset   int
	bytesPerCount int
	endianness    packet.Endianness
	maxLength     *int
	bytesNeeded   int
}

// NewLength creates a length protocol
func NewLength(config LengthConfig, logger *zap.Logger) (*Length, error) {
	if config.BitOffset < 0 {
		return nil, fmt.Errorf("%w: length bit offset must not be negative", ErrInvalidConfig)
	}
	if config.BitSize <= 0 || config.BitSize > 64 {
		return nil, fmt.Errorf("%w: invalid length bit size %d", ErrInvalidConfig, config.BitSize)
	}
	if config.BytesPerCount < 1 {
		return nil, fmt.Errorf("%w: bytes per count must be at least 1", ErrInvalidConfig)
	}
	if config.Endianness == "" {
		config.Endianness = packet.BigEndian
	}

	burst, err := newBurst(BurstConfig{
		DiscardLeadingBytes: config.DiscardLeadingBytes,
		SyncPattern:         config.SyncPattern,
		FillFields:          config.FillFields,
		AllowEmptyData:      config.AllowEmptyData,
	}, logger)
	if err != nil {
		return nil, err
	}

	l := &Length{
		Burst:         burst,
		bitOffset:     config.BitOffset,
		bitSize:       config.BitSize,
		valueOffset:   config.ValueOffset,
		bytesPerCount: config.BytesPerCount,
		endianness:    config.Endianness,
		maxLength:     config.MaxLength,
		bytesNeeded:   lengthBytesNeeded(config.BitOffset, config.BitSize, config.Endianness),
	}
	l.reducer = l
	return l, nil
}

// lengthBytesNeeded is the minimum number of bytes that contain the length field.
// Little endian bitfields extend downward from the byte holding the offset.
func lengthBytesNeeded(bitOffset, bitSize int, endianness packet.Endianness) int {
	if endianness == packet.BigEndian || bitOffset%8 == 0 {
		return (bitOffset + bitSize + 7) / 8
	}
	return bitOffset/8 + 1
}

func (l *Length) WritePacket(pkt *packet.Packet) (Result[*packet.Packet], error) {
	discardBits := l.discardLeadingBytes * 8
	if l.fillFields && l.bitOffset >= discardBits {
		length, err := l.calculateLength(len(pkt.Buffer()) + l.discardLeadingBytes)
		if err != nil {
			return Result[*packet.Packet]{}, err
		}
		if err := packet.WriteUint(pkt.Buffer(), l.bitOffset-discardBits, l.bitSize, l.endianness, length); err != nil {
			return Result[*packet.Packet]{}, fmt.Errorf("writing length field: %w", err)
		}
	}
	return l.Burst.WritePacket(pkt)
}

func (l *Length) WriteData(data []byte) (Result[[]byte], error) {
	res, err := l.Burst.WriteData(data)
	if err != nil || !res.Continued() {
		return res, err
	}
	data = res.Value

	if l.fillFields && l.bitOffset < l.discardLeadingBytes*8 {
		length, err := l.calculateLength(len(data))
		if err != nil {
			return Result[[]byte]{}, err
		}
		if err := packet.WriteUint(data, l.bitOffset, l.bitSize, l.endianness, length); err != nil {
			return Result[[]byte]{}, fmt.Errorf("writing length field: %w", err)
		}
	}
	return Continue(data), nil
}

func (l *Length) calculateLength(bufferLength int) (uint64, error) {
	length := bufferLength/l.bytesPerCount - l.valueOffset
	if l.maxLength != nil && length > *l.maxLength {
		return 0, fmt.Errorf("%w: Calculated length %d larger than max_length %d", ErrMaxLength, length, *l.maxLength)
	}
	if length < 0 {
		return 0, fmt.Errorf("%w: Calculated length %d is negative", ErrBadLength, length)
	}
	return uint64(length), nil
}

func (l *Length) reduceToSinglePacket() (Result[[]byte], error) {
	if len(l.data) < l.bytesNeeded {
		return Stop[[]byte](), nil
	}

	length, err := packet.ReadUint(l.data, l.bitOffset, l.bitSize, l.endianness)
	if err != nil {
		return Result[[]byte]{}, fmt.Errorf("reading length field: %w", err)
	}
	if l.maxLength != nil && length > uint64(*l.maxLength) {
		return Result[[]byte]{}, fmt.Errorf("%w: Length value received larger than max_length: %d > %d", ErrMaxLength, length, *l.maxLength)
	}

	packetLength := int(length)*l.bytesPerCount + l.valueOffset
	if packetLength*8 < l.bitOffset+l.bitSize {
		return Result[[]byte]{}, fmt.Errorf("%w: Calculated packet length of %d bits", ErrBadLength, packetLength*8)
	}
	if len(l.data) < packetLength {
		return Stop[[]byte](), nil
	}
	return Continue(l.take(packetLength)), nil
}
