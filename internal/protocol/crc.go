// internal/protocol/crc.go
package protocol

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"groundlink/internal/packet"
)

// BadCRCStrategy selects what happens on a CRC mismatch
type BadCRCStrategy string

const (
	BadCRCError      BadCRCStrategy = "ERROR"
	BadCRCDisconnect BadCRCStrategy = "DISCONNECT"
)

// CRCErrorFlag is set in packet.Extra when a packet failed its CRC check
const CRCErrorFlag = "CRC_ERROR"

// CRCConfig holds CRC parameters. Nil algorithm fields take the width default.
type CRCConfig struct {
	WriteItemName  string
	StripCRC       bool
	BadStrategy    BadCRCStrategy
	BitOffset      int
	BitSize        int
	Endianness     packet.Endianness
	Poly           *uint64
	Seed           *uint64
	Xor            *bool
	Reflect        *bool
	AllowEmptyData *bool
}

// DefaultCRCConfig returns a trailing big endian CRC-32
func DefaultCRCConfig() CRCConfig {
	return CRCConfig{
		BadStrategy: BadCRCError,
		BitOffset:   -32,
		BitSize:     32,
		Endianness:  packet.BigEndian,
	}
}

// CRC validates and generates checksums
type CRC struct {
	Base
	writeItemName string
	stripCRC      bool
	badStrategy   BadCRCStrategy
	bitOffset     int
	bitSize       int
	endianness    packet.Endianness
	checksum      Checksum

	lastBad bool
}

// NewCRC creates a CRC protocol
func NewCRC(config CRCConfig, logger *zap.Logger) (*CRC, error) {
	strategy := BadCRCStrategy(strings.ToUpper(string(config.BadStrategy)))
	switch strategy {
	case "":
		strategy = BadCRCError
	case BadCRCError, BadCRCDisconnect:
	default:
		return nil, fmt.Errorf("%w: Invalid bad CRC strategy of %s. Must be ERROR or DISCONNECT.", ErrInvalidConfig, config.BadStrategy)
	}
	if config.BitOffset%8 != 0 {
		return nil, fmt.Errorf("%w: Invalid bit offset of %d. Must be divisible by 8.", ErrInvalidConfig, config.BitOffset)
	}
	if config.Endianness == "" {
		config.Endianness = packet.BigEndian
	}

	params, err := DefaultChecksumParams(config.BitSize)
	if err != nil {
		return nil, err
	}
	if config.Poly != nil {
		params.Poly = *config.Poly
	}
	if config.Seed != nil {
		params.Seed = *config.Seed
	}
	if config.Xor != nil {
		params.Xor = *config.Xor
	}
	if config.Reflect != nil {
		params.Reflect = *config.Reflect
	}
	checksum, err := NewChecksum(params)
	if err != nil {
		return nil, err
	}

	return &CRC{
		Base:          newBase(config.AllowEmptyData, logger),
		writeItemName: strings.ToUpper(config.WriteItemName),
		stripCRC:      config.StripCRC,
		badStrategy:   strategy,
		bitOffset:     config.BitOffset,
		bitSize:       config.BitSize,
		endianness:    config.Endianness,
		checksum:      checksum,
	}, nil
}

// resolveByte turns a possibly negative byte index into an absolute one
func resolveByte(index, length int) int {
	if index < 0 {
		return index + length
	}
	return index
}

func (c *CRC) readCRC(data []byte) (uint64, error) {
	if c.bitSize == 64 {
		high, err := packet.ReadUint(data, c.bitOffset, 32, c.endianness)
		if err != nil {
			return 0, err
		}
		low, err := packet.ReadUint(data, c.bitOffset+32, 32, c.endianness)
		if err != nil {
			return 0, err
		}
		return high<<32 | low, nil
	}
	return packet.ReadUint(data, c.bitOffset, c.bitSize, c.endianness)
}

func (c *CRC) ReadData(data []byte) (Result[[]byte], error) {
	if len(data) == 0 {
		return c.Base.ReadData(data)
	}

	found, err := c.readCRC(data)
	if err != nil {
		return Result[[]byte]{}, fmt.Errorf("reading CRC: %w", err)
	}
	end := resolveByte(c.bitOffset/8, len(data))
	calculated := c.checksum.Calc(data[:end])

	c.lastBad = false
	if calculated != found {
		c.logger.Error(fmt.Sprintf("Invalid CRC detected! Calculated 0x%X vs found 0x%X.", calculated, found),
			zap.String("interface", c.ownerName()),
		)
		if c.badStrategy == BadCRCDisconnect {
			return Disconnect[[]byte](), nil
		}
		c.lastBad = true
	}

	if c.stripCRC {
		stripped := make([]byte, 0, len(data))
		stripped = append(stripped, data[:end]...)
		if endRange := (c.bitOffset + c.bitSize) / 8; endRange != 0 {
			stripped = append(stripped, data[resolveByte(endRange, len(data)):]...)
		}
		return Continue(stripped), nil
	}
	return Continue(data), nil
}

func (c *CRC) ReadPacket(pkt *packet.Packet) (Result[*packet.Packet], error) {
	if c.lastBad {
		c.lastBad = false
		if pkt.Extra == nil {
			pkt.Extra = make(map[string]any)
		}
		pkt.Extra[CRCErrorFlag] = true
	}
	return Continue(pkt), nil
}

func (c *CRC) WritePacket(pkt *packet.Packet) (Result[*packet.Packet], error) {
	if c.writeItemName == "" {
		return Continue(pkt), nil
	}

	item, err := pkt.Item(c.writeItemName)
	if err != nil {
		return Result[*packet.Packet]{}, err
	}
	buf := pkt.Buffer()
	end := resolveByte(item.BitOffset/8, len(buf))
	if end < 0 || end > len(buf) {
		return Result[*packet.Packet]{}, fmt.Errorf("%w: CRC item %s outside of packet", packet.ErrOutOfRange, item.Name)
	}
	if err := pkt.WriteItem(item, c.checksum.Calc(buf[:end]), packet.Raw); err != nil {
		return Result[*packet.Packet]{}, err
	}
	return Continue(pkt), nil
}

func (c *CRC) WriteData(data []byte) (Result[[]byte], error) {
	if c.writeItemName != "" {
		return Continue(data), nil
	}

	crc := c.checksum.Calc(data)
	out := make([]byte, len(data)+c.bitSize/8)
	copy(out, data)
	if c.bitSize == 64 {
		if err := packet.WriteUint(out, -64, 32, c.endianness, crc>>32); err != nil {
			return Result[[]byte]{}, err
		}
		if err := packet.WriteUint(out, -32, 32, c.endianness, crc&0xFFFFFFFF); err != nil {
			return Result[[]byte]{}, err
		}
		return Continue(out), nil
	}
	if err := packet.WriteUint(out, -c.bitSize, c.bitSize, c.endianness, crc); err != nil {
		return Result[[]byte]{}, err
	}
	return Continue(out), nil
}
