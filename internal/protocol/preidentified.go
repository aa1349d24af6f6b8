// internal/protocol/preidentified.go
package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"groundlink/internal/packet"
)

const (
	storedFlagMask = 0x80
	extraFlagMask  = 0x40

	// PreidentifiedModeFlags adds a flags byte after the sync pattern
	PreidentifiedModeFlags = 4
)

type reductionState int

const (
	reductionStart reductionState = iota
	reductionSyncRemoved
	reductionNeedExtra
	reductionFlagsRemoved
	reductionTimeRemoved
	reductionTargetNameRemoved
	reductionPacketNameRemoved
)

// PreidentifiedConfig holds preidentified framing parameters
type PreidentifiedConfig struct {
	SyncPattern    []byte
	MaxLength      *int
	Mode           int
	AllowEmptyData *bool
}

// Preidentified carries the received time, target name and packet name with
// every frame:
//
//	[sync][4B seconds][4B microseconds][1B len][target][1B len][packet][4B len][payload]
//
// Mode 4 inserts a flags byte after the sync pattern, optionally followed by a
// 4 byte length and a JSON object of extra values.
type Preidentified struct {
	*Burst
	maxLength *int
	mode      int
	registry  *packet.Registry

	state            reductionState
	readReceivedTime time.Time
	readTargetName   string
	readPacketName   string
	readStored       bool
	readExtra        map[string]any

	writeSeconds      uint32
	writeMicroseconds uint32
	writeTargetName   string
	writePacketName   string
	writeFlags        byte
	writeExtra        []byte
}

// NewPreidentified creates a preidentified protocol. The registry is optional and
// gives received packets their telemetry layout.
func NewPreidentified(config PreidentifiedConfig, registry *packet.Registry, logger *zap.Logger) (*Preidentified, error) {
	if config.Mode != 0 && config.Mode != PreidentifiedModeFlags {
		return nil, fmt.Errorf("%w: unsupported preidentified mode %d", ErrInvalidConfig, config.Mode)
	}

	burst, err := newBurst(BurstConfig{
		SyncPattern:    config.SyncPattern,
		AllowEmptyData: config.AllowEmptyData,
	}, logger)
	if err != nil {
		return nil, err
	}

	p := &Preidentified{
		Burst:     burst,
		maxLength: config.MaxLength,
		mode:      config.Mode,
		registry:  registry,
	}
	p.reducer = p
	return p, nil
}

func (p *Preidentified) Reset() {
	p.Burst.Reset()
	p.state = reductionStart
	p.readReceivedTime = time.Time{}
	p.readTargetName = ""
	p.readPacketName = ""
	p.readStored = false
	p.readExtra = nil
}

func (p *Preidentified) ConnectReset()    { p.Reset() }
func (p *Preidentified) DisconnectReset() { p.Reset() }

func (p *Preidentified) ReadPacket(pkt *packet.Packet) (Result[*packet.Packet], error) {
	pkt.ReceivedTime = p.readReceivedTime
	pkt.TargetName = p.readTargetName
	pkt.PacketName = p.readPacketName
	if p.mode == PreidentifiedModeFlags {
		pkt.Stored = p.readStored
		pkt.Extra = p.readExtra
	}
	return Continue(define(p.registry, packet.Telemetry, pkt)), nil
}

func (p *Preidentified) WritePacket(pkt *packet.Packet) (Result[*packet.Packet], error) {
	receivedTime := pkt.ReceivedTime
	if receivedTime.IsZero() {
		receivedTime = time.Now()
	}
	p.writeSeconds = uint32(receivedTime.Unix())
	p.writeMicroseconds = uint32(receivedTime.Nanosecond() / 1000)

	p.writeTargetName = pkt.TargetName
	if p.writeTargetName == "" {
		p.writeTargetName = "UNKNOWN"
	}
	p.writePacketName = pkt.PacketName
	if p.writePacketName == "" {
		p.writePacketName = "UNKNOWN"
	}

	if p.mode == PreidentifiedModeFlags {
		p.writeFlags = 0
		if pkt.Stored {
			p.writeFlags |= storedFlagMask
		}
		p.writeExtra = nil
		if pkt.Extra != nil {
			extra, err := json.Marshal(pkt.Extra)
			if err != nil {
				return Result[*packet.Packet]{}, fmt.Errorf("encoding extra: %w", err)
			}
			p.writeFlags |= extraFlagMask
			p.writeExtra = extra
		}
	}
	return Continue(pkt), nil
}

func (p *Preidentified) WriteData(data []byte) (Result[[]byte], error) {
	if len(p.writeTargetName) > 255 || len(p.writePacketName) > 255 {
		return Result[[]byte]{}, fmt.Errorf("%w: target and packet names are limited to 255 bytes", ErrBadLength)
	}

	out := make([]byte, 0, len(p.syncPattern)+len(p.writeExtra)+len(p.writeTargetName)+len(p.writePacketName)+len(data)+19)
	out = append(out, p.syncPattern...)
	if p.mode == PreidentifiedModeFlags {
		out = append(out, p.writeFlags)
		if p.writeExtra != nil {
			out = binary.BigEndian.AppendUint32(out, uint32(len(p.writeExtra)))
			out = append(out, p.writeExtra...)
		}
	}
	out = binary.BigEndian.AppendUint32(out, p.writeSeconds)
	out = binary.BigEndian.AppendUint32(out, p.writeMicroseconds)
	out = append(out, byte(len(p.writeTargetName)))
	out = append(out, p.writeTargetName...)
	out = append(out, byte(len(p.writePacketName)))
	out = append(out, p.writePacketName...)
	out = binary.BigEndian.AppendUint32(out, uint32(len(data)))
	out = append(out, data...)
	return Continue(out), nil
}

// readLengthPrefixed reads a 1 or 4 byte big endian length followed by that many bytes
func (p *Preidentified) readLengthPrefixed(lengthBytes int) ([]byte, bool, error) {
	if len(p.data) < lengthBytes {
		return nil, false, nil
	}

	var length int
	switch lengthBytes {
	case 1:
		length = int(p.data[0])
	case 4:
		n := binary.BigEndian.Uint32(p.data)
		if p.maxLength != nil && int64(n) > int64(*p.maxLength) {
			return nil, false, fmt.Errorf("%w: Length value received larger than max_length: %d > %d", ErrMaxLength, n, *p.maxLength)
		}
		length = int(n)
	default:
		return nil, false, fmt.Errorf("unsupported length field size: %d", lengthBytes)
	}

	if len(p.data) < lengthBytes+length {
		return nil, false, nil
	}
	p.data = p.data[lengthBytes:]
	return p.take(length), true, nil
}

func (p *Preidentified) reduceToSinglePacket() (Result[[]byte], error) {
	if p.state == reductionStart {
		if len(p.syncPattern) > 0 {
			if len(p.data) < len(p.syncPattern) {
				return Stop[[]byte](), nil
			}
			p.data = p.data[len(p.syncPattern):]
		}
		p.state = reductionSyncRemoved
	}

	if p.state == reductionSyncRemoved && p.mode == PreidentifiedModeFlags {
		if len(p.data) < 1 {
			return Stop[[]byte](), nil
		}
		flags := p.data[0]
		p.data = p.data[1:]
		p.readStored = flags&storedFlagMask != 0
		p.readExtra = nil
		if flags&extraFlagMask != 0 {
			p.state = reductionNeedExtra
		} else {
			p.state = reductionFlagsRemoved
		}
	}

	if p.state == reductionNeedExtra {
		extra, ok, err := p.readLengthPrefixed(4)
		if err != nil {
			return Result[[]byte]{}, err
		}
		if !ok {
			return Stop[[]byte](), nil
		}
		if err := json.Unmarshal(extra, &p.readExtra); err != nil {
			return Result[[]byte]{}, fmt.Errorf("decoding extra: %w", err)
		}
		p.state = reductionFlagsRemoved
	}

	if p.state == reductionFlagsRemoved || (p.state == reductionSyncRemoved && p.mode != PreidentifiedModeFlags) {
		if len(p.data) < 8 {
			return Stop[[]byte](), nil
		}
		seconds := binary.BigEndian.Uint32(p.data[0:4])
		microseconds := binary.BigEndian.Uint32(p.data[4:8])
		p.readReceivedTime = time.Unix(int64(seconds), int64(microseconds)*1000)
		p.data = p.data[8:]
		p.state = reductionTimeRemoved
	}

	if p.state == reductionTimeRemoved {
		name, ok, err := p.readLengthPrefixed(1)
		if err != nil {
			return Result[[]byte]{}, err
		}
		if !ok {
			return Stop[[]byte](), nil
		}
		p.readTargetName = string(name)
		p.state = reductionTargetNameRemoved
	}

	if p.state == reductionTargetNameRemoved {
		name, ok, err := p.readLengthPrefixed(1)
		if err != nil {
			return Result[[]byte]{}, err
		}
		if !ok {
			return Stop[[]byte](), nil
		}
		p.readPacketName = string(name)
		p.state = reductionPacketNameRemoved
	}

	if p.state == reductionPacketNameRemoved {
		payload, ok, err := p.readLengthPrefixed(4)
		if err != nil {
			return Result[[]byte]{}, err
		}
		if !ok {
			return Stop[[]byte](), nil
		}
		p.state = reductionStart
		return Continue(payload), nil
	}

	return Result[[]byte]{}, fmt.Errorf("unexpected reduction state %d", p.state)
}
