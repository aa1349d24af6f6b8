// internal/protocol/fixed.go
package protocol

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"groundlink/internal/packet"
)

// FixedConfig holds fixed length framing parameters
type FixedConfig struct {
	// MinIDSize is the number of bytes needed before identification. Zero derives
	// it from the id items of the interface targets.
	MinIDSize           int
	DiscardLeadingBytes int
	SyncPattern         []byte
	Telemetry           bool
	FillFields          bool
	UnknownRaise        bool
	AllowEmptyData      *bool
}

// Fixed frames self identifying packets of statically known length
type Fixed struct {
	*Burst
	minIDSize    int
	kind         packet.Kind
	unknownRaise bool
	registry     *packet.Registry

	receivedTime time.Time
	targetName   string
	packetName   string
}

// NewFixed creates a fixed protocol identifying against the registry
func NewFixed(config FixedConfig, registry *packet.Registry, logger *zap.Logger) (*Fixed, error) {
	if registry == nil {
		return nil, fmt.Errorf("%w: fixed protocol requires a packet registry", ErrInvalidConfig)
	}
	if config.MinIDSize < 0 {
		return nil, fmt.Errorf("%w: min_id_size must not be negative", ErrInvalidConfig)
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

	kind := packet.Command
	if config.Telemetry {
		kind = packet.Telemetry
	}
	f := &Fixed{
		Burst:        burst,
		minIDSize:    config.MinIDSize,
		kind:         kind,
		unknownRaise: config.UnknownRaise,
		registry:     registry,
	}
	f.reducer = f
	return f, nil
}

// Reset drops buffered bytes and the identity of the last frame
func (f *Fixed) Reset() {
	f.Burst.Reset()
	f.receivedTime = time.Time{}
	f.targetName = ""
	f.packetName = ""
}

func (f *Fixed) ConnectReset()    { f.Reset() }
func (f *Fixed) DisconnectReset() { f.Reset() }

func (f *Fixed) ReadPacket(pkt *packet.Packet) (Result[*packet.Packet], error) {
	if f.targetName == "" {
		return Continue(pkt), nil
	}
	pkt.TargetName = f.targetName
	pkt.PacketName = f.packetName
	pkt.ReceivedTime = f.receivedTime
	return Continue(define(f.registry, f.kind, pkt)), nil
}

func (f *Fixed) reduceToSinglePacket() (Result[[]byte], error) {
	targets := f.targetNames()
	minIDSize := f.minIDSize
	if minIDSize == 0 {
		minIDSize = f.registry.MinIDSize(f.kind, targets) + f.discardLeadingBytes
	}
	if len(f.data) == 0 || len(f.data) < minIDSize {
		return Stop[[]byte](), nil
	}
	return f.identifyAndFinishPacket(targets)
}

func (f *Fixed) identifyAndFinishPacket(targets []string) (Result[[]byte], error) {
	var def *packet.Packet
	if len(f.data) > f.discardLeadingBytes {
		def = f.registry.Identify(f.kind, f.data[f.discardLeadingBytes:], targets)
	}

	if def != nil {
		length := def.DefinedLength() + f.discardLeadingBytes
		if length > len(f.data) {
			return Stop[[]byte](), nil
		}
		if length == f.discardLeadingBytes {
			length = len(f.data)
		}
		f.receivedTime = time.Now()
		f.targetName = def.TargetName
		f.packetName = def.PacketName
		return Continue(f.take(length)), nil
	}

	if f.unknownRaise {
		return Result[[]byte]{}, fmt.Errorf("%w: Unknown data received by FixedProtocol", ErrUnknownPacket)
	}
	f.receivedTime = time.Time{}
	f.targetName = ""
	f.packetName = ""
	return Continue(f.take(len(f.data))), nil
}

// define gives an identified packet the registry layout of its definition
func define(registry *packet.Registry, kind packet.Kind, pkt *packet.Packet) *packet.Packet {
	if registry == nil || !pkt.Identified() || len(pkt.Items()) > 0 {
		return pkt
	}
	def, err := registry.Definition(kind, pkt.TargetName, pkt.PacketName)
	if err != nil {
		return pkt
	}
	defined := def.Clone()
	defined.SetBuffer(pkt.Buffer())
	defined.ReceivedTime = pkt.ReceivedTime
	defined.ReceivedCount = pkt.ReceivedCount
	defined.Stored = pkt.Stored
	defined.Extra = pkt.Extra
	return defined
}
