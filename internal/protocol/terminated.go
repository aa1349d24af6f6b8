// internal/protocol/terminated.go
package protocol

import (
	"bytes"
	"fmt"

	"go.uber.org/zap"
)

// TerminatedConfig holds termination framing parameters
type TerminatedConfig struct {
	WriteTermination     []byte
	ReadTermination      []byte
	StripReadTermination bool
	DiscardLeadingBytes  int
	SyncPattern          []byte
	FillFields           bool
	AllowEmptyData       *bool
}

// Terminated frames packets with a termination sequence
type Terminated struct {
	*Burst
	writeTermination     []byte
	readTermination      []byte
	stripReadTermination bool
}

// NewTerminated creates a terminated protocol
func NewTerminated(config TerminatedConfig, logger *zap.Logger) (*Terminated, error) {
	t, err := newTerminated(config, logger)
	if err != nil {
		return nil, err
	}
	t.reducer = t
	return t, nil
}

func newTerminated(config TerminatedConfig, logger *zap.Logger) (*Terminated, error) {
	if len(config.WriteTermination) == 0 && len(config.ReadTermination) == 0 {
		return nil, fmt.Errorf("%w: write or read termination characters are required", ErrInvalidConfig)
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

	return &Terminated{
		Burst:                burst,
		writeTermination:     config.WriteTermination,
		readTermination:      config.ReadTermination,
		stripReadTermination: config.StripReadTermination,
	}, nil
}

func (t *Terminated) WriteData(data []byte) (Result[[]byte], error) {
	res, err := t.Burst.WriteData(data)
	if err != nil || !res.Continued() {
		return res, err
	}
	data = res.Value

	if len(t.writeTermination) == 0 {
		return Continue(data), nil
	}
	if bytes.Contains(data, t.writeTermination) {
		return Result[[]byte]{}, fmt.Errorf("%w: Packet contains termination characters!", ErrTerminatorInPayload)
	}
	out := make([]byte, 0, len(data)+len(t.writeTermination))
	out = append(out, data...)
	out = append(out, t.writeTermination...)
	return Continue(out), nil
}

func (t *Terminated) reduceToSinglePacket() (Result[[]byte], error) {
	if len(t.readTermination) == 0 {
		return Result[[]byte]{}, fmt.Errorf("%w: read termination characters are not configured", ErrInvalidConfig)
	}

	idx := bytes.Index(t.data, t.readTermination)
	if idx < 0 {
		return Stop[[]byte](), nil
	}
	if t.stripReadTermination {
		frame := t.take(idx)
		t.data = t.data[len(t.readTermination):]
		return Continue(frame), nil
	}
	return Continue(t.take(idx + len(t.readTermination))), nil
}
