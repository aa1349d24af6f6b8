// internal/protocol/preidentified_test.go
package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groundlink/internal/packet"
)

func encodePreidentified(t *testing.T, p *Preidentified, pkt *packet.Packet) []byte {
	t.Helper()
	res, err := p.WritePacket(pkt)
	require.NoError(t, err)
	data, err := p.WriteData(res.Value.Buffer())
	require.NoError(t, err)
	return data.Value
}

func Test_PreidentifiedFrameLayout(t *testing.T) {
	p, err := NewPreidentified(PreidentifiedConfig{}, nil, nil)
	require.NoError(t, err)

	pkt := packet.New("INST", "HEALTH", []byte{0x01, 0x02})
	pkt.ReceivedTime = time.Unix(0x01020304, 5000)

	want := []byte{
		0x01, 0x02, 0x03, 0x04, // seconds
		0x00, 0x00, 0x00, 0x05, // microseconds
		0x04, 'I', 'N', 'S', 'T',
		0x06, 'H', 'E', 'A', 'L', 'T', 'H',
		0x00, 0x00, 0x00, 0x02,
		0x01, 0x02,
	}
	assert.Equal(t, want, encodePreidentified(t, p, pkt))
}

func Test_PreidentifiedRoundTrip(t *testing.T) {
	registry := newTestRegistry(t)
	writer, err := NewPreidentified(PreidentifiedConfig{SyncPattern: []byte{0x1A, 0xCF}}, registry, nil)
	require.NoError(t, err)

	received := time.Unix(1700000000, 123456000)
	pkt := packet.New("INST", "HEALTH", []byte{0x01, 0xFF, 0xFE})
	pkt.ReceivedTime = received
	frame := encodePreidentified(t, writer, pkt)

	reader, err := NewPreidentified(PreidentifiedConfig{SyncPattern: []byte{0x1A, 0xCF}}, registry, nil)
	require.NoError(t, err)
	reader.Bind(newTestOwner(), true)

	// one byte at a time exercises every reduction state
	var frames [][]byte
	for _, b := range append([]byte{0x00}, frame...) {
		frames = append(frames, readAll(t, reader, []byte{b})...)
	}
	require.Len(t, frames, 1)
	assert.Equal(t, []byte{0x01, 0xFF, 0xFE}, frames[0])

	res, err := reader.ReadPacket(packet.New("", "", frames[0]))
	require.NoError(t, err)
	got := res.Value
	assert.Equal(t, "INST", got.TargetName)
	assert.Equal(t, "HEALTH", got.PacketName)
	assert.True(t, received.Equal(got.ReceivedTime))

	temp, err := got.Read("TEMP", packet.Raw)
	require.NoError(t, err)
	assert.Equal(t, int64(-2), temp)
}

func Test_PreidentifiedFlagsMode(t *testing.T) {
	writer, err := NewPreidentified(PreidentifiedConfig{Mode: PreidentifiedModeFlags}, nil, nil)
	require.NoError(t, err)

	pkt := packet.New("INST", "ADCS", []byte{0x02, 0x01})
	pkt.Stored = true
	pkt.Extra = map[string]any{"vcid": "3"}
	frame := encodePreidentified(t, writer, pkt)
	assert.Equal(t, byte(storedFlagMask|extraFlagMask), frame[0])

	reader, err := NewPreidentified(PreidentifiedConfig{Mode: PreidentifiedModeFlags}, nil, nil)
	require.NoError(t, err)
	reader.Bind(newTestOwner(), true)

	frames := readAll(t, reader, frame)
	require.Len(t, frames, 1)

	res, err := reader.ReadPacket(packet.New("", "", frames[0]))
	require.NoError(t, err)
	assert.True(t, res.Value.Stored)
	assert.Equal(t, map[string]any{"vcid": "3"}, res.Value.Extra)

	assert.Empty(t, readAll(t, reader, frame[:5]))
	assert.Equal(t, 4, reader.Buffered())

	reader.ConnectReset()
	assert.Equal(t, 0, reader.Buffered())
	assert.Equal(t, reductionStart, reader.state)
}

func Test_PreidentifiedUnknownNames(t *testing.T) {
	p, err := NewPreidentified(PreidentifiedConfig{}, nil, nil)
	require.NoError(t, err)

	frame := encodePreidentified(t, p, packet.New("", "", []byte{0x01}))
	assert.Equal(t, []byte("UNKNOWN"), frame[9:16])
}

func Test_PreidentifiedMaxLength(t *testing.T) {
	writer, err := NewPreidentified(PreidentifiedConfig{}, nil, nil)
	require.NoError(t, err)
	frame := encodePreidentified(t, writer, packet.New("INST", "HEALTH", make([]byte, 16)))

	reader, err := NewPreidentified(PreidentifiedConfig{MaxLength: intPtr(8)}, nil, nil)
	require.NoError(t, err)

	_, err = reader.ReadData(frame)
	assert.ErrorIs(t, err, ErrMaxLength)
}

func Test_PreidentifiedInvalidMode(t *testing.T) {
	_, err := NewPreidentified(PreidentifiedConfig{Mode: 2}, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func Test_PreidentifiedChunkingConverges(t *testing.T) {
	writer, err := NewPreidentified(PreidentifiedConfig{SyncPattern: []byte{0x1A, 0xCF}}, nil, nil)
	require.NoError(t, err)

	payloads := [][]byte{{0x01, 0x00, 0x10}, {0x02, 0x05}, {0x03}}
	var stream []byte
	for _, payload := range payloads {
		stream = append(stream, encodePreidentified(t, writer, packet.New("INST", "HEALTH", payload))...)
	}

	for _, size := range []int{len(stream), 1, 3, 7} {
		reader, err := NewPreidentified(PreidentifiedConfig{SyncPattern: []byte{0x1A, 0xCF}}, nil, nil)
		require.NoError(t, err)
		reader.Bind(newTestOwner(), true)

		var frames [][]byte
		for start := 0; start < len(stream); start += size {
			end := min(start+size, len(stream))
			frames = append(frames, readAll(t, reader, stream[start:end])...)
		}
		assert.Equal(t, payloads, frames, "chunk size %d", size)
	}
}

func Test_PreidentifiedResetClearsIdentity(t *testing.T) {
	writer, err := NewPreidentified(PreidentifiedConfig{}, nil, nil)
	require.NoError(t, err)
	frame := encodePreidentified(t, writer, packet.New("INST", "HEALTH", []byte{0x01}))

	reader, err := NewPreidentified(PreidentifiedConfig{}, nil, nil)
	require.NoError(t, err)
	reader.Bind(newTestOwner(), true)
	require.Len(t, readAll(t, reader, frame), 1)

	reader.DisconnectReset()
	res, err := reader.ReadPacket(packet.New("", "", []byte{0x01}))
	require.NoError(t, err)
	assert.False(t, res.Value.Identified())
	assert.True(t, res.Value.ReceivedTime.IsZero())
}
