// internal/protocol/length_test.go
package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groundlink/internal/packet"
)

func ccsdsLengthConfig() LengthConfig {
	config := DefaultLengthConfig()
	config.BitOffset = 32
	config.BitSize = 16
	config.ValueOffset = 7
	return config
}

func Test_LengthBytesNeeded(t *testing.T) {
	tests := []struct {
		name       string
		offset     int
		size       int
		endianness packet.Endianness
		want       int
	}{
		{"default field", 0, 16, packet.BigEndian, 2},
		{"ccsds field", 32, 16, packet.BigEndian, 6},
		{"big endian bitfield", 4, 8, packet.BigEndian, 2},
		{"little endian aligned", 8, 16, packet.LittleEndian, 3},
		{"little endian bitfield", 19, 5, packet.LittleEndian, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, lengthBytesNeeded(tt.offset, tt.size, tt.endianness))
		})
	}
}

func Test_LengthReadFrames(t *testing.T) {
	l, err := NewLength(ccsdsLengthConfig(), nil)
	require.NoError(t, err)
	l.Bind(newTestOwner(), true)

	first := []byte{0x08, 0x01, 0xC0, 0x00, 0x00, 0x01, 0xAA, 0xBB}
	second := []byte{0x08, 0x02, 0xC0, 0x01, 0x00, 0x00, 0xCC}

	res, err := l.ReadData(first[:3])
	require.NoError(t, err)
	assert.True(t, res.Stopped())

	chunk := append(append([]byte{}, first[3:]...), second...)
	frames := readAll(t, l, chunk)
	require.Len(t, frames, 2)
	assert.Equal(t, first, frames[0])
	assert.Equal(t, second, frames[1])
	assert.Equal(t, 0, l.Buffered())
}

func Test_LengthByteByByte(t *testing.T) {
	l, err := NewLength(DefaultLengthConfig(), nil)
	require.NoError(t, err)
	l.Bind(newTestOwner(), true)

	frame := []byte{0x00, 0x05, 0x01, 0x02, 0x03}
	var frames [][]byte
	for _, b := range frame {
		frames = append(frames, readAll(t, l, []byte{b})...)
	}
	require.Len(t, frames, 1)
	assert.Equal(t, frame, frames[0])
}

func Test_LengthBytesPerCount(t *testing.T) {
	config := DefaultLengthConfig()
	config.BytesPerCount = 2
	l, err := NewLength(config, nil)
	require.NoError(t, err)
	l.Bind(newTestOwner(), true)

	frames := readAll(t, l, []byte{0x00, 0x02, 0xAA, 0xBB, 0x00, 0x03})
	require.Len(t, frames, 1)
	assert.Equal(t, []byte{0x00, 0x02, 0xAA, 0xBB}, frames[0])
	assert.Equal(t, 2, l.Buffered())
}

func Test_LengthReadErrors(t *testing.T) {
	t.Run("max length", func(t *testing.T) {
		config := DefaultLengthConfig()
		config.MaxLength = intPtr(4)
		l, err := NewLength(config, nil)
		require.NoError(t, err)

		_, err = l.ReadData([]byte{0x00, 0x10, 0x01})
		assert.ErrorIs(t, err, ErrMaxLength)
		assert.Contains(t, err.Error(), "Length value received larger than max_length: 16 > 4")
	})

	t.Run("length shorter than field", func(t *testing.T) {
		l, err := NewLength(DefaultLengthConfig(), nil)
		require.NoError(t, err)

		_, err = l.ReadData([]byte{0x00, 0x01})
		assert.ErrorIs(t, err, ErrBadLength)
	})
}

func Test_LengthInvalidConfig(t *testing.T) {
	config := DefaultLengthConfig()
	config.BitSize = 0
	_, err := NewLength(config, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	config = DefaultLengthConfig()
	config.BytesPerCount = 0
	_, err = NewLength(config, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func Test_LengthFillOnWrite(t *testing.T) {
	t.Run("field inside packet", func(t *testing.T) {
		config := ccsdsLengthConfig()
		config.FillFields = true
		l, err := NewLength(config, nil)
		require.NoError(t, err)

		res, err := l.WritePacket(packet.New("INST", "CMD", make([]byte, 8)))
		require.NoError(t, err)
		assert.Equal(t, []byte{0, 0, 0, 0, 0x00, 0x01, 0, 0}, res.Value.Buffer())
	})

	t.Run("field in discarded header", func(t *testing.T) {
		config := DefaultLengthConfig()
		config.DiscardLeadingBytes = 2
		config.FillFields = true
		l, err := NewLength(config, nil)
		require.NoError(t, err)
		l.Bind(newTestOwner(), true)

		pkt, err := l.WritePacket(packet.New("INST", "CMD", []byte{0xAA, 0xBB, 0xCC}))
		require.NoError(t, err)
		data, err := l.WriteData(pkt.Value.Buffer())
		require.NoError(t, err)
		assert.Equal(t, []byte{0x00, 0x05, 0xAA, 0xBB, 0xCC}, data.Value)

		frames := readAll(t, l, data.Value)
		require.Len(t, frames, 1)
		assert.Equal(t, []byte{0xAA, 0xBB, 0xCC}, frames[0])
	})

	t.Run("max length", func(t *testing.T) {
		config := DefaultLengthConfig()
		config.FillFields = true
		config.MaxLength = intPtr(2)
		l, err := NewLength(config, nil)
		require.NoError(t, err)

		_, err = l.WritePacket(packet.New("INST", "CMD", make([]byte, 4)))
		assert.ErrorIs(t, err, ErrMaxLength)
	})
}

func Test_LengthRoundTrip(t *testing.T) {
	tests := []struct {
		name          string
		bitOffset     int
		bitSize       int
		endianness    packet.Endianness
		valueOffset   int
		bytesPerCount int
		buffer        []byte
		want          uint64
	}{
		{"big endian bitfield", 4, 12, packet.BigEndian, 0, 1, []byte{0xA0, 0x00, 0x11, 0x22, 0x33, 0x44}, 6},
		{"little endian aligned", 8, 16, packet.LittleEndian, 4, 1, []byte{0x55, 0x00, 0x00, 0x01, 0x02, 0x03, 0x04, 0x05}, 4},
		{"little endian bitfield", 19, 5, packet.LittleEndian, 0, 1, []byte{0x01, 0x02, 0x00, 0x00, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0A}, 10},
		{"bytes per count", 8, 8, packet.BigEndian, 0, 2, []byte{0x7E, 0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06}, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultLengthConfig()
			config.BitOffset = tt.bitOffset
			config.BitSize = tt.bitSize
			config.Endianness = tt.endianness
			config.ValueOffset = tt.valueOffset
			config.BytesPerCount = tt.bytesPerCount
			config.FillFields = true
			l, err := NewLength(config, nil)
			require.NoError(t, err)
			l.Bind(newTestOwner(), true)

			pkt, err := l.WritePacket(packet.New("INST", "CMD", append([]byte{}, tt.buffer...)))
			require.NoError(t, err)
			data, err := l.WriteData(pkt.Value.Buffer())
			require.NoError(t, err)
			frame := data.Value
			require.Len(t, frame, len(tt.buffer))

			length, err := packet.ReadUint(frame, tt.bitOffset, tt.bitSize, tt.endianness)
			require.NoError(t, err)
			assert.Equal(t, tt.want, length)

			frames := readAll(t, l, append(append([]byte{}, frame...), frame...))
			assert.Equal(t, [][]byte{frame, frame}, frames)
		})
	}
}
