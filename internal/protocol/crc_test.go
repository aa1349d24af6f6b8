// internal/protocol/crc_test.go
package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groundlink/internal/packet"
)

var checkInput = []byte("123456789")

func Test_ChecksumCheckValues(t *testing.T) {
	tests := []struct {
		width int
		want  uint64
	}{
		{16, 0x29B1},
		{32, 0xCBF43926},
		{64, 0x995DC9BBDF1939FA},
	}

	for _, tt := range tests {
		params, err := DefaultChecksumParams(tt.width)
		require.NoError(t, err)
		checksum, err := NewChecksum(params)
		require.NoError(t, err)
		assert.Equal(t, tt.want, checksum.Calc(checkInput), "width %d", tt.width)
	}

	_, err := DefaultChecksumParams(8)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewChecksum(ChecksumParams{Width: 16, Poly: 0x11021})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func Test_CRCWriteData(t *testing.T) {
	tests := []struct {
		name       string
		bitSize    int
		endianness packet.Endianness
		want       []byte
	}{
		{"crc16 big endian", 16, packet.BigEndian, []byte{0x29, 0xB1}},
		{"crc16 little endian", 16, packet.LittleEndian, []byte{0xB1, 0x29}},
		{"crc32", 32, packet.BigEndian, []byte{0xCB, 0xF4, 0x39, 0x26}},
		{"crc64", 64, packet.BigEndian, []byte{0x99, 0x5D, 0xC9, 0xBB, 0xDF, 0x19, 0x39, 0xFA}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultCRCConfig()
			config.BitSize = tt.bitSize
			config.BitOffset = -tt.bitSize
			config.Endianness = tt.endianness
			c, err := NewCRC(config, nil)
			require.NoError(t, err)

			res, err := c.WriteData(checkInput)
			require.NoError(t, err)
			assert.Equal(t, append(append([]byte{}, checkInput...), tt.want...), res.Value)

			read, err := c.ReadData(res.Value)
			require.NoError(t, err)
			require.True(t, read.Continued())

			pkt, err := c.ReadPacket(packet.New("", "", read.Value))
			require.NoError(t, err)
			assert.Nil(t, pkt.Value.Extra)
		})
	}
}

func Test_CRCStrip(t *testing.T) {
	config := DefaultCRCConfig()
	config.StripCRC = true
	c, err := NewCRC(config, nil)
	require.NoError(t, err)

	framed, err := c.WriteData(checkInput)
	require.NoError(t, err)

	res, err := c.ReadData(framed.Value)
	require.NoError(t, err)
	assert.Equal(t, checkInput, res.Value)
}

func Test_CRCStripInsideFrame(t *testing.T) {
	config := DefaultCRCConfig()
	config.BitSize = 16
	config.BitOffset = -24
	config.StripCRC = true
	c, err := NewCRC(config, nil)
	require.NoError(t, err)

	frame := append(append([]byte{}, checkInput...), 0x29, 0xB1, 0x0A)
	res, err := c.ReadData(frame)
	require.NoError(t, err)
	assert.Equal(t, append(append([]byte{}, checkInput...), 0x0A), res.Value)
}

func Test_CRCBadStrategies(t *testing.T) {
	bad := append(append([]byte{}, checkInput...), 0x00, 0x00, 0x00, 0x00)

	t.Run("error flags the packet", func(t *testing.T) {
		logger, logs := newObservedLogger()
		c, err := NewCRC(DefaultCRCConfig(), logger)
		require.NoError(t, err)
		c.Bind(newTestOwner(), true)

		res, err := c.ReadData(bad)
		require.NoError(t, err)
		require.True(t, res.Continued())
		assert.Equal(t, 1, logs.FilterMessage("Invalid CRC detected! Calculated 0xCBF43926 vs found 0x0.").Len())

		pkt, err := c.ReadPacket(packet.New("", "", res.Value))
		require.NoError(t, err)
		assert.Equal(t, true, pkt.Value.Extra[CRCErrorFlag])

		next, err := c.ReadPacket(packet.New("", "", res.Value))
		require.NoError(t, err)
		assert.Nil(t, next.Value.Extra)
	})

	t.Run("disconnect", func(t *testing.T) {
		config := DefaultCRCConfig()
		config.BadStrategy = "disconnect"
		c, err := NewCRC(config, nil)
		require.NoError(t, err)

		res, err := c.ReadData(bad)
		require.NoError(t, err)
		assert.True(t, res.Disconnected())
	})
}

func Test_CRCWriteItem(t *testing.T) {
	r := newTestRegistry(t)
	config := DefaultCRCConfig()
	config.WriteItemName = "crc"
	config.BitSize = 16
	config.BitOffset = -16
	c, err := NewCRC(config, nil)
	require.NoError(t, err)

	cmd, err := r.Packet(packet.Command, "INST", "SET_MODE")
	require.NoError(t, err)
	require.NoError(t, cmd.Write("MODE", 3, packet.Raw))

	res, err := c.WritePacket(cmd)
	require.NoError(t, err)

	params, err := DefaultChecksumParams(16)
	require.NoError(t, err)
	checksum, err := NewChecksum(params)
	require.NoError(t, err)
	value, err := res.Value.Read("CRC", packet.Raw)
	require.NoError(t, err)
	assert.Equal(t, checksum.Calc([]byte{7, 3}), value)

	data, err := c.WriteData(res.Value.Buffer())
	require.NoError(t, err)
	assert.Len(t, data.Value, 4)

	read, err := c.ReadData(data.Value)
	require.NoError(t, err)
	pkt, err := c.ReadPacket(packet.New("", "", read.Value))
	require.NoError(t, err)
	assert.Nil(t, pkt.Value.Extra)
}

func Test_CRCInvalidConfig(t *testing.T) {
	config := DefaultCRCConfig()
	config.BadStrategy = "IGNORE"
	_, err := NewCRC(config, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	config = DefaultCRCConfig()
	config.BitOffset = -30
	_, err = NewCRC(config, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "Invalid bit offset of -30. Must be divisible by 8.")

	config = DefaultCRCConfig()
	config.BitSize = 24
	_, err = NewCRC(config, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func Test_CRCDetectsSingleByteErrors(t *testing.T) {
	for _, width := range []int{16, 32, 64} {
		config := DefaultCRCConfig()
		config.BitSize = width
		config.BitOffset = -width
		config.BadStrategy = BadCRCDisconnect
		c, err := NewCRC(config, nil)
		require.NoError(t, err)

		framed, err := c.WriteData(checkInput)
		require.NoError(t, err)
		frame := framed.Value

		res, err := c.ReadData(frame)
		require.NoError(t, err)
		require.True(t, res.Continued(), "width %d", width)

		for n := range frame {
			for _, mask := range []byte{0x01, 0x80, 0xFF} {
				corrupt := append([]byte{}, frame...)
				corrupt[n] ^= mask
				res, err := c.ReadData(corrupt)
				require.NoError(t, err)
				assert.True(t, res.Disconnected(), "width %d byte %d mask %#x", width, n, mask)
			}
		}
	}
}
