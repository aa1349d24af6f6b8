// internal/protocol/terminated_test.go
package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_TerminatedRead(t *testing.T) {
	tests := []struct {
		name   string
		strip  bool
		chunks [][]byte
		want   [][]byte
	}{
		{
			name:   "strips termination",
			strip:  true,
			chunks: [][]byte{[]byte("OK 1\r\nOK 2\r\n")},
			want:   [][]byte{[]byte("OK 1"), []byte("OK 2")},
		},
		{
			name:   "keeps termination",
			strip:  false,
			chunks: [][]byte{[]byte("OK 1\r\n")},
			want:   [][]byte{[]byte("OK 1\r\n")},
		},
		{
			name:   "termination split across reads",
			strip:  true,
			chunks: [][]byte{[]byte("HEL"), []byte("LO\r"), []byte("\nX")},
			want:   [][]byte{[]byte("HELLO")},
		},
		{
			name:   "partial termination inside payload",
			strip:  true,
			chunks: [][]byte{[]byte("A\rB\r"), []byte("\nC\r\n")},
			want:   [][]byte{[]byte("A\rB"), []byte("C")},
		},
		{
			name:   "termination first gives empty frame",
			strip:  true,
			chunks: [][]byte{[]byte("\r\n")},
			want:   [][]byte{{}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewTerminated(TerminatedConfig{
				WriteTermination:     []byte("\r\n"),
				ReadTermination:      []byte("\r\n"),
				StripReadTermination: tt.strip,
			}, nil)
			require.NoError(t, err)
			p.Bind(newTestOwner(), true)

			frames := readAll(t, p, tt.chunks...)
			require.Len(t, frames, len(tt.want))
			for i := range tt.want {
				assert.Equal(t, tt.want[i], frames[i])
			}
		})
	}
}

func Test_TerminatedSplitAcrossChunks(t *testing.T) {
	stream := []byte("abcENDxyENDEN")
	for _, size := range []int{1, 2, 4, len(stream)} {
		p, err := NewTerminated(TerminatedConfig{
			WriteTermination:     []byte("END"),
			ReadTermination:      []byte("END"),
			StripReadTermination: true,
		}, nil)
		require.NoError(t, err)
		p.Bind(newTestOwner(), true)

		var frames [][]byte
		for start := 0; start < len(stream); start += size {
			frames = append(frames, readAll(t, p, stream[start:min(start+size, len(stream))])...)
		}
		assert.Equal(t, [][]byte{[]byte("abc"), []byte("xy")}, frames, "chunk size %d", size)
		assert.Equal(t, 2, p.Buffered())
	}
}

func Test_TerminatedWrite(t *testing.T) {
	p, err := NewTerminated(TerminatedConfig{
		WriteTermination: []byte{0x0A},
		ReadTermination:  []byte{0x0A},
	}, nil)
	require.NoError(t, err)

	in := []byte("PING")
	res, err := p.WriteData(in)
	require.NoError(t, err)
	assert.Equal(t, []byte("PING\n"), res.Value)
	assert.Equal(t, []byte("PING"), in)

	_, err = p.WriteData([]byte("PI\nNG"))
	assert.ErrorIs(t, err, ErrTerminatorInPayload)
	assert.Contains(t, err.Error(), "Packet contains termination characters!")
}

func Test_TerminatedRequiresTermination(t *testing.T) {
	_, err := NewTerminated(TerminatedConfig{}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	p, err := NewTerminated(TerminatedConfig{WriteTermination: []byte{0x0A}}, nil)
	require.NoError(t, err)
	_, err = p.ReadData([]byte("DATA"))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func Test_TerminatedWithSyncPattern(t *testing.T) {
	p, err := NewTerminated(TerminatedConfig{
		ReadTermination:      []byte{0xFF},
		StripReadTermination: true,
		DiscardLeadingBytes:  1,
		SyncPattern:          []byte{0xAA},
	}, nil)
	require.NoError(t, err)
	p.Bind(newTestOwner(), true)

	frames := readAll(t, p, []byte{0x01, 0xAA, 0x10, 0x11, 0xFF, 0x02, 0xAA, 0x20, 0xFF})
	require.Len(t, frames, 2)
	assert.Equal(t, []byte{0x10, 0x11}, frames[0])
	assert.Equal(t, []byte{0x20}, frames[1])
}
