// internal/packet/accessor.go
package packet

import (
	"bytes"
	"errors"
	"fmt"
	"math"
)

var (
	ErrOutOfRange = errors.New("packet: access outside of buffer")
	ErrOverflow   = errors.New("packet: value does not fit in item")
	ErrBitSize    = errors.New("packet: invalid bit size")
)

func byteAligned(bitOffset, bitSize int) bool {
	return bitOffset%8 == 0 && bitSize%8 == 0
}

func resolveOffset(buf []byte, bitOffset int) int {
	if bitOffset < 0 {
		return len(buf)*8 + bitOffset
	}
	return bitOffset
}

// ReadUint reads an unsigned field of up to 64 bits. Byte aligned fields follow
// the byte order. Unaligned big endian fields are read MSB first starting at the
// bit offset. Unaligned little endian fields take the bytes from bitOffset/8
// downward, reverse them, and read MSB first from bitOffset%8.
func ReadUint(buf []byte, bitOffset, bitSize int, endianness Endianness) (uint64, error) {
	if bitSize <= 0 || bitSize > 64 {
		return 0, fmt.Errorf("%w: %d", ErrBitSize, bitSize)
	}
	off := resolveOffset(buf, bitOffset)
	if off < 0 {
		return 0, fmt.Errorf("%w: bit offset %d", ErrOutOfRange, bitOffset)
	}

	if byteAligned(off, bitSize) {
		start, n := off/8, bitSize/8
		if start+n > len(buf) {
			return 0, fmt.Errorf("%w: %d bytes at byte %d of %d", ErrOutOfRange, n, start, len(buf))
		}
		var v uint64
		if endianness == LittleEndian {
			for i := n - 1; i >= 0; i-- {
				v = v<<8 | uint64(buf[start+i])
			}
		} else {
			for i := 0; i < n; i++ {
				v = v<<8 | uint64(buf[start+i])
			}
		}
		return v, nil
	}

	window, start, err := bitWindow(buf, off, bitSize, endianness)
	if err != nil {
		return 0, err
	}
	var v uint64
	for i := 0; i < bitSize; i++ {
		bit := start + i
		v = v<<1 | uint64(window[bit/8]>>(7-bit%8)&1)
	}
	return v, nil
}

// WriteUint writes an unsigned field using the same layout rules as ReadUint
func WriteUint(buf []byte, bitOffset, bitSize int, endianness Endianness, value uint64) error {
	if bitSize <= 0 || bitSize > 64 {
		return fmt.Errorf("%w: %d", ErrBitSize, bitSize)
	}
	if bitSize < 64 && value>>uint(bitSize) != 0 {
		return fmt.Errorf("%w: %d in %d bits", ErrOverflow, value, bitSize)
	}
	off := resolveOffset(buf, bitOffset)
	if off < 0 {
		return fmt.Errorf("%w: bit offset %d", ErrOutOfRange, bitOffset)
	}

	if byteAligned(off, bitSize) {
		start, n := off/8, bitSize/8
		if start+n > len(buf) {
			return fmt.Errorf("%w: %d bytes at byte %d of %d", ErrOutOfRange, n, start, len(buf))
		}
		for i := 0; i < n; i++ {
			b := byte(value >> uint(8*(n-1-i)))
			if endianness == LittleEndian {
				buf[start+n-1-i] = b
			} else {
				buf[start+i] = b
			}
		}
		return nil
	}

	window, start, err := bitWindow(buf, off, bitSize, endianness)
	if err != nil {
		return err
	}
	for i := 0; i < bitSize; i++ {
		bit := start + i
		mask := byte(1) << uint(7-bit%8)
		if value>>uint(bitSize-1-i)&1 == 1 {
			window[bit/8] |= mask
		} else {
			window[bit/8] &^= mask
		}
	}
	if endianness == LittleEndian {
		upper := off / 8
		for i := range window {
			buf[upper-i] = window[i]
		}
	}
	return nil
}

// bitWindow returns the bytes holding an unaligned field in MSB first order and
// the first bit of the field within them. For big endian the window aliases buf.
func bitWindow(buf []byte, off, bitSize int, endianness Endianness) ([]byte, int, error) {
	if endianness == LittleEndian {
		upper := off / 8
		num := (off%8+bitSize-1)/8 + 1
		lower := upper - num + 1
		if lower < 0 || upper >= len(buf) {
			return nil, 0, fmt.Errorf("%w: little endian bitfield at bit %d size %d", ErrOutOfRange, off, bitSize)
		}
		window := make([]byte, num)
		for i := 0; i < num; i++ {
			window[i] = buf[upper-i]
		}
		return window, off % 8, nil
	}

	lower, upper := off/8, (off+bitSize-1)/8
	if upper >= len(buf) {
		return nil, 0, fmt.Errorf("%w: bitfield at bit %d size %d", ErrOutOfRange, off, bitSize)
	}
	return buf[lower : upper+1], off % 8, nil
}

// ReadInt reads a two's complement signed field
func ReadInt(buf []byte, bitOffset, bitSize int, endianness Endianness) (int64, error) {
	v, err := ReadUint(buf, bitOffset, bitSize, endianness)
	if err != nil {
		return 0, err
	}
	if bitSize < 64 && v&(1<<uint(bitSize-1)) != 0 {
		return int64(v) - int64(1)<<uint(bitSize), nil
	}
	return int64(v), nil
}

// WriteInt writes a two's complement signed field
func WriteInt(buf []byte, bitOffset, bitSize int, endianness Endianness, value int64) error {
	if bitSize <= 0 || bitSize > 64 {
		return fmt.Errorf("%w: %d", ErrBitSize, bitSize)
	}
	if bitSize < 64 {
		lo, hi := -(int64(1) << uint(bitSize-1)), int64(1)<<uint(bitSize-1)-1
		if value < lo || value > hi {
			return fmt.Errorf("%w: %d in %d bits", ErrOverflow, value, bitSize)
		}
		return WriteUint(buf, bitOffset, bitSize, endianness, uint64(value)&(uint64(1)<<uint(bitSize)-1))
	}
	return WriteUint(buf, bitOffset, bitSize, endianness, uint64(value))
}

// byteRange resolves the byte span of a STRING or BLOCK item
func byteRange(buf []byte, item *Item) (int, int, error) {
	start := resolveOffset(buf, item.BitOffset) / 8
	var end int
	if item.Variable() {
		end = len(buf) + item.BitSize/8
	} else {
		end = start + item.BitSize/8
	}
	if start < 0 || end > len(buf) || end < start {
		return 0, 0, fmt.Errorf("%w: item %s bytes %d..%d of %d", ErrOutOfRange, item.Name, start, end, len(buf))
	}
	return start, end, nil
}

// readRaw reads the raw value of an item
func readRaw(buf []byte, item *Item) (any, error) {
	switch item.DataType {
	case DataTypeUint:
		return ReadUint(buf, item.BitOffset, item.BitSize, item.Endianness)
	case DataTypeInt:
		return ReadInt(buf, item.BitOffset, item.BitSize, item.Endianness)
	case DataTypeFloat:
		bits, err := ReadUint(buf, item.BitOffset, item.BitSize, item.Endianness)
		if err != nil {
			return nil, err
		}
		if item.BitSize == 32 {
			return float64(math.Float32frombits(uint32(bits))), nil
		}
		return math.Float64frombits(bits), nil
	case DataTypeString:
		start, end, err := byteRange(buf, item)
		if err != nil {
			return nil, err
		}
		s := buf[start:end]
		if i := bytes.IndexByte(s, 0); i >= 0 {
			s = s[:i]
		}
		return string(s), nil
	case DataTypeBlock:
		start, end, err := byteRange(buf, item)
		if err != nil {
			return nil, err
		}
		out := make([]byte, end-start)
		copy(out, buf[start:end])
		return out, nil
	default:
		return nil, fmt.Errorf("unknown data type '%s'", item.DataType)
	}
}

// writeRaw writes the raw value of an item and returns the resulting buffer.
// Fixed items past the end of the buffer grow it. Variable STRING and BLOCK items
// replace their span and may resize the buffer.
func writeRaw(buf []byte, item *Item, value any) ([]byte, error) {
	v, err := coerce(item, value)
	if err != nil {
		return buf, fmt.Errorf("item %s: %w", item.Name, err)
	}

	if end := item.endByte(); end > len(buf) {
		grown := make([]byte, end)
		copy(grown, buf)
		buf = grown
	}

	switch item.DataType {
	case DataTypeUint:
		return buf, WriteUint(buf, item.BitOffset, item.BitSize, item.Endianness, v.(uint64))
	case DataTypeInt:
		return buf, WriteInt(buf, item.BitOffset, item.BitSize, item.Endianness, v.(int64))
	case DataTypeFloat:
		f := v.(float64)
		if item.BitSize == 32 {
			return buf, WriteUint(buf, item.BitOffset, 32, item.Endianness, uint64(math.Float32bits(float32(f))))
		}
		return buf, WriteUint(buf, item.BitOffset, 64, item.Endianness, math.Float64bits(f))
	case DataTypeString, DataTypeBlock:
		var data []byte
		if s, ok := v.(string); ok {
			data = []byte(s)
		} else {
			data = v.([]byte)
		}
		if item.Variable() {
			start := resolveOffset(buf, item.BitOffset) / 8
			end := len(buf) + item.BitSize/8
			if start < 0 || end < start || end > len(buf) {
				return buf, fmt.Errorf("%w: item %s", ErrOutOfRange, item.Name)
			}
			out := make([]byte, 0, start+len(data)+len(buf)-end)
			out = append(out, buf[:start]...)
			out = append(out, data...)
			out = append(out, buf[end:]...)
			return out, nil
		}
		start, end, err := byteRange(buf, item)
		if err != nil {
			return buf, err
		}
		if len(data) > end-start {
			return buf, fmt.Errorf("%w: %d bytes into %s of %d bytes", ErrOverflow, len(data), item.Name, end-start)
		}
		n := copy(buf[start:end], data)
		for i := start + n; i < end; i++ {
			buf[i] = 0
		}
		return buf, nil
	default:
		return buf, fmt.Errorf("unknown data type '%s'", item.DataType)
	}
}
