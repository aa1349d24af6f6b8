// internal/protocol/checksum.go
package protocol

import (
	"fmt"

	"github.com/sigurn/crc16"
	"github.com/snksoft/crc"
)

// ChecksumParams describes a CRC algorithm
type ChecksumParams struct {
	Width   int
	Poly    uint64
	Seed    uint64
	Xor     bool
	Reflect bool
}

// DefaultChecksumParams returns the default algorithm for a width: CRC-16/CCITT-FALSE,
// CRC-32 (ISO-HDLC) or CRC-64/XZ
func DefaultChecksumParams(width int) (ChecksumParams, error) {
	switch width {
	case 16:
		return ChecksumParams{Width: 16, Poly: 0x1021, Seed: 0xFFFF}, nil
	case 32:
		return ChecksumParams{Width: 32, Poly: 0x04C11DB7, Seed: 0xFFFFFFFF, Xor: true, Reflect: true}, nil
	case 64:
		return ChecksumParams{Width: 64, Poly: 0x42F0E1EBA9EA3693, Seed: 0xFFFFFFFFFFFFFFFF, Xor: true, Reflect: true}, nil
	default:
		return ChecksumParams{}, fmt.Errorf("%w: Invalid bit size of %d. Must be 16, 32, or 64.", ErrInvalidConfig, width)
	}
}

// Checksum computes a CRC over a byte slice
type Checksum interface {
	Calc(data []byte) uint64
}

type crc16Checksum struct {
	table *crc16.Table
}

func (c crc16Checksum) Calc(data []byte) uint64 {
	return uint64(crc16.Checksum(data, c.table))
}

type tableChecksum struct {
	table *crc.Table
}

func (c tableChecksum) Calc(data []byte) uint64 {
	return c.table.CalculateCRC(data)
}

// NewChecksum builds the CRC engine for the parameters
func NewChecksum(p ChecksumParams) (Checksum, error) {
	mask := uint64(1)<<uint(p.Width) - 1
	if p.Width == 64 {
		mask = ^uint64(0)
	}
	var xorOut uint64
	if p.Xor {
		xorOut = mask
	}

	switch p.Width {
	case 16:
		if p.Poly > mask || p.Seed > mask {
			return nil, fmt.Errorf("%w: 16 bit CRC polynomial and seed must fit in 16 bits", ErrInvalidConfig)
		}
		table := crc16.MakeTable(crc16.Params{
			Poly:   uint16(p.Poly),
			Init:   uint16(p.Seed),
			RefIn:  p.Reflect,
			RefOut: p.Reflect,
			XorOut: uint16(xorOut),
			Name:   "CRC-16/GROUNDLINK",
		})
		return crc16Checksum{table: table}, nil
	case 32, 64:
		if p.Poly > mask || p.Seed > mask {
			return nil, fmt.Errorf("%w: %d bit CRC polynomial and seed must fit in %d bits", ErrInvalidConfig, p.Width, p.Width)
		}
		table := crc.NewTable(&crc.Parameters{
			Width:      uint(p.Width),
			Polynomial: p.Poly,
			ReflectIn:  p.Reflect,
			ReflectOut: p.Reflect,
			Init:       p.Seed,
			FinalXor:   xorOut,
		})
		return tableChecksum{table: table}, nil
	default:
		return nil, fmt.Errorf("%w: Invalid bit size of %d. Must be 16, 32, or 64.", ErrInvalidConfig, p.Width)
	}
}
