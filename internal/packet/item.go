// internal/packet/item.go
package packet

import (
	"fmt"
	"math"
	"strings"
)

// DataType represents how an item's bits are interpreted
type DataType string

const (
	DataTypeInt    DataType = "INT"
	DataTypeUint   DataType = "UINT"
	DataTypeFloat  DataType = "FLOAT"
	DataTypeString DataType = "STRING"
	DataTypeBlock  DataType = "BLOCK"
)

// Endianness represents the byte order of an item
type Endianness string

const (
	BigEndian    Endianness = "BIG_ENDIAN"
	LittleEndian Endianness = "LITTLE_ENDIAN"
)

// ValueType selects raw or converted item values
type ValueType string

const (
	Raw       ValueType = "RAW"
	Converted ValueType = "CONVERTED"
)

// ParseDataType parses a data type name (case insensitive)
func ParseDataType(s string) (DataType, error) {
	switch DataType(strings.ToUpper(strings.TrimSpace(s))) {
	case DataTypeInt:
		return DataTypeInt, nil
	case DataTypeUint:
		return DataTypeUint, nil
	case DataTypeFloat:
		return DataTypeFloat, nil
	case DataTypeString:
		return DataTypeString, nil
	case DataTypeBlock:
		return DataTypeBlock, nil
	default:
		return "", fmt.Errorf("invalid data type '%s'", s)
	}
}

// ParseEndianness parses an endianness name. An empty string means big endian.
func ParseEndianness(s string) (Endianness, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", string(BigEndian):
		return BigEndian, nil
	case string(LittleEndian):
		return LittleEndian, nil
	default:
		return "", fmt.Errorf("invalid endianness '%s'. Must be BIG_ENDIAN or LITTLE_ENDIAN", s)
	}
}

// ParseValueType parses RAW or CONVERTED. An empty string means CONVERTED.
func ParseValueType(s string) (ValueType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", string(Converted):
		return Converted, nil
	case string(Raw):
		return Raw, nil
	default:
		return "", fmt.Errorf("invalid value type '%s'. Must be RAW or CONVERTED", s)
	}
}

// Conversion transforms an item value between its raw and engineering forms
type Conversion interface {
	Convert(value any) (any, error)
}

// Polynomial converts with c0 + c1*x + c2*x^2 + ...
type Polynomial struct {
	Coefficients []float64
}

// Convert applies the polynomial
func (p Polynomial) Convert(value any) (any, error) {
	x, err := toFloat64(value)
	if err != nil {
		return nil, fmt.Errorf("polynomial conversion: %w", err)
	}

	var result float64
	for i, c := range p.Coefficients {
		result += c * math.Pow(x, float64(i))
	}
	return result, nil
}

// Item describes one typed field within a packet buffer.
//
// A negative BitOffset is measured from the end of the buffer. A BitSize of zero
// or less on a STRING or BLOCK item extends the item to the end of the buffer
// minus that many bits.
type Item struct {
	Name            string
	BitOffset       int
	BitSize         int
	DataType        DataType
	Endianness      Endianness
	IDValue         any
	Default         any
	ReadConversion  Conversion
	WriteConversion Conversion
	Description     string
}

// IsID reports whether the item takes part in packet identification
func (i *Item) IsID() bool {
	return i.IDValue != nil
}

// Variable reports whether the item size depends on the buffer length
func (i *Item) Variable() bool {
	return i.BitSize <= 0
}

func (i *Item) validate() error {
	if i.Name == "" {
		return fmt.Errorf("item name is required")
	}
	if i.Endianness == "" {
		i.Endianness = BigEndian
	}

	switch i.DataType {
	case DataTypeInt, DataTypeUint:
		if i.BitSize <= 0 || i.BitSize > 64 {
			return fmt.Errorf("item %s: invalid bit size %d for %s", i.Name, i.BitSize, i.DataType)
		}
	case DataTypeFloat:
		if i.BitSize != 32 && i.BitSize != 64 {
			return fmt.Errorf("item %s: FLOAT bit size must be 32 or 64, got %d", i.Name, i.BitSize)
		}
		if i.BitOffset%8 != 0 {
			return fmt.Errorf("item %s: FLOAT must be byte aligned", i.Name)
		}
	case DataTypeString, DataTypeBlock:
		if i.BitOffset%8 != 0 || i.BitSize%8 != 0 {
			return fmt.Errorf("item %s: %s must be byte aligned", i.Name, i.DataType)
		}
	default:
		return fmt.Errorf("item %s: unknown data type '%s'", i.Name, i.DataType)
	}

	if i.IDValue != nil {
		v, err := coerce(i, i.IDValue)
		if err != nil {
			return fmt.Errorf("item %s: invalid id value: %w", i.Name, err)
		}
		i.IDValue = v
	}
	if i.Default != nil {
		v, err := coerce(i, i.Default)
		if err != nil {
			return fmt.Errorf("item %s: invalid default: %w", i.Name, err)
		}
		i.Default = v
	}
	return nil
}

// endByte returns the exclusive end byte of a fixed item, or 0 when the item is
// positioned relative to the end of the buffer.
func (i *Item) endByte() int {
	if i.BitOffset < 0 || i.Variable() {
		if i.BitOffset >= 0 {
			return i.BitOffset / 8
		}
		return 0
	}
	if i.Endianness == LittleEndian && !byteAligned(i.BitOffset, i.BitSize) {
		return i.BitOffset/8 + 1
	}
	return (i.BitOffset + i.BitSize + 7) / 8
}
