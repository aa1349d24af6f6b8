// internal/packet/value.go
package packet

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// coerce normalizes a value to the Go type used for the item's data type:
// int64 for INT, uint64 for UINT, float64 for FLOAT, string for STRING and
// []byte for BLOCK.
func coerce(item *Item, value any) (any, error) {
	switch item.DataType {
	case DataTypeInt:
		return toInt64(value)
	case DataTypeUint:
		return toUint64(value)
	case DataTypeFloat:
		return toFloat64(value)
	case DataTypeString:
		switch v := value.(type) {
		case string:
			return v, nil
		case []byte:
			return string(v), nil
		default:
			return fmt.Sprint(v), nil
		}
	case DataTypeBlock:
		switch v := value.(type) {
		case []byte:
			return v, nil
		case string:
			return []byte(v), nil
		default:
			return nil, fmt.Errorf("cannot convert %T to BLOCK", value)
		}
	default:
		return nil, fmt.Errorf("unknown data type '%s'", item.DataType)
	}
}

func toInt64(value any) (int64, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint:
		return uintToInt64(uint64(v))
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		return uintToInt64(v)
	case float32:
		return int64(v), nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("cannot convert %v to integer", v)
		}
		return int64(v), nil
	case json.Number:
		return toInt64(string(v))
	case string:
		s := strings.TrimSpace(v)
		if i, err := strconv.ParseInt(s, 0, 64); err == nil {
			return i, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid integer value '%s'", v)
		}
		return toInt64(f)
	default:
		return 0, fmt.Errorf("cannot convert %T to integer", value)
	}
}

func uintToInt64(v uint64) (int64, error) {
	if v > math.MaxInt64 {
		return 0, fmt.Errorf("value %d overflows int64", v)
	}
	return int64(v), nil
}

func toUint64(value any) (uint64, error) {
	switch v := value.(type) {
	case uint:
		return uint64(v), nil
	case uint8:
		return uint64(v), nil
	case uint16:
		return uint64(v), nil
	case uint32:
		return uint64(v), nil
	case uint64:
		return v, nil
	case string:
		s := strings.TrimSpace(v)
		if u, err := strconv.ParseUint(s, 0, 64); err == nil {
			return u, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid unsigned value '%s'", v)
		}
		return toUint64(f)
	case float64:
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("cannot convert %v to unsigned", v)
		}
		return uint64(v), nil
	case json.Number:
		return toUint64(string(v))
	default:
		i, err := toInt64(value)
		if err != nil {
			return 0, err
		}
		if i < 0 {
			return 0, fmt.Errorf("value %d is negative", i)
		}
		return uint64(i), nil
	}
}

func toFloat64(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid float value '%s'", v)
		}
		return f, nil
	case json.Number:
		return v.Float64()
	default:
		i, err := toInt64(value)
		if err != nil {
			return 0, err
		}
		return float64(i), nil
	}
}

// valuesEqual compares two values already coerced for the same item
func valuesEqual(a, b any) bool {
	switch av := a.(type) {
	case []byte:
		bv, ok := b.([]byte)
		return ok && string(av) == string(bv)
	default:
		return a == b
	}
}
