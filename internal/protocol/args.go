// internal/protocol/args.go
package protocol

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Args are protocol arguments as decoded from configuration. Keys are lower case.
// The strings "", "nil" and "none" mean the argument is not set.
type Args map[string]any

func (a Args) value(key string) (any, bool) {
	v, ok := a[key]
	if !ok || v == nil {
		return nil, false
	}
	if s, isString := v.(string); isString {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "", "nil", "none":
			return nil, false
		}
	}
	return v, true
}

// String returns a string argument
func (a Args) String(key, def string) string {
	v, ok := a.value(key)
	if !ok {
		return def
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

// Int returns an integer argument. Strings accept 0x and 0b prefixes.
func (a Args) Int(key string, def int) (int, error) {
	v, ok := a.value(key)
	if !ok {
		return def, nil
	}
	i, err := toInt64(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
	}
	return int(i), nil
}

// OptionalInt returns nil when the argument is not set
func (a Args) OptionalInt(key string) (*int, error) {
	if _, ok := a.value(key); !ok {
		return nil, nil
	}
	i, err := a.Int(key, 0)
	if err != nil {
		return nil, err
	}
	return &i, nil
}

// OptionalUint returns nil when the argument is not set
func (a Args) OptionalUint(key string) (*uint64, error) {
	v, ok := a.value(key)
	if !ok {
		return nil, nil
	}
	var u uint64
	switch x := v.(type) {
	case uint64:
		u = x
	case string:
		parsed, err := strconv.ParseUint(strings.TrimSpace(x), 0, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: invalid value '%s'", ErrInvalidConfig, key, x)
		}
		u = parsed
	default:
		i, err := toInt64(v)
		if err != nil || i < 0 {
			return nil, fmt.Errorf("%w: %s: invalid value '%v'", ErrInvalidConfig, key, v)
		}
		u = uint64(i)
	}
	return &u, nil
}

// Bool returns a boolean argument. Strings accept TRUE and FALSE in any case.
func (a Args) Bool(key string, def bool) (bool, error) {
	b, err := a.OptionalBool(key)
	if err != nil {
		return false, err
	}
	if b == nil {
		return def, nil
	}
	return *b, nil
}

// OptionalBool returns nil when the argument is not set
func (a Args) OptionalBool(key string) (*bool, error) {
	v, ok := a.value(key)
	if !ok {
		return nil, nil
	}
	var b bool
	switch x := v.(type) {
	case bool:
		b = x
	case string:
		switch strings.ToUpper(strings.TrimSpace(x)) {
		case "TRUE":
			b = true
		case "FALSE":
			b = false
		default:
			return nil, fmt.Errorf("%w: %s: invalid value '%s'. Must be TRUE or FALSE", ErrInvalidConfig, key, x)
		}
	default:
		return nil, fmt.Errorf("%w: %s: invalid value '%v'. Must be TRUE or FALSE", ErrInvalidConfig, key, v)
	}
	return &b, nil
}

// Duration returns a duration argument. Numbers are seconds, strings use
// time.ParseDuration syntax or plain seconds.
func (a Args) Duration(key string, def time.Duration) (time.Duration, error) {
	d, err := a.OptionalDuration(key)
	if err != nil {
		return 0, err
	}
	if d == nil {
		return def, nil
	}
	return *d, nil
}

// OptionalDuration returns nil when the argument is not set
func (a Args) OptionalDuration(key string) (*time.Duration, error) {
	v, ok := a.value(key)
	if !ok {
		return nil, nil
	}
	var d time.Duration
	switch x := v.(type) {
	case time.Duration:
		d = x
	case string:
		s := strings.TrimSpace(x)
		if parsed, err := time.ParseDuration(s); err == nil {
			d = parsed
			break
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: invalid duration '%s'", ErrInvalidConfig, key, x)
		}
		d = time.Duration(f * float64(time.Second))
	case float64:
		d = time.Duration(x * float64(time.Second))
	case float32:
		d = time.Duration(float64(x) * float64(time.Second))
	default:
		i, err := toInt64(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: invalid duration '%v'", ErrInvalidConfig, key, v)
		}
		d = time.Duration(i) * time.Second
	}
	return &d, nil
}

// Hex returns a byte string given in hex, with or without a 0x prefix.
// Returns nil when the argument is not set.
func (a Args) Hex(key string) ([]byte, error) {
	v, ok := a.value(key)
	if !ok {
		return nil, nil
	}
	b, err := hexToBytes(fmt.Sprint(v))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
	}
	return b, nil
}

func hexToBytes(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[2:]
	}
	if len(s)%2 != 0 {
		s = "0" + s
	}
	return hex.DecodeString(s)
}

func toInt64(v any) (int64, error) {
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint:
		return int64(x), nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint64:
		return int64(x), nil
	case float64:
		return int64(x), nil
	case float32:
		return int64(x), nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(x), 0, 64)
	default:
		return 0, fmt.Errorf("invalid integer '%v'", v)
	}
}
