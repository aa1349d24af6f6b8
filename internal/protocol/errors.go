// internal/protocol/errors.go
package protocol

import "errors"

var (
	ErrInvalidConfig       = errors.New("protocol: invalid configuration")
	ErrMaxLength           = errors.New("protocol: length larger than max_length")
	ErrBadLength           = errors.New("protocol: invalid packet length")
	ErrTerminatorInPayload = errors.New("protocol: packet contains termination characters")
	ErrUnknownPacket       = errors.New("protocol: unknown data received")
	ErrResponse            = errors.New("protocol: response error")
	ErrUnknownType         = errors.New("protocol: unknown protocol type")
)
