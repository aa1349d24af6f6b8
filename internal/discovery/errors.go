// internal/discovery/errors.go
package discovery

import "errors"

var (
	ErrUnknownKind = errors.New("discovery: no scanner for kind")
	ErrUnavailable = errors.New("discovery: scanner not available")
)
