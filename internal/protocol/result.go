// internal/protocol/result.go
package protocol

// Action is the outcome of one pipeline stage
type Action int

const (
	// ActionContinue hands the value to the next stage
	ActionContinue Action = iota
	// ActionStop means not enough data yet; retry on the next read
	ActionStop
	// ActionDisconnect tears down the interface
	ActionDisconnect
)

func (a Action) String() string {
	switch a {
	case ActionContinue:
		return "CONTINUE"
	case ActionStop:
		return "STOP"
	case ActionDisconnect:
		return "DISCONNECT"
	default:
		return "UNKNOWN"
	}
}

// Result carries either a value for the next stage or a STOP/DISCONNECT control
type Result[T any] struct {
	Value  T
	Action Action
}

// Continue wraps a value for the next stage
func Continue[T any](value T) Result[T] {
	return Result[T]{Value: value, Action: ActionContinue}
}

// Stop signals that more data is needed
func Stop[T any]() Result[T] {
	return Result[T]{Action: ActionStop}
}

// Disconnect signals that the interface must be torn down
func Disconnect[T any]() Result[T] {
	return Result[T]{Action: ActionDisconnect}
}

func (r Result[T]) Continued() bool    { return r.Action == ActionContinue }
func (r Result[T]) Stopped() bool      { return r.Action == ActionStop }
func (r Result[T]) Disconnected() bool { return r.Action == ActionDisconnect }
