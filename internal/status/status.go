// Package status defines the error taxonomy shared by the port runtime.
// Hooks and core operations return these sentinels (or wrap them); callers
// compare with errors.Is.
package status

import "errors"

var (
	// ErrInvalid reports a precondition violation.
	ErrInvalid = errors.New("invalid argument")

	// ErrNotImplemented reports a missing hook. The default connect hook
	// returns it as a sentinel meaning "core-managed connection", not as a
	// failure.
	ErrNotImplemented = errors.New("not implemented")

	// ErrFault reports an invariant violation that the core self-healed.
	ErrFault = errors.New("fault")

	// ErrNoMemory reports an allocation failure.
	ErrNoMemory = errors.New("out of memory")

	// ErrNoSpace reports a buffer too small for the requested payload.
	ErrNoSpace = errors.New("not enough space")

	// ErrAlreadyConnected reports a connect attempt on a connected port.
	ErrAlreadyConnected = errors.New("port already connected")

	// ErrNotConnected reports a disconnect attempt on a disconnected port.
	ErrNotConnected = errors.New("port not connected")

	// ErrCorrupt reports malformed wire or event data.
	ErrCorrupt = errors.New("corrupt data")
)
