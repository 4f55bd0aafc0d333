package ncerr

import "github.com/pkg/errors"

// Sentinel error kinds returned at the core API surface. Fatal kinds
// (ErrMalformed, ErrTransport, ErrProtocol) invalidate the session as
// a side effect; ErrWouldBlock and ErrTimeout never mutate session
// status.
var (
	// ErrWouldBlock indicates a non-blocking read found no bytes ready.
	ErrWouldBlock = errors.New("would block")
	// ErrTimeout indicates the caller's deadline was reached.
	ErrTimeout = errors.New("timeout")
	// ErrMalformed indicates a framing or XML violation.
	ErrMalformed = errors.New("malformed message")
	// ErrWrongSide indicates a message type not valid for this side of
	// the session, such as a server receiving an <rpc-reply>.
	ErrWrongSide = errors.New("message for wrong session side")
	// ErrAuthFailed indicates transport authentication failed; no
	// session was produced.
	ErrAuthFailed = errors.New("authentication failed")
	// ErrTransport indicates an I/O error on the byte stream.
	ErrTransport = errors.New("transport failed")
	// ErrProtocol indicates a NETCONF protocol violation, such as a
	// capability mismatch or a duplicate <hello>.
	ErrProtocol = errors.New("protocol violated")
	// ErrArgument indicates the caller passed inconsistent parameters.
	ErrArgument = errors.New("invalid argument")
)
