package transport

import "errors"

var (
	// ErrConnection reports a launch or handshake failure.
	ErrConnection = errors.New("tool provider connection failed")
	// ErrProtocol reports a malformed provider response.
	ErrProtocol = errors.New("tool provider protocol error")
	// ErrTimeout reports an invocation that received no response in time.
	ErrTimeout = errors.New("tool invocation timed out")
	// ErrProviderCrashed reports a provider channel that closed unexpectedly.
	ErrProviderCrashed = errors.New("tool provider crashed")
	// ErrClosed reports use of a transport after Disconnect.
	ErrClosed = errors.New("tool provider disconnected")
)
