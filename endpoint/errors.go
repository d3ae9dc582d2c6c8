package endpoint

import "errors"

// Errors returned by Connect, OpenBi and Accept. Callers match with
// errors.Is; the underlying cause is always wrapped for logging.
var (
	// ErrUnreachable means discovery produced no usable address for the
	// remote endpoint within the internal timeout.
	ErrUnreachable = errors.New("endpoint: unreachable")

	// ErrHandshakeFailed means the QUIC/TLS handshake completed but the
	// remote's certificate did not match the endpoint ID we dialed, or the
	// handshake itself failed cryptographically.
	ErrHandshakeFailed = errors.New("endpoint: handshake failed")

	// ErrTimeout names a QUIC connection that went idle past its configured
	// deadline. Connect, OpenBi and Accept do not return it: a dial that
	// times out is reported by Connect as ErrUnreachable.
	ErrTimeout = errors.New("endpoint: timeout")

	// ErrCancelled means the caller's context was cancelled before the
	// operation completed.
	ErrCancelled = errors.New("endpoint: cancelled")

	// ErrStreamLimit names the remote peer's concurrent-stream limit being
	// reached. OpenBi does not return it: when the limit is reached, OpenBi
	// waits until the peer allows another stream or ctx ends.
	ErrStreamLimit = errors.New("endpoint: stream limit reached")

	// ErrConnectionLost means the underlying QUIC connection closed or
	// reset while opening or using a stream.
	ErrConnectionLost = errors.New("endpoint: connection lost")
)
