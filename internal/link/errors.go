package link

import "errors"

var (
	// ErrTransportNotReady is returned when the radio is powered off or
	// unauthorized. Scanning and connecting resume once it reports ready.
	ErrTransportNotReady = errors.New("bluetooth transport not ready")

	// ErrConnectTimeout is the cause recorded when a connect attempt does not
	// complete within the connection timeout.
	ErrConnectTimeout = errors.New("connection attempt timed out")

	// ErrUnexpectedDisconnect is the cause transports attach to a disconnect
	// that was not requested.
	ErrUnexpectedDisconnect = errors.New("unexpected disconnect")

	// ErrMaxAttempts is recorded when the reconnection ceiling is reached.
	ErrMaxAttempts = errors.New("max attempts reached")

	// ErrStopped is returned by commands posted after the engine has stopped.
	ErrStopped = errors.New("engine stopped")

	// ErrNoTarget is returned when a connect is requested without a device.
	ErrNoTarget = errors.New("no target device configured")
)
