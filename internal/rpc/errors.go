package rpc

import "errors"

var (
	// ErrDecode marks a wire value that cannot be turned into an engine value.
	ErrDecode = errors.New("decode error")

	// ErrProtocol marks a malformed or unauthorised request.
	ErrProtocol = errors.New("protocol error")

	// ErrStopped is returned once the worker has been stopped.
	ErrStopped = errors.New("worker stopped")
)

// Messages surfaced verbatim to the client.
const (
	msgInvalidSession = "Invalid session ID"
	msgBase64         = "Failed to decode base64 encoded data"
	msgUnknownValue   = "Unknown value"
	msgUnserializable = "An exception occured while processing the request. Could not serialize the exception as JSON"
)
