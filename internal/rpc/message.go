package rpc

import (
	"fmt"
	"math"
)

// Message is a JSON object exchanged with the client. Values nested inside a
// Message are plain JSON-compatible Go values: map[string]any, []any, string,
// float64 (or an integer kind), bool and nil.
type Message map[string]any

// Handle identifies a value pinned in a registry.
type Handle uint64

// Result wraps v as a successful response.
func Result(v any) Message {
	return Message{"result": v}
}

// Failure builds an error response carrying a plain message.
func Failure(msg string) Message {
	return Message{"error": msg}
}

// IsFailure reports whether m is an error response.
func (m Message) IsFailure() bool {
	_, ok := m["error"]
	return ok
}

// Has reports whether key is present and not null.
func (m Message) Has(key string) bool {
	v, ok := m[key]
	return ok && v != nil
}

// String returns the string stored under key.
func (m Message) String(key string) (string, error) {
	v, ok := m[key]
	if !ok {
		return "", fmt.Errorf("%w: missing %q", ErrProtocol, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %q must be a string, got %T", ErrProtocol, key, v)
	}
	return s, nil
}

// Handle returns the registry handle stored under key.
func (m Message) Handle(key string) (Handle, error) {
	v, ok := m[key]
	if !ok {
		return 0, fmt.Errorf("%w: missing %q", ErrProtocol, key)
	}
	h, ok := toHandle(v)
	if !ok {
		return 0, fmt.Errorf("%w: %q must be a non-negative integer, got %v", ErrProtocol, key, v)
	}
	return h, nil
}

// Object returns the nested object stored under key, or nil when absent.
func (m Message) Object(key string) (map[string]any, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch o := v.(type) {
	case map[string]any:
		return o, nil
	case Message:
		return o, nil
	}
	return nil, fmt.Errorf("%w: %q must be an object, got %T", ErrProtocol, key, v)
}

// Arguments returns the "arguments" array; a missing array means no arguments.
func (m Message) Arguments() ([]any, error) {
	v, ok := m["arguments"]
	if !ok || v == nil {
		return nil, nil
	}
	args, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: \"arguments\" must be an array, got %T", ErrProtocol, v)
	}
	return args, nil
}

// toHandle accepts the numeric shapes a handle can take after a JSON or
// protobuf round trip.
func toHandle(v any) (Handle, bool) {
	switch n := v.(type) {
	case Handle:
		return n, true
	case uint64:
		return Handle(n), true
	case uint32:
		return Handle(n), true
	case uint:
		return Handle(n), true
	case int:
		if n >= 0 {
			return Handle(n), true
		}
	case int64:
		if n >= 0 {
			return Handle(n), true
		}
	case int32:
		if n >= 0 {
			return Handle(n), true
		}
	case float64:
		if n >= 0 && n == math.Trunc(n) && n <= math.MaxUint64 {
			return Handle(n), true
		}
	case float32:
		if n >= 0 && float64(n) == math.Trunc(float64(n)) {
			return Handle(n), true
		}
	}
	return 0, false
}

// toObject normalises a nested wire object.
func toObject(v any) (map[string]any, bool) {
	switch o := v.(type) {
	case map[string]any:
		return o, true
	case Message:
		return o, true
	}
	return nil, false
}
