package apiclient

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnauthorized is returned when the backend rejects the credentials and a refresh cannot fix it.
var ErrUnauthorized = errors.New("authentication required")

// ErrInvalidURL is returned when a request path cannot be resolved against the base URL.
var ErrInvalidURL = errors.New("invalid request url")

// HTTPError reports a non-2xx response other than an unrecoverable 401.
type HTTPError struct {
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	if msg := e.ServerMessage(); msg != "" {
		return fmt.Sprintf("server error (HTTP %d): %s", e.StatusCode, msg)
	}
	return fmt.Sprintf("server error (HTTP %d)", e.StatusCode)
}

// ServerMessage extracts the "message" or "error" field from a JSON error body.
func (e *HTTPError) ServerMessage() string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(e.Body, &payload); err != nil {
		return ""
	}
	if payload.Message != "" {
		return payload.Message
	}
	return payload.Error
}

// NetworkError wraps a transport failure such as DNS, timeout or connection reset.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("network error: %v", e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// DecodingError reports a 2xx response whose body could not be decoded.
type DecodingError struct {
	Err error
}

func (e *DecodingError) Error() string { return fmt.Sprintf("decode response: %v", e.Err) }
func (e *DecodingError) Unwrap() error { return e.Err }

// EncodingError reports a request body that could not be encoded.
type EncodingError struct {
	Err error
}

func (e *EncodingError) Error() string { return fmt.Sprintf("encode request: %v", e.Err) }
func (e *EncodingError) Unwrap() error { return e.Err }
