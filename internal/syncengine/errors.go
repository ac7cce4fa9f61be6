package syncengine

import (
	"errors"
	"fmt"
	"net/http"

	"example.com/kinexsync/internal/apiclient"
)

// ErrorKind classifies why an item failed to sync.
type ErrorKind string

const (
	KindNetworkUnavailable ErrorKind = "network_unavailable"
	KindServerError        ErrorKind = "server_error"
	KindEncodingFailed     ErrorKind = "encoding_failed"
	KindMaxRetriesExceeded ErrorKind = "max_retries_exceeded"
	KindConflict           ErrorKind = "conflict"
	KindUnknown            ErrorKind = "unknown"
)

// SyncError is the failure recorded against a queue item.
type SyncError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Err        error
}

func (e *SyncError) Error() string {
	switch e.Kind {
	case KindNetworkUnavailable:
		return "no internet connection, changes will sync when back online"
	case KindServerError:
		if e.Message != "" {
			return fmt.Sprintf("server error (code %d): %s", e.StatusCode, e.Message)
		}
		return fmt.Sprintf("server error (code %d)", e.StatusCode)
	case KindEncodingFailed:
		if e.Message != "" {
			return "failed to prepare data for sync: " + e.Message
		}
		return "failed to prepare data for sync"
	case KindMaxRetriesExceeded:
		return "sync failed after multiple attempts"
	case KindConflict:
		return "sync conflict: " + e.Message
	default:
		return "sync error: " + e.Message
	}
}

func (e *SyncError) Unwrap() error { return e.Err }

// Retryable reports whether the failure is transient. Only network and server errors are.
func (e *SyncError) Retryable() bool {
	return e.Kind == KindNetworkUnavailable || e.Kind == KindServerError
}

// Terminal reports whether retrying the item cannot succeed without changing it.
func (e *SyncError) Terminal() bool {
	return e.Kind == KindEncodingFailed
}

func encodingFailed(format string, args ...any) *SyncError {
	return &SyncError{Kind: KindEncodingFailed, Message: fmt.Sprintf(format, args...)}
}

// classify maps a request client error onto the sync taxonomy.
func classify(err error) *SyncError {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr
	}

	var netErr *apiclient.NetworkError
	if errors.As(err, &netErr) {
		return &SyncError{Kind: KindNetworkUnavailable, Err: err}
	}

	var httpErr *apiclient.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode == http.StatusConflict {
			msg := httpErr.ServerMessage()
			if msg == "" {
				msg = http.StatusText(http.StatusConflict)
			}
			return &SyncError{Kind: KindConflict, StatusCode: httpErr.StatusCode, Message: msg, Err: err}
		}
		return &SyncError{Kind: KindServerError, StatusCode: httpErr.StatusCode, Message: httpErr.ServerMessage(), Err: err}
	}

	var encErr *apiclient.EncodingError
	if errors.As(err, &encErr) {
		return &SyncError{Kind: KindEncodingFailed, Message: encErr.Err.Error(), Err: err}
	}

	return &SyncError{Kind: KindUnknown, Message: err.Error(), Err: err}
}
