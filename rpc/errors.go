package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

var (
	// ErrStartup means the backend process could not be created.
	ErrStartup = errors.New("starting backend")
	// ErrTransport means a request could not be written to the backend.
	ErrTransport = errors.New("writing request to backend")
	// ErrBackendTerminated means the response stream ended before the reply arrived.
	ErrBackendTerminated = errors.New("backend terminated unexpectedly")
	// ErrProtocol means the backend wrote a line that is not a valid response.
	ErrProtocol = errors.New("malformed response from backend")
	// ErrCallAborted means the caller's context ended before the call completed.
	ErrCallAborted = errors.New("call aborted")
	// ErrClosed means the client has been closed.
	ErrClosed = errors.New("client closed")
)

// RemoteError is an error reported by the backend for a call.
type RemoteError struct {
	Method  string
	Code    int
	Message string
	Data    json.RawMessage
}

// Error returns the backend's message verbatim.
func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend error %d in %s", e.Code, e.Method)
	}
	return e.Message
}

func terminatedError(diagnostics string) error {
	if diagnostics == "" {
		return ErrBackendTerminated
	}
	return fmt.Errorf("%w: %s", ErrBackendTerminated, diagnostics)
}

// truncate caps s at limit bytes without splitting a rune.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	end := limit
	for end > 0 && !utf8.RuneStart(s[end]) {
		end--
	}
	return s[:end]
}
