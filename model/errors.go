package model

import (
	"errors"
	"fmt"
)

// CodeContextLengthExceeded is the reason code for a request rejected
// because the transcript does not fit the model's context window.
const CodeContextLengthExceeded = "context_length_exceeded"

// ErrMalformedStream marks a streaming channel whose payload could not be
// decoded as partial results. Transports wrap it so callers can fall back
// to a single-shot request.
var ErrMalformedStream = errors.New("malformed stream payload")

// TransportError is a failure reported by a remote chat service.
type TransportError struct {
	Provider   string
	StatusCode int    // HTTP status, 0 when unknown
	Code       string // Machine-readable reason code, may be empty
	Message    string
	Err        error // Underlying SDK error
}

func (e *TransportError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	switch {
	case e.Code != "" && e.StatusCode != 0:
		return fmt.Sprintf("%s: %d %s: %s", e.Provider, e.StatusCode, e.Code, msg)
	case e.Code != "":
		return fmt.Sprintf("%s: %s: %s", e.Provider, e.Code, msg)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: %d: %s", e.Provider, e.StatusCode, msg)
	default:
		return fmt.Sprintf("%s: %s", e.Provider, msg)
	}
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsContextLengthExceeded reports whether err carries the overflow reason code.
func IsContextLengthExceeded(err error) bool {
	var te *TransportError
	if !errors.As(err, &te) {
		return false
	}
	return te.Code == CodeContextLengthExceeded
}
