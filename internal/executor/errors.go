package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
)

// RuntimeError is the signal an executor raises for a recoverable,
// domain-level failure (bad HTTP status, failed validation callback,
// and so on). Anything else an executor returns is treated as
// unrecoverable and propagated to the caller.
type RuntimeError struct {
	Message string
}

func (e *RuntimeError) Error() string { return e.Message }

// NewRuntimeError builds a RuntimeError with a formatted message.
func NewRuntimeError(format string, args ...interface{}) error {
	return &RuntimeError{Message: fmt.Sprintf(format, args...)}
}

// Classify inspects err and returns the exception-kind label the
// scheduler records as "ERROR <kind>::<message>", plus whether the
// failure is recoverable (per-task) or fatal (propagated to the whole
// Execute call).
//
// Recoverable: per-task timeout/cancellation, transport-layer errors
// (connector, disconnect, OS/connection, payload, HTTP response), and
// RuntimeError-class failures raised by executors. Everything else is
// fatal.
func Classify(err error) (kind string, recoverable bool) {
	if err == nil {
		return "", false
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "TimeoutError", true
	case errors.Is(err, context.Canceled):
		return "CancelledError", true
	}

	var rtErr *RuntimeError
	if errors.As(err, &rtErr) {
		return "RuntimeError", true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return "TimeoutError", true
		}
		return "ConnectorError", true
	}

	// *net.OpError also satisfies net.Error, so it is checked first.
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Timeout() {
			return "TimeoutError", true
		}
		return "OSError", true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return "TimeoutError", true
		}
		return "ConnectionError", true
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return "DisconnectError", true
	}

	return "", false
}

// FormatStatus builds the "ERROR <kind>::<message>" status string the
// journal stores for a recoverable failure.
func FormatStatus(kind string, err error) string {
	return fmt.Sprintf("ERROR %s::%s", kind, err.Error())
}
