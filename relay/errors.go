package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"syscall"
)

var (
	// ErrBackendUnreachable covers dial and transport failures other than resets.
	ErrBackendUnreachable = errors.New("backend unreachable")
	// ErrConnectionReset covers connections reset or timed out by the backend.
	ErrConnectionReset = errors.New("connection reset by backend")
)

// ConfigurationMissingError names every missing configuration variable.
type ConfigurationMissingError struct {
	Missing []string
}

func (e *ConfigurationMissingError) Error() string {
	return strings.Join(e.Missing, ", ") + " not set"
}

// IsConfigurationMissing returns true if err is a ConfigurationMissingError.
func IsConfigurationMissing(err error) bool {
	var cfgErr *ConfigurationMissingError
	return errors.As(err, &cfgErr)
}

// ForwardError is returned when forwarding fails.
// HeadersSent reports whether the client already received response headers,
// in which case the only remaining action is terminating the client stream.
type ForwardError struct {
	HeadersSent bool
	Err         error
}

func (e *ForwardError) Error() string {
	if e.HeadersSent {
		return fmt.Sprintf("stream failed after headers: %v", e.Err)
	}
	return fmt.Sprintf("request failed before headers: %v", e.Err)
}

func (e *ForwardError) Unwrap() error {
	return e.Err
}

// IsConnectionReset returns true if err is classified as a connection reset.
func IsConnectionReset(err error) bool {
	return errors.Is(err, ErrConnectionReset)
}

// classify wraps a transport error in ErrConnectionReset or
// ErrBackendUnreachable. Cancellation by the client is returned unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if isReset(err) {
		return fmt.Errorf("%w: %v", ErrConnectionReset, err)
	}
	return fmt.Errorf("%w: %v", ErrBackendUnreachable, err)
}

func isReset(err error) bool {
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	// Stringly reported by some transports (e.g. wrapped in url.Error text).
	return strings.Contains(err.Error(), "connection reset by peer")
}

// clientMessage is the diagnostic body for a failure before headers.
func clientMessage(err error) string {
	if IsConnectionReset(err) {
		return "Connection reset by target API"
	}
	return "Error sending request to target API"
}
