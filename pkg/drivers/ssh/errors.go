package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// DriverError wraps a failure from the SSH driver with enough
// classification for the orchestrator's retry policy: transient failures
// (dial timeouts, resets, dropped channels) are retried, authentication
// failures and rejected commands are not.
type DriverError struct {
	// Op is the operation that failed (connect, push, fetch, setup).
	Op string

	// Err is the underlying error.
	Err error

	// IsTemporary indicates whether the error is likely transient.
	IsTemporary bool

	// IsAuthFailure indicates the device refused our credentials.
	IsAuthFailure bool

	// IsRejected indicates the device accepted the session but refused a
	// command (non-zero exit status).
	IsRejected bool
}

// Error implements the error interface.
func (e *DriverError) Error() string {
	return fmt.Sprintf("ssh %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *DriverError) Unwrap() error {
	return e.Err
}

// Temporary reports whether the error is transient and worth retrying.
func (e *DriverError) Temporary() bool {
	return e.IsTemporary
}

// AuthFailed reports whether the device rejected authentication. Auth
// failures are never retried regardless of Temporary.
func (e *DriverError) AuthFailed() bool {
	return e.IsAuthFailure
}

// Rejected reports whether the device refused a pushed command.
func (e *DriverError) Rejected() bool {
	return e.IsRejected
}

// classifyDialError maps a dial or handshake failure onto the driver
// error taxonomy. The ssh package reports authentication and host key
// failures as plain formatted errors, so those are matched by message.
func classifyDialError(err error) *DriverError {
	msg := err.Error()

	switch {
	case strings.Contains(msg, "unable to authenticate"),
		strings.Contains(msg, "no supported methods remain"),
		strings.Contains(msg, "permission denied"):
		return &DriverError{
			Op:            "connect",
			Err:           err,
			IsTemporary:   false,
			IsAuthFailure: true,
		}

	case strings.Contains(msg, "knownhosts:"),
		strings.Contains(msg, "key mismatch"):
		// Host key verification failures will not heal on retry.
		return &DriverError{
			Op:          "connect",
			Err:         err,
			IsTemporary: false,
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &DriverError{
			Op:          "connect",
			Err:         err,
			IsTemporary: true,
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &DriverError{
			Op:          "connect",
			Err:         err,
			IsTemporary: true,
		}
	}

	// Refused, reset, unreachable and anything else network-shaped is
	// treated as transient; the device may simply be rebooting.
	return &DriverError{
		Op:          "connect",
		Err:         err,
		IsTemporary: true,
	}
}
