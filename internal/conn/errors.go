package conn

import (
	"errors"
	"fmt"

	"github.com/matheus3301/wppcrm/internal/status"
)

var (
	// ErrShutdown is returned once the manager has been shut down.
	ErrShutdown = errors.New("connection manager shut down")
	// ErrEmptyMessage is returned by SendMessage without a recipient or text.
	ErrEmptyMessage = errors.New("conversation id and text are required")
)

// SetupError is a failure to build or start a session.
type SetupError struct {
	Op  string
	Err error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("session setup: %s: %v", e.Op, e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }

// TransientConnectionError describes a close that will be retried.
type TransientConnectionError struct {
	Reason string
}

func (e *TransientConnectionError) Error() string {
	return "connection closed: " + e.Reason
}

// TerminalConnectionError describes a close after which the account must
// be paired again.
type TerminalConnectionError struct {
	Reason string
}

func (e *TerminalConnectionError) Error() string {
	return "session ended: " + e.Reason
}

// NotConnectedError is returned when sending without a connected session.
type NotConnectedError struct {
	State status.State
}

func (e *NotConnectedError) Error() string {
	return fmt.Sprintf("not connected (state %s)", e.State)
}
