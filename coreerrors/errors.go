// Package coreerrors defines the error taxonomy the coordination core
// surfaces to its callers: a small set of tagged Kinds rather than a
// proliferation of sentinel error values, so that Repository, Task and
// State callers can dispatch on Kind without importing every package that
// might produce an error.
package coreerrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind tags the surface category of a CoreError.
type Kind int

const (
	// InvalidArgument marks an input-validation failure: bad name,
	// threshold, protocol/key-type pairing, unknown device/group id, or an
	// empty identifier. Never mutates state.
	InvalidArgument Kind = iota
	// StaleUpdate marks an update whose attempt count does not match the
	// task row's current attempt_count.
	StaleUpdate
	// ProtocolError marks a malformed protocol message, a message received
	// in the wrong phase, or a missing final message.
	ProtocolError
	// TaskFailed marks a task that failed to produce an artifact or whose
	// participants rejected it.
	TaskFailed
	// StorageError marks a Repository failure.
	StorageError
	// ExternalHelperError marks a failure of the certificate-issuance
	// subprocess.
	ExternalHelperError
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "InvalidArgument"
	case StaleUpdate:
		return "StaleUpdate"
	case ProtocolError:
		return "ProtocolError"
	case TaskFailed:
		return "TaskFailed"
	case StorageError:
		return "StorageError"
	case ExternalHelperError:
		return "ExternalHelperError"
	default:
		return "Unknown"
	}
}

// CoreError wraps an underlying error with a surface Kind.
type CoreError struct {
	Kind Kind
	Err  error
}

func (e *CoreError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *CoreError) Unwrap() error { return e.Err }

// New builds a CoreError whose underlying error is formatted with
// fmt.Errorf.
func New(kind Kind, format string, args ...interface{}) *CoreError {
	return &CoreError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Wrap attaches a Kind to an existing error without losing its cause chain.
func Wrap(kind Kind, err error, msg string) *CoreError {
	if err == nil {
		return nil
	}
	return &CoreError{Kind: kind, Err: errors.Wrap(err, msg)}
}

// Is reports whether err is a CoreError of the given Kind.
func Is(err error, kind Kind) bool {
	ce, ok := err.(*CoreError)
	if !ok {
		return false
	}
	return ce.Kind == kind
}
