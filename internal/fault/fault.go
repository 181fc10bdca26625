// Package fault defines the error taxonomy shared by every gateway
// component. Callers receive one of the enumerated kinds plus a
// human-readable message; raw OS errors never cross the tool boundary.
package fault

import (
	"errors"
	"fmt"
)

// Kind identifies an error category on the wire.
type Kind string

const (
	KindOutsideSandbox      Kind = "outside_sandbox"
	KindProtectedPathDenied Kind = "protected_path_denied"
	KindInvalidPath         Kind = "invalid_path"
	KindFileTooLarge        Kind = "file_too_large"
	KindValidationFailed    Kind = "validation_failed"
	KindValidationTimedOut  Kind = "validation_timed_out"
	KindRangeOutOfBounds    Kind = "range_out_of_bounds"
	KindNotFound            Kind = "not_found"
	KindEncodingError       Kind = "encoding_error"
	KindTaskNotFound        Kind = "task_not_found"
	KindTaskAlreadyTerminal Kind = "task_already_terminal"
	KindBusy                Kind = "busy"
	KindTimeout             Kind = "timeout"
	KindInternalIO          Kind = "internal_io"
)

// Sentinel errors. Components return these (or typed wrappers that
// Unwrap to them) so callers can branch with errors.Is.
var (
	ErrOutsideSandbox      = errors.New("fsgate: path outside sandbox root")
	ErrProtectedPathDenied = errors.New("fsgate: protected path denied for write")
	ErrInvalidPath         = errors.New("fsgate: invalid path")
	ErrFileTooLarge        = errors.New("fsgate: file exceeds size ceiling")
	ErrValidationFailed    = errors.New("fsgate: content validation failed")
	ErrValidationTimedOut  = errors.New("fsgate: content validation timed out")
	ErrRangeOutOfBounds    = errors.New("fsgate: range out of bounds")
	ErrNotFound            = errors.New("fsgate: path not found")
	ErrEncodingError       = errors.New("fsgate: encoding error")
	ErrTaskNotFound        = errors.New("fsgate: task not found")
	ErrTaskAlreadyTerminal = errors.New("fsgate: task already terminal")
	ErrTaskNotTerminal     = errors.New("fsgate: task still running")
	ErrBusy                = errors.New("fsgate: no worker available")
	ErrTimeout             = errors.New("fsgate: operation timed out")
	ErrInternalIO          = errors.New("fsgate: internal io failure")
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrOutsideSandbox, KindOutsideSandbox},
	{ErrProtectedPathDenied, KindProtectedPathDenied},
	{ErrInvalidPath, KindInvalidPath},
	{ErrFileTooLarge, KindFileTooLarge},
	{ErrValidationFailed, KindValidationFailed},
	{ErrValidationTimedOut, KindValidationTimedOut},
	{ErrRangeOutOfBounds, KindRangeOutOfBounds},
	{ErrNotFound, KindNotFound},
	{ErrEncodingError, KindEncodingError},
	{ErrTaskNotFound, KindTaskNotFound},
	{ErrTaskAlreadyTerminal, KindTaskAlreadyTerminal},
	// Removing a live task is a caller argument error; the taxonomy
	// stays fixed, so it rides the invalid-argument kind.
	{ErrTaskNotTerminal, KindInvalidPath},
	{ErrBusy, KindBusy},
	{ErrTimeout, KindTimeout},
	{ErrInternalIO, KindInternalIO},
}

// KindOf maps err to its wire kind. Anything not in the taxonomy is
// reported as internal_io so low-level detail stays out of responses.
func KindOf(err error) Kind {
	for _, entry := range kinds {
		if errors.Is(err, entry.err) {
			return entry.kind
		}
	}
	return KindInternalIO
}

// PathError wraps a sentinel with the offending path.
type PathError struct {
	Path   string
	Reason string
	Err    error
}

func (e *PathError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s: %s", e.Err.Error(), e.Path)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Err.Error(), e.Path, e.Reason)
}

func (e *PathError) Unwrap() error { return e.Err }

// ioError wraps a low-level failure. Error() carries the full cause for
// logs; Message reduces it to the operation name before it reaches a
// caller.
type ioError struct {
	op  string
	err error
}

func (e *ioError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrInternalIO.Error(), e.op, e.err)
}

func (e *ioError) Unwrap() []error { return []error{ErrInternalIO, e.err} }

// IO wraps a low-level error as InternalIO, keeping the original cause
// available via Unwrap for logging while the wire sees only the kind
// and the operation name.
func IO(op string, err error) error {
	return &ioError{op: op, err: err}
}

// Message renders err for the wire envelope. Internal IO failures are
// reduced to the operation name so raw OS error strings and filesystem
// locations never cross the tool boundary.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var ioe *ioError
	if errors.As(err, &ioe) {
		return fmt.Sprintf("%s: %s", ErrInternalIO.Error(), ioe.op)
	}
	if KindOf(err) == KindInternalIO {
		return ErrInternalIO.Error()
	}
	return err.Error()
}
