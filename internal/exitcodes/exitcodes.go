// Package exitcodes defines the exit codes of the tabul CLI and the error
// taxonomy shared by the resolution and transfer layers. A transfer listener
// records the code of its first error; a batch reports the sum.
package exitcodes

import (
	"errors"
	"os"
	"strings"
)

const (
	// Success - transfer completed without errors
	Success = 0

	// ConfigError - configuration/YAML parsing errors (non-recoverable, don't retry)
	ConfigError = 1

	// ConnectionError - connection open, ping or pool errors (recoverable)
	ConnectionError = 2

	// TransferError - backend read/write/commit failure (non-recoverable)
	TransferError = 3

	// ValidationError - structural errors: missing columns, missing keys, absent target without CREATE
	ValidationError = 4

	// Cancelled - user cancelled via SIGINT/SIGTERM (recoverable)
	Cancelled = 5

	// StateError - run history store errors (non-recoverable)
	StateError = 6

	// IOError - file I/O errors (recoverable)
	IOError = 7

	// SelectionError - unparsable resource string, unknown connection, empty strict selection
	SelectionError = 8

	// MappingError - explicit column map references a column that does not exist
	MappingError = 9

	// NotEmptyError - copy into a non-empty target without TRUNCATE or DROP
	NotEmptyError = 10

	// TimeoutError - pipeline queue or drain timeout (recoverable)
	TimeoutError = 11

	// InternalError - broken invariant inside the engine
	InternalError = 12
)

// Sentinel errors. Producers wrap them with %w so that FromError can
// classify without string matching.
var (
	ErrNoSelection        = errors.New("selection produced nothing")
	ErrConnectionNotFound = errors.New("connection not found")
	ErrInvalidURI         = errors.New("invalid data uri")
	ErrMapping            = errors.New("invalid column mapping")
	ErrStructure          = errors.New("incompatible structure")
	ErrNotEmpty           = errors.New("resource not empty")
	ErrTimeout            = errors.New("timeout elapsed")
	ErrInternal           = errors.New("internal error")
	ErrUnsupported        = errors.New("operation not supported")
	ErrNotFound           = errors.New("resource not found")
)

// ExitError wraps an error with an exit code.
type ExitError struct {
	Err  error
	Code int
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code.
func NewExitError(err error, code int) *ExitError {
	return &ExitError{Err: err, Code: code}
}

// FromError determines the appropriate exit code for an error.
// Sentinels are checked first, then error messages.
func FromError(err error) int {
	if err == nil {
		return Success
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}

	switch {
	case errors.Is(err, ErrNoSelection), errors.Is(err, ErrConnectionNotFound), errors.Is(err, ErrInvalidURI):
		return SelectionError
	case errors.Is(err, ErrMapping):
		return MappingError
	case errors.Is(err, ErrNotEmpty):
		return NotEmptyError
	case errors.Is(err, ErrTimeout):
		return TimeoutError
	case errors.Is(err, ErrInternal):
		return InternalError
	case errors.Is(err, ErrStructure), errors.Is(err, ErrNotFound), errors.Is(err, ErrUnsupported):
		return ValidationError
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return IOError
	}

	errStr := strings.ToLower(err.Error())

	if containsAny(errStr, []string{
		"no such file",
		"file not found",
		"permission denied",
		"is a directory",
		"not a directory",
	}) {
		return IOError
	}

	if containsAny(errStr, []string{
		"yaml:",
		"unmarshal",
		"invalid configuration",
		"invalid config",
		"parsing config",
	}) && !containsAny(errStr, []string{"connection", "connect", "dial"}) {
		return ConfigError
	}

	if containsAny(errStr, []string{
		"cancel",
		"interrupt",
		"context canceled",
	}) {
		return Cancelled
	}

	if containsAny(errStr, []string{
		"connection refused",
		"dial",
		"unreachable",
		"no such host",
		"ping",
		"login failed",
		"authentication",
	}) {
		return ConnectionError
	}

	if containsAny(errStr, []string{
		"history",
		"run not found",
	}) {
		return StateError
	}

	return TransferError
}

// IsRecoverable returns true if the error is recoverable (safe to retry).
func IsRecoverable(code int) bool {
	switch code {
	case ConnectionError, Cancelled, IOError, TimeoutError:
		return true
	default:
		return false
	}
}

// Description returns a human-readable description of the exit code.
func Description(code int) string {
	switch code {
	case Success:
		return "success"
	case ConfigError:
		return "configuration error"
	case ConnectionError:
		return "connection error (recoverable)"
	case TransferError:
		return "transfer error"
	case ValidationError:
		return "validation error"
	case Cancelled:
		return "cancelled (recoverable)"
	case StateError:
		return "state error"
	case IOError:
		return "I/O error (recoverable)"
	case SelectionError:
		return "selection error"
	case MappingError:
		return "column mapping error"
	case NotEmptyError:
		return "target not empty"
	case TimeoutError:
		return "timeout (recoverable)"
	case InternalError:
		return "internal error"
	default:
		return "unknown error"
	}
}

func containsAny(s string, substrs []string) bool {
	for _, substr := range substrs {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}
