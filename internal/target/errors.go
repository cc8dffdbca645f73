package target

import (
	"errors"
	"fmt"

	"github.com/rennerdo30/proxyman/internal/util"
)

// Target errors.
var (
	ErrUnavailable       = errors.New("target unavailable")
	ErrBackendInvocation = errors.New("backend invocation failed")
	ErrPermissionDenied  = util.ErrPermissionDenied
	ErrReadParse         = errors.New("existing settings could not be parsed")
	ErrUnknownTarget     = errors.New("unknown target")
)

// Error wraps an error with target context.
type Error struct {
	Target string
	Op     string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Target, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new Error.
func NewError(target, op string, err error) *Error {
	return &Error{
		Target: target,
		Op:     op,
		Err:    err,
	}
}

// Invocation wraps a failed external call or I/O error as ErrBackendInvocation,
// keeping ErrPermissionDenied and util.ErrTimeout reachable through errors.Is.
func Invocation(target, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPermissionDenied) {
		return NewError(target, op, err)
	}
	return NewError(target, op, fmt.Errorf("%w: %w", ErrBackendInvocation, err))
}

// Guidance returns a user-facing hint for err, or "" when there is none.
func Guidance(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return "re-run from an elevated shell or check that you own the configuration"
	case util.IsTimeout(err):
		return "the tool did not respond in time; check that it works when run by hand"
	case errors.Is(err, ErrReadParse):
		return "fix or remove the existing settings by hand, then retry"
	}
	return ""
}

// TargetName returns the target name from an Error.
func TargetName(err error) string {
	var te *Error
	if errors.As(err, &te) {
		return te.Target
	}
	return ""
}

// Warning is returned by an operation that took effect but only partially,
// for example when the session environment changed but the durable store
// could not be written. Callers report it as a success with a caveat.
type Warning struct {
	Target  string
	Message string
	Err     error
}

func (w *Warning) Error() string {
	if w.Err == nil {
		return fmt.Sprintf("%s: %s", w.Target, w.Message)
	}
	return fmt.Sprintf("%s: %s: %v", w.Target, w.Message, w.Err)
}

func (w *Warning) Unwrap() error {
	return w.Err
}

// AsWarning reports whether err is a Warning and returns it.
func AsWarning(err error) (*Warning, bool) {
	var w *Warning
	if errors.As(err, &w) {
		return w, true
	}
	return nil, false
}
