package inference

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error categories. Every error returned by a Session matches exactly one of them
// with errors.Is.
var (
	// ErrInvalidArgument marks nil or empty inputs and non-positive dimensions.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrResource marks missing weights, unreadable label or image files and engine
	// setup failures.
	ErrResource = errors.New("resource failure")
	// ErrInternal marks engine run failures and recovered panics.
	ErrInternal = errors.New("internal error")
	// ErrClosed marks calls on a session after Close.
	ErrClosed = errors.New("session closed")
)

// categorized attaches a category to an underlying error while keeping the cause
// chain intact.
type categorized struct {
	kind  error
	cause error
}

func (e *categorized) Error() string {
	return e.kind.Error() + ": " + e.cause.Error()
}

func (e *categorized) Unwrap() error { return e.cause }

func (e *categorized) Is(target error) bool { return target == e.kind }

// Cause returns the underlying error for github.com/pkg/errors.Cause.
func (e *categorized) Cause() error { return e.cause }

// Format prints the cause's stack trace with %+v.
func (e *categorized) Format(s fmt.State, verb rune) {
	if verb == 'v' && s.Flag('+') {
		fmt.Fprintf(s, "%s: %+v", e.kind.Error(), e.cause)
		return
	}
	fmt.Fprint(s, e.Error())
}

// categorize wraps err with msg and tags it with kind. A nil err yields nil, and an
// error that already carries a category keeps it.
func categorize(kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	var c *categorized
	if errors.As(err, &c) {
		return errors.Wrap(err, msg)
	}
	return &categorized{kind: kind, cause: errors.Wrap(err, msg)}
}

// invalidArgument builds an ErrInvalidArgument error from a message.
func invalidArgument(format string, args ...interface{}) error {
	return &categorized{kind: ErrInvalidArgument, cause: errors.Errorf(format, args...)}
}

// recoverPanic converts a panic into an ErrInternal error stored in *err. It must
// be deferred directly.
func recoverPanic(err *error) {
	if r := recover(); r != nil {
		*err = &categorized{kind: ErrInternal, cause: errors.Errorf("panic: %v", r)}
	}
}
