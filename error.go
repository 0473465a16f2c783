package sherlock

import (
	"fmt"
	"runtime"
	"strings"
)

// ErrorKind classifies a TracedError per the four kinds in the design:
// user error, tracee-not-accessible, transient kernel error, and
// invariant violation. Kind is advisory metadata for callers deciding
// whether to keep the prompt alive or exit; TracedError behaves
// identically regardless of Kind.
type ErrorKind int

const (
	// KindUnknown is the zero value, used by plain Error()/Errorf().
	KindUnknown ErrorKind = iota
	// KindUser marks bad input or an unknown symbol: report and continue.
	KindUser
	// KindInaccessible marks an unmapped address or wrong permissions:
	// report and continue.
	KindInaccessible
	// KindKernel marks a transient kernel error (ESRCH, EPERM, EFAULT on
	// a ptrace primitive): the caller can no longer trust its view and
	// should exit.
	KindKernel
	// KindInvariant marks an unexpected internal state (e.g. a
	// single-step that did not land where expected): log and fall
	// through to the stopped state to keep the prompt responsive.
	KindInvariant
)

// TracedError contains an error and the list of origin frames
type TracedError struct {
	Err    error
	Kind   ErrorKind
	Frames []runtime.Frame
}

// Error implements error interface
func (err *TracedError) Error() string {
	str := fmt.Sprint(err.Err)
	for _, frame := range err.Frames {
		str += fmt.Sprintf("\n[%s:%d]", frame.Function, frame.Line)
	}
	return str
}

// Error creates a new TracedError from 'e' or appends a new frame if 'e' is TracedError
func Error(e interface{}) *TracedError {
	if e == nil {
		return nil
	}

	frame := getLastFrame()

	switch err := e.(type) {
	case *TracedError:
		err.Frames = append(err.Frames, frame)
		return err

	case error:
		return &TracedError{
			Err:    err,
			Frames: []runtime.Frame{frame},
		}

	default:
		return &TracedError{
			Err:    fmt.Errorf("%v", e),
			Frames: []runtime.Frame{frame},
		}
	}
}

// Errorf creates a new TracedError using the provided format and args
func Errorf(format string, args ...interface{}) *TracedError {
	return &TracedError{
		Err:    fmt.Errorf(format, args...),
		Frames: []runtime.Frame{getLastFrame()},
	}
}

// MergeErrors merges multiple errors into a single TracedError
func MergeErrors(errors []error) *TracedError {
	if len(errors) == 0 {
		return nil
	}

	str := make([]string, 0, len(errors))
	for _, err := range errors {
		str = append(str, fmt.Sprint(err))
	}

	return &TracedError{
		Err:    fmt.Errorf("%s", strings.Join(str, "; ")),
		Frames: []runtime.Frame{getLastFrame()},
	}
}

// UserError wraps bad input or an unknown symbol: the caller should
// report it to the prompt and remain stopped.
func UserError(format string, args ...interface{}) *TracedError {
	err := Errorf(format, args...)
	err.Kind = KindUser
	return err
}

// InaccessibleError wraps an unmapped-address or permission failure on
// tracee memory: the caller should report it and remain stopped.
func InaccessibleError(format string, args ...interface{}) *TracedError {
	err := Errorf(format, args...)
	err.Kind = KindInaccessible
	return err
}

// KernelError wraps a transient ptrace-primitive failure (ESRCH, EPERM,
// EFAULT): the caller can no longer trust its view of the tracee and
// should exit.
func KernelError(e interface{}) *TracedError {
	err := Error(e)
	if err != nil {
		err.Kind = KindKernel
	}
	return err
}

// InvariantError wraps an unexpected internal state: log it and fall
// through to the stopped state rather than exiting.
func InvariantError(format string, args ...interface{}) *TracedError {
	err := Errorf(format, args...)
	err.Kind = KindInvariant
	return err
}

func getLastFrame() runtime.Frame {
	pc := make([]uintptr, 1)
	n := runtime.Callers(3, pc)
	frames := runtime.CallersFrames(pc[:n])
	frame, _ := frames.Next()

	return frame
}
