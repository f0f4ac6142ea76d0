package antidebug

import (
	"errors"
	"fmt"
	"syscall"
)

// ErrorKind classifies why DenyAttach did not succeed.
type ErrorKind int

const (
	// KindOS is an unexpected failure of the underlying OS call. The
	// DenialError carries the OS code.
	KindOS ErrorKind = iota
	// KindAlreadyDenied means attachment was already denied earlier in the
	// life of this process.
	KindAlreadyDenied
	// KindDebuggerAttached means a debugger occupied the process before the
	// call, so denial could not take effect.
	KindDebuggerAttached
	// KindUnsupported means the platform, its policy or our privileges do not
	// allow denial.
	KindUnsupported
)

func (k ErrorKind) String() string {
	switch k {
	case KindAlreadyDenied:
		return "already denied"
	case KindDebuggerAttached:
		return "debugger already attached"
	case KindUnsupported:
		return "unsupported"
	default:
		return "os error"
	}
}

var kindNames = map[ErrorKind]string{
	KindOS:               "os",
	KindAlreadyDenied:    "already_denied",
	KindDebuggerAttached: "debugger_attached",
	KindUnsupported:      "unsupported",
}

// MarshalText encodes the kind as a stable identifier.
func (k ErrorKind) MarshalText() ([]byte, error) {
	name, ok := kindNames[k]
	if !ok {
		return nil, fmt.Errorf("unknown error kind %d", int(k))
	}
	return []byte(name), nil
}

// UnmarshalText decodes an identifier produced by MarshalText.
func (k *ErrorKind) UnmarshalText(text []byte) error {
	for kind, name := range kindNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown error kind %q", text)
}

// Sentinel values for errors.Is. Each matches any DenialError of the same kind.
var (
	ErrAlreadyDenied    = &DenialError{Kind: KindAlreadyDenied}
	ErrDebuggerAttached = &DenialError{Kind: KindDebuggerAttached}
	ErrUnsupported      = &DenialError{Kind: KindUnsupported}
)

// DenialError is the error returned by DenyAttach.
type DenialError struct {
	Kind ErrorKind
	// Op names the step that failed, e.g. "ptrace seize".
	Op string
	// Code is the raw OS error code, zero when the failure did not come from
	// the OS.
	Code uintptr
	Err  error
}

func (e *DenialError) Error() string {
	msg := "antidebug: deny attach: " + e.Kind.String()
	if e.Op != "" {
		msg += ": " + e.Op
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	} else if e.Code != 0 {
		msg += fmt.Sprintf(": code %#x", e.Code)
	}
	return msg
}

func (e *DenialError) Unwrap() error { return e.Err }

// Is reports a match against the package sentinels by kind only.
func (e *DenialError) Is(target error) bool {
	t, ok := target.(*DenialError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Err == nil && t.Code == 0
}

// OSCode returns the OS error code carried by err, if any.
func OSCode(err error) (uintptr, bool) {
	var de *DenialError
	if errors.As(err, &de) && de.Code != 0 {
		return de.Code, true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return uintptr(errno), true
	}
	return 0, false
}

func denialError(kind ErrorKind, op string, err error) *DenialError {
	de := &DenialError{Kind: kind, Op: op, Err: err}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		de.Code = uintptr(errno)
	}
	return de
}
