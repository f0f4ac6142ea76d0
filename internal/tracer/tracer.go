// Package tracer holds the attach primitives used by the sentinel and by the
// attach probe.
//
// Every function here must be called from a goroutine locked to its OS
// thread: the kernel binds a tracing relationship to the thread that created
// it, and all follow-up requests must come from that same thread.
package tracer

import "fmt"

// AttachError reports a failed attach to pid.
type AttachError struct {
	Pid int
	Op  string
	Err error
}

func (e *AttachError) Error() string {
	return fmt.Sprintf("%s %d: %v", e.Op, e.Pid, e.Err)
}

func (e *AttachError) Unwrap() error { return e.Err }
