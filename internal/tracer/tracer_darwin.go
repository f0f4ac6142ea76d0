package tracer

import (
	"errors"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

const pollInterval = 2 * time.Millisecond

// Probe attaches to pid with PT_ATTACH, waits up to timeout for the stop and
// detaches.
func Probe(pid int, timeout time.Duration) error {
	if err := unix.PtraceAttach(pid); err != nil {
		return &AttachError{Pid: pid, Op: "ptrace attach", Err: err}
	}
	deadline := time.Now().Add(timeout)
	for {
		var ws unix.WaitStatus
		wpid, err := unix.Wait4(pid, &ws, unix.WNOHANG, nil)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return &AttachError{Pid: pid, Op: "wait", Err: err}
		}
		if wpid == pid {
			if !ws.Stopped() {
				return &AttachError{Pid: pid, Op: "wait", Err: unix.ESRCH}
			}
			break
		}
		if time.Now().After(deadline) {
			unix.PtraceDetach(pid) //nolint:errcheck
			return &AttachError{Pid: pid, Op: "wait", Err: os.ErrDeadlineExceeded}
		}
		time.Sleep(pollInterval)
	}
	if err := unix.PtraceDetach(pid); err != nil {
		return &AttachError{Pid: pid, Op: "ptrace detach", Err: err}
	}
	return nil
}
