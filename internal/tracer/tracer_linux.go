package tracer

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/tusharlock10/antidebug/internal/procfs"
)

const (
	seizeOptions = unix.PTRACE_O_TRACECLONE | unix.PTRACE_O_TRACEEXEC | unix.PTRACE_O_EXITKILL

	pollInterval = 2 * time.Millisecond
)

// Session is a seized process whose stops are resumed by Serve.
type Session struct {
	pid  int
	fs   procfs.FS
	tids map[int]struct{}
	log  zerolog.Logger
}

func ptrace(req int, pid int, addr, data uintptr) error {
	_, _, e := unix.Syscall6(unix.SYS_PTRACE, uintptr(req), uintptr(pid), addr, data, 0, 0)
	if e != 0 {
		return e
	}
	return nil
}

// Seize claims the tracer slot of every thread of pid without stopping it.
// Threads spawned afterwards are traced automatically.
func Seize(pid int, logger zerolog.Logger) (*Session, error) {
	s := &Session{
		pid:  pid,
		fs:   procfs.Default,
		tids: make(map[int]struct{}),
		log:  logger,
	}

	if err := ptrace(unix.PTRACE_SEIZE, pid, 0, seizeOptions); err != nil {
		return nil, &AttachError{Pid: pid, Op: "ptrace seize", Err: err}
	}
	s.tids[pid] = struct{}{}

	// Threads may be created by a thread we have not seized yet, so list
	// again until a pass finds nothing new.
	for {
		tids, err := s.fs.Tasks(pid)
		if err != nil {
			return nil, &AttachError{Pid: pid, Op: "list threads", Err: err}
		}
		fresh := 0
		for _, tid := range tids {
			if _, ok := s.tids[tid]; ok {
				continue
			}
			fresh++
			err := ptrace(unix.PTRACE_SEIZE, tid, 0, seizeOptions)
			switch {
			case err == nil:
			case errors.Is(err, unix.ESRCH):
				// Exited between listing and seizing; remember it so the
				// next pass does not count it again.
			case errors.Is(err, unix.EPERM) && s.ownsThread(tid):
				// Already ours through PTRACE_O_TRACECLONE.
			default:
				return nil, &AttachError{Pid: tid, Op: "ptrace seize thread", Err: err}
			}
			s.tids[tid] = struct{}{}
		}
		if fresh == 0 {
			break
		}
	}

	s.log.Debug().Int("pid", pid).Int("threads", len(s.tids)).Msg("Seized process")
	return s, nil
}

func (s *Session) ownsThread(tid int) bool {
	st, err := s.fs.ReadStatus(strconv.Itoa(s.pid) + "/task/" + strconv.Itoa(tid))
	return err == nil && st.TracerPid == os.Getpid()
}

// Serve resumes every stop of the seized process until it exits. ready is
// called once before the first wait.
func (s *Session) Serve(ready func()) error {
	if ready != nil {
		ready()
	}
	for {
		var ws unix.WaitStatus
		tid, err := unix.Wait4(-1, &ws, unix.WALL, nil)
		if err != nil {
			switch {
			case errors.Is(err, unix.EINTR):
				continue
			case errors.Is(err, unix.ECHILD):
				return nil
			default:
				return fmt.Errorf("wait: %w", err)
			}
		}

		if !ws.Stopped() {
			if ws.Exited() || ws.Signaled() {
				delete(s.tids, tid)
				if tid == s.pid {
					s.log.Debug().Int("pid", tid).Msg("Traced process exited")
					return nil
				}
			}
			continue
		}

		if err := s.resume(tid, ws); err != nil && !errors.Is(err, unix.ESRCH) {
			s.log.Debug().Err(err).Int("tid", tid).Msg("Resume failed")
		}
	}
}

// resume continues a stopped thread so that the stop is invisible to it.
func (s *Session) resume(tid int, ws unix.WaitStatus) error {
	sig := ws.StopSignal()
	switch event := int(uint32(ws) >> 16); event {
	case 0:
		// Signal-delivery-stop: hand the signal back.
		return unix.PtraceCont(tid, int(sig))
	case unix.PTRACE_EVENT_STOP:
		if isGroupStop(sig) {
			return ptrace(unix.PTRACE_LISTEN, tid, 0, 0)
		}
		return unix.PtraceCont(tid, 0)
	case unix.PTRACE_EVENT_CLONE:
		if msg, err := unix.PtraceGetEventMsg(tid); err == nil {
			s.tids[int(msg)] = struct{}{}
		}
		return unix.PtraceCont(tid, 0)
	default:
		return unix.PtraceCont(tid, 0)
	}
}

func isGroupStop(sig unix.Signal) bool {
	switch sig {
	case unix.SIGSTOP, unix.SIGTSTP, unix.SIGTTIN, unix.SIGTTOU:
		return true
	}
	return false
}

// Probe attaches to pid the way a debugger would, waits up to timeout for the
// attach stop and detaches again. The error from the attach is returned
// unchanged inside an *AttachError.
//
// Any thread of this process may collect the stop report of a tracee that is
// also our child, so the wait polls and falls back to /proc once timeout
// expires.
func Probe(pid int, timeout time.Duration) error {
	if err := unix.PtraceAttach(pid); err != nil {
		return &AttachError{Pid: pid, Op: "ptrace attach", Err: err}
	}
	if err := waitAttachStop(pid, timeout); err != nil {
		// Fails with ESRCH unless the tracee is stopped; the attachment then
		// ends when this thread exits.
		unix.PtraceDetach(pid) //nolint:errcheck
		return err
	}
	if err := unix.PtraceDetach(pid); err != nil {
		return &AttachError{Pid: pid, Op: "ptrace detach", Err: err}
	}
	return nil
}

func waitAttachStop(pid int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		var ws unix.WaitStatus
		wpid, err := unix.Wait4(pid, &ws, unix.WALL|unix.WNOHANG, nil)
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case err != nil:
			return &AttachError{Pid: pid, Op: "wait", Err: err}
		case wpid == pid && !ws.Stopped():
			return &AttachError{Pid: pid, Op: "wait", Err: unix.ESRCH}
		case wpid == pid && ws.StopSignal() == unix.SIGSTOP:
			return nil
		case wpid == pid:
			// Some other signal arrived first; pass it on and keep waiting
			// for the attach SIGSTOP so it is not left pending.
			if err := unix.PtraceCont(pid, int(ws.StopSignal())); err != nil {
				return &AttachError{Pid: pid, Op: "ptrace cont", Err: err}
			}
			continue
		}

		if time.Now().After(deadline) {
			st, err := procfs.Default.ReadStatus(strconv.Itoa(pid))
			if err == nil && st.TracingStop() && st.TracerPid == unix.Gettid() {
				return nil
			}
			return &AttachError{Pid: pid, Op: "wait", Err: os.ErrDeadlineExceeded}
		}
		time.Sleep(pollInterval)
	}
}
