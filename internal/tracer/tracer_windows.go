package tracer

import (
	"fmt"
	"time"
	"unsafe"

	"github.com/rs/zerolog"
	"golang.org/x/sys/windows"
)

var (
	kernel32                      = windows.NewLazySystemDLL("kernel32.dll")
	procDebugActiveProcess        = kernel32.NewProc("DebugActiveProcess")
	procDebugActiveProcessStop    = kernel32.NewProc("DebugActiveProcessStop")
	procDebugSetProcessKillOnExit = kernel32.NewProc("DebugSetProcessKillOnExit")
	procWaitForDebugEvent         = kernel32.NewProc("WaitForDebugEvent")
	procContinueDebugEvent        = kernel32.NewProc("ContinueDebugEvent")
)

const (
	_DBG_CONTINUE              = 0x00010002
	_DBG_EXCEPTION_NOT_HANDLED = 0x80010001

	_EXCEPTION_DEBUG_EVENT      = 1
	_CREATE_PROCESS_DEBUG_EVENT = 3
	_EXIT_PROCESS_DEBUG_EVENT   = 5
	_LOAD_DLL_DEBUG_EVENT       = 6

	_EXCEPTION_BREAKPOINT = 0x80000003

	_INFINITE = 0xFFFFFFFF
)

type _DEBUG_EVENT struct {
	DebugEventCode uint32
	ProcessId      uint32
	ThreadId       uint32
	_              uint32 // to align Union properly
	U              [160]byte
}

// handle returns the first union member when it is a file handle
// (CREATE_PROCESS_DEBUG_INFO.hFile, LOAD_DLL_DEBUG_INFO.hFile).
func (ev *_DEBUG_EVENT) handle() windows.Handle {
	return *(*windows.Handle)(unsafe.Pointer(&ev.U[0]))
}

func (ev *_DEBUG_EVENT) exceptionCode() uint32 {
	return *(*uint32)(unsafe.Pointer(&ev.U[0]))
}

func call(p *windows.LazyProc, args ...uintptr) error {
	ret, _, err := p.Call(args...)
	if ret == 0 {
		return err
	}
	return nil
}

// Session is a process we are attached to as its debugger.
type Session struct {
	pid int
	log zerolog.Logger
}

// Attach becomes the debugger of pid. If the calling thread dies the system
// kills pid as well.
func Attach(pid int, logger zerolog.Logger) (*Session, error) {
	if err := call(procDebugActiveProcess, uintptr(pid)); err != nil {
		return nil, &AttachError{Pid: pid, Op: "DebugActiveProcess", Err: err}
	}
	if err := call(procDebugSetProcessKillOnExit, 1); err != nil {
		call(procDebugActiveProcessStop, uintptr(pid)) //nolint:errcheck
		return nil, &AttachError{Pid: pid, Op: "DebugSetProcessKillOnExit", Err: err}
	}
	return &Session{pid: pid, log: logger}, nil
}

// Serve answers debug events until the process exits. Exceptions are passed
// back to the process. ready is called after the attach breakpoint.
func (s *Session) Serve(ready func()) error {
	seenAttachBreak := false
	for {
		var ev _DEBUG_EVENT
		if err := call(procWaitForDebugEvent, uintptr(unsafe.Pointer(&ev)), _INFINITE); err != nil {
			return fmt.Errorf("WaitForDebugEvent: %w", err)
		}

		status := uintptr(_DBG_CONTINUE)
		switch ev.DebugEventCode {
		case _CREATE_PROCESS_DEBUG_EVENT, _LOAD_DLL_DEBUG_EVENT:
			if h := ev.handle(); h != 0 && h != windows.InvalidHandle {
				windows.CloseHandle(h) //nolint:errcheck
			}
		case _EXCEPTION_DEBUG_EVENT:
			if !seenAttachBreak && ev.exceptionCode() == _EXCEPTION_BREAKPOINT {
				seenAttachBreak = true
				if ready != nil {
					ready()
				}
				break
			}
			status = _DBG_EXCEPTION_NOT_HANDLED
		}

		if err := call(procContinueDebugEvent, uintptr(ev.ProcessId), uintptr(ev.ThreadId), status); err != nil {
			s.log.Debug().Err(err).Uint32("tid", ev.ThreadId).Msg("ContinueDebugEvent failed")
		}
		if ev.DebugEventCode == _EXIT_PROCESS_DEBUG_EVENT && int(ev.ProcessId) == s.pid {
			s.log.Debug().Int("pid", s.pid).Msg("Debugged process exited")
			return nil
		}
	}
}

// Probe attaches to pid as a debugger and detaches again without killing it.
// Attaching does not wait for the target, so timeout is not used.
func Probe(pid int, _ time.Duration) error {
	if err := call(procDebugActiveProcess, uintptr(pid)); err != nil {
		return &AttachError{Pid: pid, Op: "DebugActiveProcess", Err: err}
	}
	call(procDebugSetProcessKillOnExit, 0) //nolint:errcheck
	if err := call(procDebugActiveProcessStop, uintptr(pid)); err != nil {
		return &AttachError{Pid: pid, Op: "DebugActiveProcessStop", Err: err}
	}
	return nil
}
