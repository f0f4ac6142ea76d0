package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/tusharlock10/antidebug/internal/ipc"
	"github.com/tusharlock10/antidebug/internal/process"
	"github.com/tusharlock10/antidebug/internal/tracer"
)

// An attacher is a separate copy of the executable that attaches to the
// target. The process that launched the target must not attach itself: its
// wait on the child can consume the tracee's stop reports.
const (
	envAttach = "ANTIDEBUG_PROBE_ATTACH"
	envMode   = "ANTIDEBUG_PROBE_MODE"

	modeAttach = "attach"
	modeHold   = "hold"

	// AttachTimeout bounds the wait for the attach stop inside the attacher.
	AttachTimeout = 5 * time.Second
)

type session interface {
	Serve(ready func()) error
}

// Attach attaches to pid from a separate process the way a debugger would
// and detaches again. A refused attach is returned as a *tracer.AttachError
// carrying the OS error.
func Attach(ctx context.Context, exe string, pid int) error {
	m, res, err := startAttacher(ctx, exe, pid, modeAttach)
	if err != nil {
		return err
	}
	select {
	case <-m.Exited():
	case <-time.After(stopTimeout):
		m.Kill() //nolint:errcheck
	}
	return attachResult(pid, res)
}

// Tracer is an attacher process that holds the debugger slot of a target.
type Tracer struct {
	m *process.Manager
}

// Hold attaches to pid from a separate process and keeps the target traced
// until Close.
func Hold(ctx context.Context, exe string, pid int) (*Tracer, error) {
	m, res, err := startAttacher(ctx, exe, pid, modeHold)
	if err != nil {
		return nil, err
	}
	if err := attachResult(pid, res); err != nil {
		m.Kill() //nolint:errcheck
		return nil, err
	}
	return &Tracer{m: m}, nil
}

// Pid returns the attacher's process id.
func (t *Tracer) Pid() int {
	return t.m.Pid()
}

// Close stops the attacher. On Linux the target dies with it.
func (t *Tracer) Close() error {
	return t.m.Stop(stopTimeout)
}

type attacherResult struct {
	msg ipc.Message
	err error
}

// startAttacher launches the attacher and waits for its first report on
// stdout.
func startAttacher(ctx context.Context, exe string, pid int, mode string) (*process.Manager, ipc.Message, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, ipc.Message{}, err
	}
	m, err := process.Launch(exe, nil, []string{
		envAttach + "=" + strconv.Itoa(pid),
		envMode + "=" + mode,
	}, process.WithOutput(w, os.Stderr))
	w.Close() //nolint:errcheck
	if err != nil {
		r.Close() //nolint:errcheck
		return nil, ipc.Message{}, err
	}

	got := make(chan attacherResult, 1)
	go func() {
		defer r.Close() //nolint:errcheck
		var msg ipc.Message
		err := json.NewDecoder(r).Decode(&msg)
		got <- attacherResult{msg: msg, err: err}
	}()

	ctx, cancel := context.WithTimeout(ctx, AttachTimeout+startTimeout)
	defer cancel()
	select {
	case res := <-got:
		if res.err != nil {
			m.Kill() //nolint:errcheck
			return nil, ipc.Message{}, fmt.Errorf("read attacher report: %w", res.err)
		}
		return m, res.msg, nil
	case <-ctx.Done():
		m.Kill() //nolint:errcheck
		return nil, ipc.Message{}, fmt.Errorf("wait for attacher: %w", ctx.Err())
	}
}

func attachResult(pid int, msg ipc.Message) error {
	switch msg.Type {
	case ipc.TypeReady:
		return nil
	case ipc.TypeFailed:
		failure := &tracer.AttachError{Pid: pid, Op: msg.Kind, Err: errors.New(msg.Error)}
		if msg.Errno != 0 {
			failure.Err = syscall.Errno(msg.Errno)
		}
		return failure
	default:
		return &ipc.ProtocolError{Want: ipc.TypeReady, Got: msg.Type}
	}
}

// runAttacher is the attacher side. Its only output on stdout is one report.
func runAttacher() int {
	// Tracing is bound to the thread that attached.
	runtime.LockOSThread()
	enc := json.NewEncoder(os.Stdout)

	pid, err := strconv.Atoi(os.Getenv(envAttach))
	if err != nil {
		enc.Encode(ipc.Failed("attach", 0, fmt.Errorf("bad target pid: %w", err))) //nolint:errcheck
		return 2
	}

	switch mode := os.Getenv(envMode); mode {
	case modeAttach:
		if err := tracer.Probe(pid, AttachTimeout); err != nil {
			enc.Encode(failure(err)) //nolint:errcheck
			return 1
		}
		enc.Encode(ipc.Message{Type: ipc.TypeReady, PID: os.Getpid()}) //nolint:errcheck
		return 0
	case modeHold:
		s, err := hold(pid)
		if err != nil {
			enc.Encode(failure(err)) //nolint:errcheck
			return 1
		}
		err = s.Serve(func() {
			enc.Encode(ipc.Message{Type: ipc.TypeReady, PID: os.Getpid()}) //nolint:errcheck
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "attacher: %v\n", err)
			return 1
		}
		return 0
	default:
		enc.Encode(ipc.Failed("attach", 0, fmt.Errorf("unknown mode %q", mode))) //nolint:errcheck
		return 2
	}
}

func failure(err error) ipc.Message {
	op := "attach"
	var ae *tracer.AttachError
	if errors.As(err, &ae) {
		op = ae.Op
	}
	var errno syscall.Errno
	errors.As(err, &errno)
	return ipc.Failed(op, int(errno), err)
}
