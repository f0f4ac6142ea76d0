// Package probe runs a copy of the current executable as a target process
// that can be told to deny attachment, so that attach attempts against it can
// be observed from outside.
package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/tusharlock10/antidebug"
	"github.com/tusharlock10/antidebug/internal/ipc"
	"github.com/tusharlock10/antidebug/internal/process"
)

const (
	envAddr  = "ANTIDEBUG_PROBE_ADDR"
	envToken = "ANTIDEBUG_PROBE_TOKEN"

	startTimeout = 10 * time.Second
	stopTimeout  = 5 * time.Second
)

// Requested reports whether this process was started as a probe target or
// as an attacher. Run must then take over before anything else.
func Requested() bool {
	return os.Getenv(envAddr) != "" || os.Getenv(envAttach) != ""
}

// Run plays the role the environment asks for and returns the process exit
// code.
func Run() int {
	if os.Getenv(envAttach) != "" {
		return runAttacher()
	}
	return runTarget()
}

// Target is the parent-side handle of a running probe target.
type Target struct {
	m    *process.Manager
	conn *ipc.Conn
}

// Start launches exe with args as a probe target and waits for it to connect.
// exe must call Run when Requested is true.
func Start(ctx context.Context, exe string, args []string) (*Target, error) {
	token := uuid.NewString()
	ln, err := ipc.Listen(ipc.Address(token))
	if err != nil {
		return nil, err
	}
	defer ln.Close()

	m, err := process.Launch(exe, args, []string{
		envAddr + "=" + ln.Addr(),
		envToken + "=" + token,
	}, process.WithParentDeathSignal())
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()
	go func() {
		select {
		case <-m.Exited():
			cancel()
		case <-ctx.Done():
		}
	}()

	conn, err := ln.Accept(ctx)
	if err != nil {
		m.Kill() //nolint:errcheck
		return nil, fmt.Errorf("wait for probe target: %w", err)
	}
	hello, err := conn.Expect(ipc.TypeHello)
	if err == nil && (hello.Token != token || hello.PID != m.Pid()) {
		err = errors.New("probe target sent wrong credentials")
	}
	if err != nil {
		conn.Close()
		m.Kill() //nolint:errcheck
		return nil, err
	}
	return &Target{m: m, conn: conn}, nil
}

// Pid returns the target's process id.
func (t *Target) Pid() int {
	return t.m.Pid()
}

func (t *Target) call(cmd string) (ipc.Message, error) {
	if err := t.conn.Send(ipc.Message{Type: cmd}); err != nil {
		return ipc.Message{}, err
	}
	return t.conn.Expect(ipc.TypeResult)
}

// Check asks the target whether it sees a debugger.
func (t *Target) Check() (bool, error) {
	res, err := t.call(ipc.TypeCheck)
	if err != nil {
		return false, err
	}
	return res.Present, nil
}

// Deny asks the target to call antidebug.DenyAttach and returns its result.
// A failure comes back as an *antidebug.DenialError.
func (t *Target) Deny() error {
	res, err := t.call(ipc.TypeDeny)
	if err != nil {
		return err
	}
	if res.Kind == "" {
		return nil
	}
	de := &antidebug.DenialError{Code: uintptr(res.Errno), Err: errors.New(res.Error)}
	if err := de.Kind.UnmarshalText([]byte(res.Kind)); err != nil {
		return fmt.Errorf("decode deny result: %w", err)
	}
	return de
}

// Harden asks the target to call antidebug.Harden.
func (t *Target) Harden() error {
	res, err := t.call(ipc.TypeHarden)
	if err != nil {
		return err
	}
	if res.Error != "" {
		return errors.New(res.Error)
	}
	return nil
}

// Close tells the target to exit and waits for it. A target that does not
// respond is stopped with a signal.
func (t *Target) Close() error {
	defer t.conn.Close()
	if err := t.conn.Send(ipc.Message{Type: ipc.TypeExit}); err != nil {
		return t.m.Stop(stopTimeout)
	}
	select {
	case <-t.m.Exited():
		return t.m.Wait()
	case <-time.After(stopTimeout):
		return t.m.Stop(stopTimeout)
	}
}

// runTarget serves commands until told to exit.
func runTarget() int {
	allowAnyTracer()

	ctx, cancel := context.WithTimeout(context.Background(), startTimeout)
	defer cancel()
	conn, err := ipc.Dial(ctx, os.Getenv(envAddr))
	if err != nil {
		fmt.Fprintf(os.Stderr, "probe target: %v\n", err)
		return 2
	}
	defer conn.Close()

	if err := conn.Send(ipc.Message{Type: ipc.TypeHello, PID: os.Getpid(), Token: os.Getenv(envToken)}); err != nil {
		fmt.Fprintf(os.Stderr, "probe target: %v\n", err)
		return 2
	}

	for {
		m, err := conn.Recv()
		if errors.Is(err, io.EOF) {
			return 0
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "probe target: %v\n", err)
			return 2
		}

		var res ipc.Message
		switch m.Type {
		case ipc.TypeCheck:
			res = ipc.Message{Type: ipc.TypeResult, Present: antidebug.IsDebuggerPresent()}
		case ipc.TypeDeny:
			res = denyResult(antidebug.DenyAttach())
		case ipc.TypeHarden:
			res = ipc.Message{Type: ipc.TypeResult}
			if err := antidebug.Harden(); err != nil {
				res.Error = err.Error()
			}
		case ipc.TypeExit:
			return 0
		default:
			res = ipc.Failed("protocol", 0, fmt.Errorf("unknown command %q", m.Type))
		}
		if err := conn.Send(res); err != nil {
			fmt.Fprintf(os.Stderr, "probe target: %v\n", err)
			return 2
		}
	}
}

func denyResult(err error) ipc.Message {
	res := ipc.Message{Type: ipc.TypeResult}
	if err == nil {
		return res
	}
	res.Error = err.Error()
	var de *antidebug.DenialError
	if !errors.As(err, &de) {
		res.Kind = "os"
		return res
	}
	kind, _ := de.Kind.MarshalText()
	res.Kind = string(kind)
	if code, ok := antidebug.OSCode(err); ok {
		res.Errno = int(code)
	}
	return res
}
