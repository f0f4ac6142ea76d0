//go:build linux || windows

// Package sentinel occupies the debugger slot of a process with a helper
// process that does nothing but keep the slot taken.
//
// The helper is the running executable itself, re-executed with the
// environment markers below. Any binary that links this package turns into a
// sentinel from init when it finds the markers, before main runs.
package sentinel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tusharlock10/antidebug/internal/ipc"
	"github.com/tusharlock10/antidebug/internal/process"
	"github.com/tusharlock10/antidebug/internal/tracer"
)

const (
	envAddr     = "ANTIDEBUG_SENTINEL_ADDR"
	envToken    = "ANTIDEBUG_SENTINEL_TOKEN"
	envTarget   = "ANTIDEBUG_SENTINEL_TARGET"
	envLogLevel = "ANTIDEBUG_SENTINEL_LOG_LEVEL"

	handshakeTimeout = 10 * time.Second
)

// ErrHandshake means the helper that connected back is not the one we launched.
var ErrHandshake = errors.New("sentinel handshake failed")

func init() {
	addr := os.Getenv(envAddr)
	if addr == "" {
		return
	}
	os.Exit(run(addr, os.Getenv(envToken), os.Getenv(envTarget)))
}

func childLogger() zerolog.Logger {
	level, err := zerolog.ParseLevel(os.Getenv(envLogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.WarnLevel
	}
	return zerolog.New(os.Stderr).Level(level).With().
		Timestamp().
		Str("component", "antidebug-sentinel").
		Int("pid", os.Getpid()).
		Logger()
}

// run is the sentinel side. It never returns while the target lives.
func run(addr, token, target string) int {
	// Tracing is bound to the thread that attached.
	runtime.LockOSThread()
	log := childLogger()

	targetPid, err := strconv.Atoi(target)
	if err != nil || targetPid != os.Getppid() {
		log.Error().Str("target", target).Msg("Sentinel target is not our parent")
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), handshakeTimeout)
	defer cancel()
	conn, err := ipc.Dial(ctx, addr)
	if err != nil {
		log.Error().Err(err).Msg("Sentinel could not reach its target")
		return 2
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(handshakeTimeout)) //nolint:errcheck

	if err := conn.Send(ipc.Message{Type: ipc.TypeHello, PID: os.Getpid(), Token: token}); err != nil {
		log.Error().Err(err).Msg("Sentinel handshake failed")
		return 2
	}
	if _, err := conn.Expect(ipc.TypeAttach); err != nil {
		log.Error().Err(err).Msg("Sentinel handshake failed")
		return 2
	}

	sess, err := attach(targetPid, log)
	if err != nil {
		log.Debug().Err(err).Msg("Sentinel attach failed")
		op := "attach"
		var ae *tracer.AttachError
		if errors.As(err, &ae) {
			op = ae.Op
		}
		conn.Send(ipc.Failed(op, errnoOf(err), err)) //nolint:errcheck
		return 1
	}

	err = sess.Serve(func() {
		if err := conn.Send(ipc.Message{Type: ipc.TypeReady, PID: os.Getpid()}); err != nil {
			log.Warn().Err(err).Msg("Sentinel could not report readiness")
		}
		conn.Close() //nolint:errcheck
	})
	if err != nil {
		log.Error().Err(err).Msg("Sentinel stopped")
		return 1
	}
	return 0
}

func errnoOf(err error) int {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return int(errno)
	}
	return 0
}

// Spawn launches the sentinel for the current process and returns once it
// holds the debugger slot. A failed attach is returned as a
// *tracer.AttachError carrying the OS error seen by the sentinel.
func Spawn(ctx context.Context, logger zerolog.Logger) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}

	token := uuid.NewString()
	ln, err := ipc.Listen(ipc.Address(token))
	if err != nil {
		return err
	}
	defer ln.Close()

	env := []string{
		envAddr + "=" + ln.Addr(),
		envToken + "=" + token,
		envTarget + "=" + strconv.Itoa(os.Getpid()),
	}
	if logger.GetLevel() <= zerolog.DebugLevel {
		env = append(env, envLogLevel+"=debug")
	}
	m, err := process.Launch(exe, nil, env)
	if err != nil {
		return fmt.Errorf("start sentinel: %w", err)
	}
	logger.Debug().Int("sentinel_pid", m.Pid()).Msg("Sentinel started")

	if err := handshake(ctx, ln, m, token, logger); err != nil {
		m.Kill() //nolint:errcheck
		return err
	}
	started(m)
	return nil
}

func handshake(ctx context.Context, ln *ipc.Listener, m *process.Manager, token string, logger zerolog.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
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
		select {
		case <-m.Exited():
			return fmt.Errorf("sentinel exited before connecting: %w", m.Wait())
		default:
			return fmt.Errorf("wait for sentinel: %w", err)
		}
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline) //nolint:errcheck
	}

	hello, err := conn.Expect(ipc.TypeHello)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	if hello.Token != token || hello.PID != m.Pid() {
		return ErrHandshake
	}
	if pid, err := conn.PeerPID(); err == nil && pid != m.Pid() {
		return fmt.Errorf("%w: peer pid %d is not %d", ErrHandshake, pid, m.Pid())
	}

	if err := allowTracer(m.Pid()); err != nil {
		return err
	}
	if err := conn.Send(ipc.Message{Type: ipc.TypeAttach}); err != nil {
		return err
	}

	_, err = conn.Expect(ipc.TypeReady)
	var remote *ipc.RemoteError
	if errors.As(err, &remote) {
		failure := &tracer.AttachError{Pid: os.Getpid(), Op: remote.Kind, Err: errors.New(remote.Msg)}
		if remote.Errno != 0 {
			failure.Err = syscall.Errno(remote.Errno)
		}
		return failure
	}
	if err != nil {
		return fmt.Errorf("wait for sentinel: %w", err)
	}
	logger.Debug().Int("sentinel_pid", m.Pid()).Msg("Sentinel holds the debugger slot")
	return nil
}
