// Package process manages helper processes launched from the running binary.
package process

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
)

// Manager monitors the lifecycle of a launched helper process.
type Manager struct {
	cmd     *exec.Cmd
	exited  chan struct{}
	exitErr error
	mu      sync.Mutex
}

type options struct {
	stdout      io.Writer
	stderr      io.Writer
	parentDeath bool
}

// Option configures Launch.
type Option func(*options)

// WithOutput connects the child's stdout and stderr to the given writers.
// By default both go to our stderr.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(o *options) {
		o.stdout = stdout
		o.stderr = stderr
	}
}

// WithParentDeathSignal asks the kernel to kill the child when the launching
// thread exits. Only honoured on Linux and Android.
func WithParentDeathSignal() Option {
	return func(o *options) {
		o.parentDeath = true
	}
}

// Launch starts binaryPath with args. env contains additional environment
// variables appended to the current environment.
func Launch(binaryPath string, args, env []string, opts ...Option) (*Manager, error) {
	o := options{stdout: os.Stderr, stderr: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}

	//nolint:gosec // G204: binaryPath is our own executable.
	cmd := exec.Command(binaryPath, args...)
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdout = o.stdout
	cmd.Stderr = o.stderr
	cmd.SysProcAttr = sysProcAttr(o)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("launch %s: %w", binaryPath, err)
	}

	m := &Manager{
		cmd:    cmd,
		exited: make(chan struct{}),
	}

	go func() {
		m.exitErr = cmd.Wait()
		close(m.exited)
	}()

	return m, nil
}

// Pid returns the child's process id.
func (m *Manager) Pid() int {
	return m.cmd.Process.Pid
}

// Wait blocks until the child process exits and returns its exit error (nil for exit code 0).
func (m *Manager) Wait() error {
	<-m.exited
	return m.exitErr
}

// Exited returns a channel that is closed when the process exits.
func (m *Manager) Exited() <-chan struct{} {
	return m.exited
}

// Signal sends an OS signal to the child process.
func (m *Manager) Signal(sig os.Signal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cmd.Process != nil {
		m.cmd.Process.Signal(sig) //nolint:errcheck
	}
}

// Kill terminates the child immediately and waits for it to be reaped.
func (m *Manager) Kill() error {
	m.mu.Lock()
	if m.cmd.Process != nil {
		m.cmd.Process.Kill() //nolint:errcheck
	}
	m.mu.Unlock()
	<-m.exited
	return m.exitErr
}
