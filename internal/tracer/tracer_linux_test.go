package tracer

import (
	"errors"
	"os"
	"runtime"
	"strconv"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/tusharlock10/antidebug/internal/procfs"
)

const attachTimeout = 2 * time.Second

func TestMain(m *testing.M) {
	if os.Getenv("TRACER_TEST_HELPER") == "sleep" {
		time.Sleep(30 * time.Second)
		os.Exit(0)
	}
	os.Exit(m.Run())
}

// startSleeper starts a helper child. It is reaped only in cleanup, so no
// other waiter in this process competes for its stop reports.
func startSleeper(t *testing.T) *os.Process {
	t.Helper()
	p, err := os.StartProcess(os.Args[0], []string{os.Args[0]}, &os.ProcAttr{
		Env:   append(os.Environ(), "TRACER_TEST_HELPER=sleep"),
		Files: []*os.File{nil, os.Stderr, os.Stderr},
		Sys:   &syscall.SysProcAttr{Pdeathsig: syscall.SIGKILL},
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		p.Kill() //nolint:errcheck
		p.Wait() //nolint:errcheck
	})
	// Give the helper time to start its runtime threads.
	time.Sleep(200 * time.Millisecond)
	return p
}

// tryAttach runs Probe on a locked thread and fails the test if it does not
// return well within its own timeout.
func tryAttach(t *testing.T, pid int, timeout time.Duration) error {
	t.Helper()
	done := make(chan error, 1)
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		done <- Probe(pid, timeout)
	}()
	select {
	case err := <-done:
		return err
	case <-time.After(timeout + 5*time.Second):
		t.Fatalf("attach to %d did not return", pid)
		return nil
	}
}

func skipIfForbidden(t *testing.T, err error) {
	t.Helper()
	if errors.Is(err, unix.EPERM) {
		t.Skip("ptrace attach is not permitted in this environment")
	}
}

func requireDetached(t *testing.T, pid int) {
	t.Helper()
	st, err := procfs.Default.ReadStatus(strconv.Itoa(pid))
	require.NoError(t, err)
	assert.Zero(t, st.TracerPid)
	assert.False(t, st.TracingStop())
}

func TestAttachLeavesTargetRunning(t *testing.T) {
	p := startSleeper(t)

	err := tryAttach(t, p.Pid, attachTimeout)
	skipIfForbidden(t, err)
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	requireDetached(t, p.Pid)
}

func TestRepeatedAttachToChild(t *testing.T) {
	p := startSleeper(t)

	for i := 0; i < 50; i++ {
		err := tryAttach(t, p.Pid, attachTimeout)
		if i == 0 {
			skipIfForbidden(t, err)
		}
		require.NoError(t, err, "attach %d", i)
	}
	requireDetached(t, p.Pid)
}

func TestAttachWithCompetingWaiter(t *testing.T) {
	p := startSleeper(t)

	waiting := make(chan struct{})
	go func() {
		close(waiting)
		// Blocks until the first report for the child, normally the attach
		// stop. The thread is any runtime thread, not the tracer thread.
		var ws unix.WaitStatus
		unix.Wait4(p.Pid, &ws, unix.WALL, nil) //nolint:errcheck
	}()
	<-waiting
	time.Sleep(50 * time.Millisecond)

	err := tryAttach(t, p.Pid, 500*time.Millisecond)
	skipIfForbidden(t, err)
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	st, err := procfs.Default.ReadStatus(strconv.Itoa(p.Pid))
	require.NoError(t, err)
	assert.Zero(t, st.TracerPid)
}

func TestSeizeOccupiesTracerSlot(t *testing.T) {
	p := startSleeper(t)
	pid := p.Pid

	ready := make(chan error, 1)
	done := make(chan error, 1)
	go func() {
		// The thread is deliberately left locked; it is discarded when this
		// goroutine returns.
		runtime.LockOSThread()
		s, err := Seize(pid, zerolog.Nop())
		if err != nil {
			ready <- err
			return
		}
		done <- s.Serve(func() { ready <- nil })
	}()

	select {
	case err := <-ready:
		skipIfForbidden(t, err)
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("seize did not complete")
	}

	err := tryAttach(t, pid, attachTimeout)
	require.Error(t, err)
	assert.ErrorIs(t, err, unix.EPERM)

	var attachErr *AttachError
	require.ErrorAs(t, err, &attachErr)
	assert.Equal(t, pid, attachErr.Pid)

	p.Kill() //nolint:errcheck
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after the target died")
	}
}

func TestAttachMissingProcess(t *testing.T) {
	err := tryAttach(t, 1<<22, attachTimeout)
	assert.ErrorIs(t, err, unix.ESRCH)
}
