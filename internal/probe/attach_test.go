package probe

import (
	"context"
	"errors"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tusharlock10/antidebug/internal/ipc"
	"github.com/tusharlock10/antidebug/internal/tracer"
)

func TestMain(m *testing.M) {
	if Requested() {
		os.Exit(Run())
	}
	os.Exit(m.Run())
}

func TestAttachResult(t *testing.T) {
	assert.NoError(t, attachResult(7, ipc.Message{Type: ipc.TypeReady}))

	err := attachResult(7, ipc.Failed("ptrace attach", int(syscall.EPERM), syscall.EPERM))
	var ae *tracer.AttachError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, 7, ae.Pid)
	assert.Equal(t, "ptrace attach", ae.Op)
	assert.ErrorIs(t, err, syscall.EPERM)

	err = attachResult(7, ipc.Failed("wait", 0, errors.New("deadline")))
	require.ErrorAs(t, err, &ae)
	assert.EqualError(t, ae.Err, "deadline")

	var pe *ipc.ProtocolError
	assert.ErrorAs(t, attachResult(7, ipc.Message{Type: ipc.TypeCheck}), &pe)
}

func TestFailureCarriesErrno(t *testing.T) {
	msg := failure(&tracer.AttachError{Pid: 3, Op: "ptrace attach", Err: syscall.EPERM})
	assert.Equal(t, ipc.TypeFailed, msg.Type)
	assert.Equal(t, "ptrace attach", msg.Kind)
	assert.Equal(t, int(syscall.EPERM), msg.Errno)

	msg = failure(errors.New("boom"))
	assert.Equal(t, "attach", msg.Kind)
	assert.Zero(t, msg.Errno)
}

func TestAttachToOwnChildTarget(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	target, err := Start(ctx, os.Args[0], nil)
	require.NoError(t, err)
	defer target.Close()

	for i := 0; i < 20; i++ {
		done := make(chan error, 1)
		go func() { done <- Attach(ctx, os.Args[0], target.Pid()) }()

		select {
		case err := <-done:
			if i == 0 && (errors.Is(err, syscall.EPERM) || errors.Is(err, syscall.ENOSYS)) {
				t.Skipf("attach is not permitted here: %v", err)
			}
			require.NoError(t, err, "attach %d", i)
		case <-time.After(AttachTimeout + startTimeout + 5*time.Second):
			t.Fatalf("attach %d did not return", i)
		}
	}

	present, err := target.Check()
	require.NoError(t, err)
	assert.False(t, present)
}
