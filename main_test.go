package antidebug_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tusharlock10/antidebug/internal/probe"
)

// TestMain turns the test binary into a target or an attacher when launched
// by the helpers below. The sentinel hook has already run in init.
func TestMain(m *testing.M) {
	if probe.Requested() {
		os.Exit(probe.Run())
	}
	os.Exit(m.Run())
}

func startTarget(t *testing.T) *probe.Target {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	target, err := probe.Start(ctx, os.Args[0], nil)
	require.NoError(t, err)
	t.Cleanup(func() { target.Close() })
	return target
}

// tryAttach attaches to pid from a sibling process and detaches again. The
// test fails if that does not finish in time.
func tryAttach(t *testing.T, pid int) error {
	t.Helper()
	limit := probe.AttachTimeout + 10*time.Second
	ctx, cancel := context.WithTimeout(context.Background(), limit)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- probe.Attach(ctx, os.Args[0], pid) }()
	select {
	case err := <-done:
		return err
	case <-time.After(limit + time.Second):
		t.Fatalf("attach to %d did not return", pid)
		return nil
	}
}

// holdTracer keeps pid traced by a sibling process until the test ends.
func holdTracer(t *testing.T, pid int) (*probe.Tracer, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	tr, err := probe.Hold(ctx, os.Args[0], pid)
	if err != nil {
		return nil, err
	}
	t.Cleanup(func() { tr.Close() })
	return tr, nil
}
