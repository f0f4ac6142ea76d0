package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDetector struct {
	present atomic.Bool
	calls   atomic.Int64
}

func (f *fakeDetector) IsDebuggerPresent() bool {
	f.calls.Add(1)
	return f.present.Load()
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func runFor(t *testing.T, m *Monitor, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d + 5*time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestCleanProcess(t *testing.T) {
	det := &fakeDetector{}
	var rec recorder
	m := New(WithDetector(det), WithInterval(time.Millisecond, 2*time.Millisecond), OnDetect(rec.handle))

	runFor(t, m, 50*time.Millisecond)

	assert.False(t, m.IsCompromised())
	assert.Zero(t, m.Detections())
	assert.Empty(t, rec.snapshot())
	assert.Greater(t, det.calls.Load(), int64(1))
}

func TestFirstDetectionAlwaysDelivered(t *testing.T) {
	det := &fakeDetector{}
	det.present.Store(true)
	var rec recorder
	m := New(
		WithDetector(det),
		WithInterval(time.Millisecond, time.Millisecond),
		WithNotifyRate(time.Hour, 1),
		OnDetect(rec.handle),
	)

	runFor(t, m, 50*time.Millisecond)

	require.True(t, m.IsCompromised())
	events := rec.snapshot()
	require.NotEmpty(t, events)
	assert.True(t, events[0].First)
	assert.Equal(t, int64(1), events[0].Count)
	// One burst token after the first event, then the limiter holds.
	assert.LessOrEqual(t, len(events), 2)
	assert.Greater(t, m.Detections(), int64(len(events)))
	for _, ev := range events[1:] {
		assert.False(t, ev.First)
	}
}

func TestExitAction(t *testing.T) {
	det := &fakeDetector{}
	det.present.Store(true)
	codes := make(chan int, 1)
	m := New(WithDetector(det), WithInterval(time.Hour, time.Hour), WithExit(137, 10*time.Millisecond))
	m.exit = func(code int) { codes <- code }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	select {
	case code := <-codes:
		assert.Equal(t, 137, code)
	case <-time.After(5 * time.Second):
		t.Fatal("exit action did not run")
	}
}

func TestJitterBounds(t *testing.T) {
	m := New(WithInterval(10*time.Millisecond, 20*time.Millisecond))
	for i := 0; i < 100; i++ {
		d := m.jitter()
		assert.GreaterOrEqual(t, d, 10*time.Millisecond)
		assert.LessOrEqual(t, d, 20*time.Millisecond)
	}

	fixed := New(WithInterval(30*time.Millisecond, time.Millisecond))
	assert.Equal(t, 30*time.Millisecond, fixed.jitter())
}
