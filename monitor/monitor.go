// Package monitor watches the process for debuggers in the background.
//
// A Monitor checks at a random interval so the timing of checks cannot be
// fingerprinted. The first detection marks the process compromised and runs
// the configured reaction; later detections are reported at a limited rate.
package monitor

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/awnumar/memguard"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tusharlock10/antidebug"
	"github.com/tusharlock10/antidebug/internal/tracerinfo"
)

// Detector is the query the monitor runs. antidebug.Native() satisfies it.
type Detector interface {
	IsDebuggerPresent() bool
}

// Event describes one detection.
type Event struct {
	Time time.Time
	// First is true for the detection that marked the process compromised.
	First bool
	// Count is the number of detections so far, this one included.
	Count int64
	// Tracer is set when the platform names the debugging process.
	Tracer *tracerinfo.Info
}

// Monitor runs periodic debugger checks.
type Monitor struct {
	detector    Detector
	minInterval time.Duration
	maxInterval time.Duration
	log         zerolog.Logger
	handlers    []func(Event)
	limiter     *rate.Limiter

	exitEnabled  bool
	exitCode     int
	exitMaxDelay time.Duration
	exit         func(code int)

	detected   atomic.Bool
	detections atomic.Int64
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithDetector replaces the native detector.
func WithDetector(d Detector) Option {
	return func(m *Monitor) { m.detector = d }
}

// WithInterval sets the bounds of the random delay between checks.
func WithInterval(lo, hi time.Duration) Option {
	return func(m *Monitor) {
		m.minInterval = lo
		m.maxInterval = hi
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Monitor) { m.log = l }
}

// OnDetect registers a handler. Handlers run on the monitor goroutine and
// should return quickly.
func OnDetect(fn func(Event)) Option {
	return func(m *Monitor) { m.handlers = append(m.handlers, fn) }
}

// WithNotifyRate limits how often repeated detections reach handlers. The
// first detection is always delivered.
func WithNotifyRate(every time.Duration, burst int) Option {
	return func(m *Monitor) { m.limiter = rate.NewLimiter(rate.Every(every), burst) }
}

// WithExit terminates the process with code at a random moment within
// maxDelay of the first detection. Guarded memory is wiped first.
func WithExit(code int, maxDelay time.Duration) Option {
	return func(m *Monitor) {
		m.exitEnabled = true
		m.exitCode = code
		m.exitMaxDelay = maxDelay
	}
}

// New creates a Monitor. By default it checks every 5 to 10 seconds with the
// native detector, logs nothing and only records detections.
func New(opts ...Option) *Monitor {
	m := &Monitor{
		detector:    antidebug.Native(),
		minInterval: 5 * time.Second,
		maxInterval: 10 * time.Second,
		log:         zerolog.Nop(),
		limiter:     rate.NewLimiter(rate.Every(30*time.Second), 1),
		exit:        memguard.SafeExit,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.maxInterval < m.minInterval {
		m.maxInterval = m.minInterval
	}
	return m
}

// Run checks until ctx is cancelled. It should be called in a goroutine.
func (m *Monitor) Run(ctx context.Context) {
	// Check immediately at startup before entering the loop.
	m.check(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(m.jitter()):
			m.check(ctx)
		}
	}
}

// IsCompromised reports whether a debugger has been seen.
func (m *Monitor) IsCompromised() bool {
	return m.detected.Load()
}

// Detections returns the number of checks that found a debugger.
func (m *Monitor) Detections() int64 {
	return m.detections.Load()
}

func (m *Monitor) jitter() time.Duration {
	span := m.maxInterval - m.minInterval
	if span <= 0 {
		return m.minInterval
	}
	return m.minInterval + time.Duration(rand.Int63n(int64(span)+1))
}

func (m *Monitor) check(ctx context.Context) {
	if !m.detector.IsDebuggerPresent() {
		return
	}

	ev := Event{Time: time.Now(), Count: m.detections.Add(1)}
	ev.First = m.detected.CompareAndSwap(false, true)
	if !ev.First && !m.limiter.Allow() {
		return
	}
	if info, ok := tracerinfo.Current(ctx); ok {
		ev.Tracer = &info
	}

	logEv := m.log.Warn().Int64("count", ev.Count).Bool("first", ev.First)
	if ev.Tracer != nil {
		logEv = logEv.Int("tracer_pid", ev.Tracer.PID).Str("tracer", ev.Tracer.Name)
	}
	logEv.Msg("Debugger detected")

	for _, fn := range m.handlers {
		fn(ev)
	}

	if ev.First && m.exitEnabled {
		go m.exitAfterDelay()
	}
}

// exitAfterDelay waits a randomised delay then exits. The default exit code
// 137 matches a SIGKILL termination.
func (m *Monitor) exitAfterDelay() {
	var delay time.Duration
	if m.exitMaxDelay > 0 {
		delay = time.Duration(rand.Int63n(int64(m.exitMaxDelay)))
	}
	time.Sleep(delay)
	m.log.Error().Int("code", m.exitCode).Msg("Terminating after debugger detection")
	m.exit(m.exitCode)
}
