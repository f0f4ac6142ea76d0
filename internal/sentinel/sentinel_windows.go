package sentinel

import (
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/tusharlock10/antidebug/internal/process"
	"github.com/tusharlock10/antidebug/internal/tracer"
)

type session interface {
	Serve(ready func()) error
}

func attach(pid int, log zerolog.Logger) (session, error) {
	return tracer.Attach(pid, log)
}

// running is the sentinel that completed the handshake with this process.
var running atomic.Pointer[process.Manager]

func started(m *process.Manager) {
	running.Store(m)
}

func allowTracer(int) error { return nil }

// Active reports whether the sentinel started by Spawn is still running. A
// process has at most one debugger, so while it runs the debugger is the
// sentinel. Nothing outside this process can make Active true.
func Active() bool {
	m := running.Load()
	if m == nil {
		return false
	}
	select {
	case <-m.Exited():
		return false
	default:
		return true
	}
}
