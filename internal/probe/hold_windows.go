package probe

import (
	"github.com/rs/zerolog"

	"github.com/tusharlock10/antidebug/internal/tracer"
)

func hold(pid int) (session, error) {
	return tracer.Attach(pid, zerolog.Nop())
}

func allowAnyTracer() {}
