package antidebug

import (
	"sync/atomic"

	"github.com/rs/zerolog"
)

var logger atomic.Pointer[zerolog.Logger]

func init() {
	nop := zerolog.Nop()
	logger.Store(&nop)
}

// SetLogger routes the library's diagnostics to l. The library is silent by
// default.
func SetLogger(l zerolog.Logger) {
	l = l.With().Str("component", "antidebug").Logger()
	logger.Store(&l)
}

func log() *zerolog.Logger {
	return logger.Load()
}
