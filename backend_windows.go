package antidebug

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"golang.org/x/sys/windows"

	"github.com/tusharlock10/antidebug/internal/sentinel"
	"github.com/tusharlock10/antidebug/internal/tracer"
)

type windowsBackend struct {
	signals  func() bool
	sentinel func() bool
	spawn    func(ctx context.Context, logger zerolog.Logger) error
}

var native Backend = windowsBackend{
	signals:  debuggerSignals,
	sentinel: sentinel.Active,
	spawn:    sentinel.Spawn,
}

// IsDebuggerPresent ignores the debugger when it is our own sentinel.
func (b windowsBackend) IsDebuggerPresent() bool {
	if !b.signals() {
		return false
	}
	return !b.sentinel()
}

func (b windowsBackend) DenyAttach() error {
	if b.sentinel() {
		return &DenialError{Kind: KindAlreadyDenied, Op: "sentinel check"}
	}
	if b.signals() {
		return &DenialError{Kind: KindDebuggerAttached, Op: "debugger check"}
	}
	err := b.spawn(context.Background(), *log())
	if err == nil {
		return nil
	}

	var attachErr *tracer.AttachError
	if !errors.As(err, &attachErr) {
		return denialError(KindOS, "start sentinel", err)
	}
	switch {
	case b.sentinel():
		return denialError(KindAlreadyDenied, attachErr.Op, err)
	case b.signals():
		return denialError(KindDebuggerAttached, attachErr.Op, err)
	case errors.Is(err, windows.ERROR_ACCESS_DENIED), errors.Is(err, windows.ERROR_PRIVILEGE_NOT_HELD):
		return denialError(KindUnsupported, attachErr.Op, err)
	default:
		return denialError(KindOS, attachErr.Op, err)
	}
}
