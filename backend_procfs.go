//go:build linux

package antidebug

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/tusharlock10/antidebug/internal/procfs"
	"github.com/tusharlock10/antidebug/internal/tracer"
)

// procfsBackend implements detection through the TracerPid field of
// /proc/self/status and denial through a sentinel tracer. The Linux and
// Android backends are configurations of it.
type procfsBackend struct {
	platform   string
	readStatus func() (procfs.Status, error)
	isOwn      func(pid int) bool
	spawn      func(ctx context.Context, logger zerolog.Logger) error
	// precheck may refuse denial before anything is started.
	precheck func() error
}

func (b procfsBackend) IsDebuggerPresent() bool {
	st, err := b.readStatus()
	if err != nil {
		b.logReadError(err)
		return false
	}
	if !st.Traced() {
		return false
	}
	if b.isOwn(st.TracerPid) {
		return false
	}
	log().Debug().Str("platform", b.platform).Int("tracer_pid", st.TracerPid).Msg("Tracer detected")
	return true
}

func (b procfsBackend) logReadError(err error) {
	ev := log().Debug().Err(err).Str("platform", b.platform)
	if errors.Is(err, fs.ErrPermission) {
		ev.Msg("Process status is not readable, assuming no debugger")
		return
	}
	ev.Msg("Process status check failed, assuming no debugger")
}

func (b procfsBackend) DenyAttach() error {
	if err := b.checkTracer(); err != nil {
		return err
	}
	if b.precheck != nil {
		if err := b.precheck(); err != nil {
			return err
		}
	}
	if err := b.spawn(context.Background(), *log()); err != nil {
		return b.classify(err)
	}
	return nil
}

// checkTracer fails when the tracer slot is already taken.
func (b procfsBackend) checkTracer() error {
	st, err := b.readStatus()
	if err != nil {
		// The attach attempt will tell.
		b.logReadError(err)
		return nil
	}
	if !st.Traced() {
		return nil
	}
	if b.isOwn(st.TracerPid) {
		return &DenialError{Kind: KindAlreadyDenied, Op: "tracer check"}
	}
	return &DenialError{
		Kind: KindDebuggerAttached,
		Op:   "tracer check",
		Err:  fmt.Errorf("traced by pid %d", st.TracerPid),
	}
}

func (b procfsBackend) classify(err error) error {
	var attachErr *tracer.AttachError
	if !errors.As(err, &attachErr) {
		return denialError(KindOS, "start sentinel", err)
	}
	if errors.Is(err, syscall.EPERM) {
		// Either someone else holds the slot, or policy forbids us from
		// taking it.
		if tracerErr := b.checkTracer(); tracerErr != nil {
			return tracerErr
		}
		return denialError(KindUnsupported, attachErr.Op, err)
	}
	return denialError(KindOS, attachErr.Op, err)
}

func readSelfStatus() (procfs.Status, error) {
	return procfs.Default.ReadStatus("self")
}

// refuseZygoteChild rejects denial inside an app forked from zygote. The
// executable is app_process there, and re-running it does not produce a
// sentinel.
func refuseZygoteChild(proc procfs.FS) error {
	exe, err := proc.Exe("self")
	if err != nil {
		return nil
	}
	switch filepath.Base(exe) {
	case "app_process", "app_process32", "app_process64":
		return &DenialError{
			Kind: KindUnsupported,
			Op:   "sentinel",
			Err:  errors.New("cannot re-execute an app_process child"),
		}
	}
	return nil
}
