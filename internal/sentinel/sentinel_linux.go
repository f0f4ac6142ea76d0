package sentinel

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/tusharlock10/antidebug/internal/process"
	"github.com/tusharlock10/antidebug/internal/procfs"
	"github.com/tusharlock10/antidebug/internal/tracer"
)

type session interface {
	Serve(ready func()) error
}

func attach(pid int, log zerolog.Logger) (session, error) {
	return tracer.Seize(pid, log)
}

// started is a no-op; the tracer is identified through /proc by IsOwn.
func started(*process.Manager) {}

// allowTracer lets pid trace us under Yama ptrace_scope 1. Kernels without
// Yama reject the option with EINVAL, which is fine.
func allowTracer(pid int) error {
	err := unix.Prctl(unix.PR_SET_PTRACER, uintptr(pid), 0, 0, 0)
	if err != nil && !errors.Is(err, unix.EINVAL) {
		return fmt.Errorf("prctl PR_SET_PTRACER: %w", err)
	}
	return nil
}

// IsOwn reports whether pid is the sentinel of this process: our child,
// running our executable.
func IsOwn(pid int) bool {
	return isOwn(procfs.Default, pid)
}

func isOwn(fs procfs.FS, pid int) bool {
	st, err := fs.ReadStatus(strconv.Itoa(pid))
	if err != nil || st.PPid != os.Getpid() {
		return false
	}
	exe, err := fs.Exe(strconv.Itoa(pid))
	if err != nil {
		self, err := fs.ReadStatus("self")
		return err == nil && self.Name == st.Name
	}
	self, err := fs.Exe("self")
	return err == nil && exe == self
}
