//go:build darwin && !ios

package antidebug

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// pTraced is the P_TRACED flag from <sys/proc.h>. Set by the kernel when a
// debugger is attached to the process. Not exported by golang.org/x/sys/unix.
const pTraced = 0x00000800

type darwinBackend struct {
	kinfo func() (*unix.KinfoProc, error)
	deny  func() error
}

var native Backend = darwinBackend{
	kinfo: func() (*unix.KinfoProc, error) {
		return unix.SysctlKinfoProc("kern.proc.pid", os.Getpid())
	},
	deny: unix.PtraceDenyAttach,
}

func (b darwinBackend) traced() (bool, error) {
	info, err := b.kinfo()
	if err != nil {
		return false, err
	}
	return info.Proc.P_flag&pTraced != 0, nil
}

func (b darwinBackend) IsDebuggerPresent() bool {
	traced, err := b.traced()
	if err != nil {
		log().Debug().Err(err).Msg("sysctl kern.proc.pid failed, assuming no debugger")
		return false
	}
	return traced
}

// DenyAttach issues PT_DENY_ATTACH. The kernel kills a traced process that
// makes this request, so a present debugger is reported instead.
func (b darwinBackend) DenyAttach() error {
	if traced, err := b.traced(); err == nil && traced {
		return &DenialError{Kind: KindDebuggerAttached, Op: "sysctl kern.proc.pid"}
	}
	err := b.deny()
	switch {
	case err == nil:
		return nil
	case errors.Is(err, unix.EINVAL):
		return denialError(KindAlreadyDenied, "ptrace PT_DENY_ATTACH", err)
	case errors.Is(err, unix.EPERM), errors.Is(err, unix.ENOTSUP):
		return denialError(KindUnsupported, "ptrace PT_DENY_ATTACH", err)
	default:
		return denialError(KindOS, "ptrace PT_DENY_ATTACH", err)
	}
}
