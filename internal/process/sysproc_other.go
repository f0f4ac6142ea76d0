//go:build !linux && !windows

package process

import "syscall"

func sysProcAttr(options) *syscall.SysProcAttr {
	return nil
}
