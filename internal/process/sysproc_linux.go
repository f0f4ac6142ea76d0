package process

import "syscall"

func sysProcAttr(o options) *syscall.SysProcAttr {
	if !o.parentDeath {
		return nil
	}
	return &syscall.SysProcAttr{Pdeathsig: syscall.SIGKILL}
}
