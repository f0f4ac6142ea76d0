//go:build windows

package process

import (
	"syscall"
	"time"
)

// Stop terminates the child at once. There is no SIGTERM to deliver first,
// so grace is unused.
func (m *Manager) Stop(time.Duration) error {
	return m.Kill()
}

func sysProcAttr(options) *syscall.SysProcAttr {
	return nil
}
