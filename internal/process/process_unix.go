//go:build !windows

package process

import (
	"syscall"
	"time"
)

// Stop asks the child to exit with SIGTERM and kills it if it is still
// running after grace. It returns the child's exit error.
func (m *Manager) Stop(grace time.Duration) error {
	m.Signal(syscall.SIGTERM)

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-m.exited:
		return m.exitErr
	case <-timer.C:
		return m.Kill()
	}
}
