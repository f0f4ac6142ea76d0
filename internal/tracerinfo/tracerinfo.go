// Package tracerinfo describes the process that is debugging us, for logs and
// reports.
package tracerinfo

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/process"
)

// Info describes a process. Fields the OS would not tell us stay empty.
type Info struct {
	PID      int    `json:"pid"`
	Name     string `json:"name,omitempty"`
	Exe      string `json:"exe,omitempty"`
	Cmdline  string `json:"cmdline,omitempty"`
	Username string `json:"username,omitempty"`
}

// Describe looks up pid. Only a missing process is an error; unreadable
// attributes are left blank.
func Describe(ctx context.Context, pid int) (Info, error) {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return Info{}, fmt.Errorf("describe pid %d: %w", pid, err)
	}
	info := Info{PID: pid}
	info.Name, _ = p.Name()
	info.Exe, _ = p.Exe()
	info.Cmdline, _ = p.Cmdline()
	info.Username, _ = p.Username()
	return info, nil
}

// Current describes the tracer of this process. ok is false when there is no
// tracer or the platform does not say who it is.
func Current(ctx context.Context) (Info, bool) {
	pid := TracerPID()
	if pid == 0 {
		return Info{}, false
	}
	info, err := Describe(ctx, pid)
	if err != nil {
		return Info{PID: pid}, true
	}
	return info, true
}
