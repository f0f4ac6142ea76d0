//go:build android

package antidebug

import (
	"github.com/tusharlock10/antidebug/internal/procfs"
	"github.com/tusharlock10/antidebug/internal/sentinel"
)

var native Backend = procfsBackend{
	platform:   "android",
	readStatus: readSelfStatus,
	isOwn:      sentinel.IsOwn,
	spawn:      sentinel.Spawn,
	precheck:   func() error { return refuseZygoteChild(procfs.Default) },
}
