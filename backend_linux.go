//go:build linux && !android

package antidebug

import "github.com/tusharlock10/antidebug/internal/sentinel"

var native Backend = procfsBackend{
	platform:   "linux",
	readStatus: readSelfStatus,
	isOwn:      sentinel.IsOwn,
	spawn:      sentinel.Spawn,
}
