//go:build linux || windows || (darwin && !ios)

package antidebug

import (
	"fmt"

	"github.com/awnumar/memcall"
)

// Harden disables core dumps and, on Linux and Android, marks the process
// non-dumpable so that /proc/<pid>/mem and friends are closed to other
// processes of the same user.
//
// Call it after DenyAttach: a non-dumpable process cannot be traced by its
// sentinel either.
func Harden() error {
	if err := memcall.DisableCoreDumps(); err != nil {
		return fmt.Errorf("disable core dumps: %w", err)
	}
	if err := hardenPlatform(); err != nil {
		return err
	}
	log().Debug().Msg("Process hardened")
	return nil
}
