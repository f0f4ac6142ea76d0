//go:build windows && deepdetect

package antidebug

import (
	"errors"
	"unsafe"

	"golang.org/x/sys/windows"
)

// deepSignals asks the kernel directly, which survives a patched PEB or a
// hooked CheckRemoteDebuggerPresent.
func deepSignals() bool {
	var port uintptr
	err := windows.NtQueryInformationProcess(windows.CurrentProcess(), windows.ProcessDebugPort,
		unsafe.Pointer(&port), uint32(unsafe.Sizeof(port)), nil)
	if err != nil {
		log().Debug().Err(err).Msg("NtQueryInformationProcess(ProcessDebugPort) failed")
	} else if port != 0 {
		return true
	}

	var object windows.Handle
	err = windows.NtQueryInformationProcess(windows.CurrentProcess(), windows.ProcessDebugObjectHandle,
		unsafe.Pointer(&object), uint32(unsafe.Sizeof(object)), nil)
	switch {
	case err == nil:
		windows.CloseHandle(object) //nolint:errcheck
		return object != 0
	case errors.Is(err, windows.STATUS_PORT_NOT_SET):
		return false
	default:
		log().Debug().Err(err).Msg("NtQueryInformationProcess(ProcessDebugObjectHandle) failed")
		return false
	}
}
