package antidebug

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	kernel32                       = windows.NewLazySystemDLL("kernel32.dll")
	procIsDebuggerPresent          = kernel32.NewProc("IsDebuggerPresent")
	procCheckRemoteDebuggerPresent = kernel32.NewProc("CheckRemoteDebuggerPresent")
)

// debuggerSignals checks for both a local debugger (IsDebuggerPresent) and a
// remote debugger (CheckRemoteDebuggerPresent) attached to this process, plus
// the kernel debug port when built with the deepdetect tag. A failing call
// counts as a clean answer.
func debuggerSignals() bool {
	// Reads the BeingDebugged flag of the PEB.
	ret, _, _ := procIsDebuggerPresent.Call()
	if ret != 0 {
		return true
	}

	var isRemote int32
	ret, _, err := procCheckRemoteDebuggerPresent.Call(
		uintptr(windows.CurrentProcess()),
		uintptr(unsafe.Pointer(&isRemote)),
	)
	if ret == 0 {
		log().Debug().Err(err).Msg("CheckRemoteDebuggerPresent failed")
	} else if isRemote != 0 {
		return true
	}

	return deepSignals()
}
