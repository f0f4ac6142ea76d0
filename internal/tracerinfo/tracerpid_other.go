//go:build !linux

package tracerinfo

// TracerPID is 0: only Linux and Android name the tracer of a process.
func TracerPID() int { return 0 }
