// Package antidebug detects and denies debugger attachment to the running
// process.
//
// Two operations make up the API. IsDebuggerPresent is a pure query and fails
// open: when the platform mechanism is unavailable it reports false rather than
// an error. DenyAttach makes later debugger attachment fail at the OS level; it
// is irreversible for the lifetime of the process and reports every failure as
// a *DenialError.
//
// Backends exist for Windows, Linux, Android and macOS. Building for any other
// target fails at compile time.
//
// On Linux, Android and Windows denial works by occupying the single
// tracer/debugger slot of the process with a sentinel: a copy of the running
// executable started with private environment markers. Programs that call
// DenyAttach must therefore allow their own executable to be re-run; the
// sentinel takes over in an init function before main runs.
package antidebug

// Backend is the capability implemented once per platform.
type Backend interface {
	// IsDebuggerPresent reports whether a debugger is attached right now.
	IsDebuggerPresent() bool
	// DenyAttach prevents debuggers from attaching from now on.
	DenyAttach() error
}

// Native returns the backend compiled for the current target.
func Native() Backend {
	return native
}

// IsDebuggerPresent reports whether a debugger is currently attached to this
// process. The answer is computed fresh on every call. Internal failures are
// reported as false.
func IsDebuggerPresent() bool {
	return native.IsDebuggerPresent()
}

// DenyAttach prevents debuggers from attaching to this process. It should be
// called once, early during startup and before Harden.
//
// Calling it again reports ErrAlreadyDenied on Linux, Android and Windows and
// succeeds on macOS. If a debugger is already attached the result matches
// ErrDebuggerAttached.
func DenyAttach() error {
	err := native.DenyAttach()
	if err != nil {
		log().Warn().Err(err).Msg("Deny attach failed")
		return err
	}
	log().Info().Msg("Debugger attachment denied")
	return nil
}
