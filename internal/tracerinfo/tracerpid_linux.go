package tracerinfo

import "github.com/tusharlock10/antidebug/internal/procfs"

// TracerPID returns the TracerPid of this process, 0 when untraced or unknown.
func TracerPID() int {
	st, err := procfs.Default.ReadStatus("self")
	if err != nil {
		return 0
	}
	return st.TracerPid
}
