// Package procfs reads the few /proc entries needed for tracer inspection.
package procfs

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
)

// DefaultRoot is where procfs is mounted on Linux and Android.
const DefaultRoot = "/proc"

// FS is a procfs mount point. The zero value is not usable; use Default or New.
type FS struct {
	root string
}

// Default is the system procfs.
var Default = New(DefaultRoot)

// New returns an FS rooted at root. Tests point it at fixture directories.
func New(root string) FS {
	return FS{root: root}
}

// Status holds the fields of /proc/<pid>/status that we care about.
type Status struct {
	Name string
	// State is the one-letter scheduler state, e.g. "S" or "t".
	State     string
	PPid      int
	TracerPid int
	// HasTracerPid is false when the kernel did not report the field at all.
	HasTracerPid bool
}

// TracingStop reports whether the task is stopped by its tracer.
func (s Status) TracingStop() bool {
	return s.State == "t"
}

// Traced reports whether a tracer is attached.
func (s Status) Traced() bool {
	return s.HasTracerPid && s.TracerPid != 0
}

// ReadStatus reads and parses /proc/<pid>/status. pid may be "self".
func (fs FS) ReadStatus(pid string) (Status, error) {
	data, err := fs.readFile(filepath.Join(fs.root, pid, "status"))
	if err != nil {
		return Status{}, err
	}
	return ParseStatus(bytes.NewReader(data))
}

// ParseStatus parses the "Key:\tvalue" lines of a status file. Unknown keys
// are skipped. A malformed value for a field we use is an error.
func ParseStatus(r io.Reader) (Status, error) {
	var st Status
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch key {
		case "Name":
			st.Name = value
		case "State":
			st.State, _, _ = strings.Cut(value, " ")
		case "PPid":
			n, err := strconv.Atoi(value)
			if err != nil {
				return Status{}, fmt.Errorf("parse PPid %q: %w", value, err)
			}
			st.PPid = n
		case "TracerPid":
			n, err := strconv.Atoi(value)
			if err != nil {
				return Status{}, fmt.Errorf("parse TracerPid %q: %w", value, err)
			}
			st.TracerPid = n
			st.HasTracerPid = true
		}
	}
	if err := scanner.Err(); err != nil {
		return Status{}, fmt.Errorf("scan status: %w", err)
	}
	return st, nil
}

// Exe resolves /proc/<pid>/exe.
func (fs FS) Exe(pid string) (string, error) {
	p, err := os.Readlink(filepath.Join(fs.root, pid, "exe"))
	if err != nil {
		return "", fmt.Errorf("read exe link: %w", err)
	}
	return p, nil
}

// Tasks lists the thread ids of pid in ascending order.
func (fs FS) Tasks(pid int) ([]int, error) {
	entries, err := os.ReadDir(filepath.Join(fs.root, strconv.Itoa(pid), "task"))
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	tids := make([]int, 0, len(entries))
	for _, e := range entries {
		tid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		tids = append(tids, tid)
	}
	sort.Ints(tids)
	return tids, nil
}

// readFile reads a whole pseudo-file, retrying reads interrupted by a signal.
// The file is closed on every path.
func (fs FS) readFile(path string) ([]byte, error) {
	//nolint:gosec // G304: path is under the procfs root.
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close() //nolint:errcheck

	var buf bytes.Buffer
	chunk := make([]byte, 4096)
	for {
		n, err := f.Read(chunk)
		buf.Write(chunk[:n])
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			return buf.Bytes(), nil
		case errors.Is(err, syscall.EINTR):
			continue
		default:
			return nil, err
		}
	}
}
