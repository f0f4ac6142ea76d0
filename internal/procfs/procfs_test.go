//go:build !windows

package procfs

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tracedStatus = `Name:	myapp
Umask:	0022
State:	S (sleeping)
Tgid:	4242
Ngid:	0
Pid:	4242
PPid:	1
TracerPid:	31337
Uid:	1000	1000	1000	1000
`

func TestParseStatus(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		want      Status
		wantErr   bool
		wantTrace bool
	}{
		{
			name:      "traced",
			input:     tracedStatus,
			want:      Status{Name: "myapp", State: "S", PPid: 1, TracerPid: 31337, HasTracerPid: true},
			wantTrace: true,
		},
		{
			name:  "not traced",
			input: "Name:\tmyapp\nPPid:\t10\nTracerPid:\t0\n",
			want:  Status{Name: "myapp", PPid: 10, HasTracerPid: true},
		},
		{
			name:      "tracing stop",
			input:     "Name:\tmyapp\nState:\tt (tracing stop)\nPPid:\t10\nTracerPid:\t77\n",
			want:      Status{Name: "myapp", State: "t", PPid: 10, TracerPid: 77, HasTracerPid: true},
			wantTrace: true,
		},
		{
			name:  "field absent",
			input: "Name:\tmyapp\nPPid:\t10\n",
			want:  Status{Name: "myapp", PPid: 10},
		},
		{
			name:    "malformed tracer pid",
			input:   "TracerPid:\tabc\n",
			wantErr: true,
		},
		{
			name:  "empty",
			input: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseStatus(strings.NewReader(tt.input))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantTrace, got.Traced())
			assert.Equal(t, tt.want.State == "t", got.TracingStop())
		})
	}
}

func writeFixture(t *testing.T, root, pid, status string) {
	t.Helper()
	dir := filepath.Join(root, pid)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "task"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "status"), []byte(status), 0o644))
}

func TestReadStatusFixture(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, "self", tracedStatus)

	st, err := New(root).ReadStatus("self")
	require.NoError(t, err)
	assert.Equal(t, 31337, st.TracerPid)
	assert.Equal(t, "myapp", st.Name)
}

func TestReadStatusMissing(t *testing.T) {
	_, err := New(t.TempDir()).ReadStatus("self")
	require.Error(t, err)
	assert.True(t, os.IsNotExist(err))
}

func TestTasksSorted(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, "100", tracedStatus)
	for _, tid := range []string{"103", "100", "101", "notatid"} {
		require.NoError(t, os.Mkdir(filepath.Join(root, "100", "task", tid), 0o755))
	}

	tids, err := New(root).Tasks(100)
	require.NoError(t, err)
	assert.Equal(t, []int{100, 101, 103}, tids)
}

func TestExeFixture(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, "self", tracedStatus)
	require.NoError(t, os.Symlink("/usr/bin/myapp", filepath.Join(root, "self", "exe")))

	exe, err := New(root).Exe("self")
	require.NoError(t, err)
	assert.Equal(t, "/usr/bin/myapp", exe)
}
