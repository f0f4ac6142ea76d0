package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Address returns a socket path in the temp dir. sun_path is limited to 104
// bytes on darwin, so only a prefix of the token is used.
func Address(token string) string {
	if len(token) > 12 {
		token = token[:12]
	}
	return filepath.Join(os.TempDir(), "antidebug-"+token+".sock")
}

func newListener(addr string) (net.Listener, error) {
	os.Remove(addr) //nolint:errcheck
	return net.Listen("unix", addr)
}

func cleanupListener(addr string) {
	os.Remove(addr) //nolint:errcheck
}

func dial(ctx context.Context, addr string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "unix", addr)
}

func peerPID(c net.Conn) (int, error) {
	uc, ok := c.(*net.UnixConn)
	if !ok {
		return 0, errors.New("not a unix socket")
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return 0, err
	}
	var (
		pid    int
		pidErr error
	)
	if err := raw.Control(func(fd uintptr) {
		pid, pidErr = unix.GetsockoptInt(int(fd), unix.SOL_LOCAL, unix.LOCAL_PEERPID)
	}); err != nil {
		return 0, err
	}
	if pidErr != nil {
		return 0, fmt.Errorf("LOCAL_PEERPID: %w", pidErr)
	}
	return pid, nil
}
