package ipc

import (
	"context"
	"errors"
	"net"

	"github.com/Microsoft/go-winio"
)

// ownerOnly grants generic access to the pipe owner and nobody else.
const ownerOnly = "D:P(A;;GA;;;OW)"

// Address returns a named pipe path.
func Address(token string) string {
	return `\\.\pipe\antidebug-` + token
}

func newListener(addr string) (net.Listener, error) {
	return winio.ListenPipe(addr, &winio.PipeConfig{SecurityDescriptor: ownerOnly})
}

func cleanupListener(_ string) {
	// Named pipes are automatically cleaned up when the listener is closed.
}

func dial(ctx context.Context, addr string) (net.Conn, error) {
	return winio.DialPipeContext(ctx, addr)
}

func peerPID(net.Conn) (int, error) {
	return 0, errors.New("peer pid is not available on named pipes")
}
