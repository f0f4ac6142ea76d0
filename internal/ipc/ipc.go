// Package ipc is the private JSON-lines channel between a process and the
// helper processes it launches (the sentinel and the probe target).
package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// Message types.
const (
	TypeHello  = "hello"
	TypeAttach = "attach"
	TypeReady  = "ready"
	TypeFailed = "failed"

	TypeDeny   = "deny"
	TypeCheck  = "check"
	TypeHarden = "harden"
	TypeExit   = "exit"
	TypeResult = "result"
)

// Message is a single line on the channel.
type Message struct {
	Type    string `json:"type"`
	PID     int    `json:"pid,omitempty"`
	Token   string `json:"token,omitempty"`
	Present bool   `json:"present,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Errno   int    `json:"errno,omitempty"`
	Error   string `json:"error,omitempty"`
}

// RemoteError is a failure reported by the peer in a TypeFailed message.
type RemoteError struct {
	Kind  string
	Errno int
	Msg   string
}

func (e *RemoteError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("peer failed (%s): %s", e.Kind, e.Msg)
	}
	return "peer failed: " + e.Msg
}

// ProtocolError reports a message of an unexpected type.
type ProtocolError struct {
	Want string
	Got  string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("unexpected message %q, want %q", e.Got, e.Want)
}

// Failed builds the TypeFailed message for err.
func Failed(kind string, errno int, err error) Message {
	return Message{Type: TypeFailed, Kind: kind, Errno: errno, Error: err.Error()}
}

// Conn is one end of the channel.
type Conn struct {
	conn    net.Conn
	scanner *bufio.Scanner
	enc     *json.Encoder
	mu      sync.Mutex
}

func newConn(c net.Conn) *Conn {
	return &Conn{
		conn:    c,
		scanner: bufio.NewScanner(c),
		enc:     json.NewEncoder(c),
	}
}

// Send writes one message.
func (c *Conn) Send(m Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enc.Encode(m); err != nil {
		return fmt.Errorf("send %s: %w", m.Type, err)
	}
	return nil
}

// Recv reads the next message. It returns io.EOF when the peer closed the
// connection cleanly.
func (c *Conn) Recv() (Message, error) {
	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return Message{}, fmt.Errorf("receive: %w", err)
		}
		return Message{}, io.EOF
	}
	var m Message
	if err := json.Unmarshal(c.scanner.Bytes(), &m); err != nil {
		return Message{}, fmt.Errorf("malformed message: %w", err)
	}
	return m, nil
}

// Expect receives a message and checks its type. A TypeFailed message is
// returned as a *RemoteError.
func (c *Conn) Expect(want string) (Message, error) {
	m, err := c.Recv()
	if err != nil {
		return Message{}, err
	}
	if m.Type == want {
		return m, nil
	}
	if m.Type == TypeFailed {
		return m, &RemoteError{Kind: m.Kind, Errno: m.Errno, Msg: m.Error}
	}
	return m, &ProtocolError{Want: want, Got: m.Type}
}

// SetDeadline bounds the following Send and Recv calls.
func (c *Conn) SetDeadline(t time.Time) error {
	return c.conn.SetDeadline(t)
}

// Close closes the connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// PeerPID returns the process id of the peer as reported by the kernel.
func (c *Conn) PeerPID() (int, error) {
	return peerPID(c.conn)
}

// Listener accepts channel connections on an Address.
type Listener struct {
	addr string
	ln   net.Listener
}

// Listen creates the listener for addr.
func Listen(addr string) (*Listener, error) {
	ln, err := newListener(addr)
	if err != nil {
		return nil, fmt.Errorf("create IPC listener: %w", err)
	}
	return &Listener{addr: addr, ln: ln}, nil
}

// Addr returns the address passed to Listen.
func (l *Listener) Addr() string {
	return l.addr
}

// Accept waits for one connection or until ctx is done.
func (l *Listener) Accept(ctx context.Context) (*Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := l.ln.Accept()
		ch <- result{c, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("IPC accept: %w", r.err)
		}
		return newConn(r.conn), nil
	case <-ctx.Done():
		l.ln.Close() //nolint:errcheck
		if r := <-ch; r.conn != nil {
			r.conn.Close() //nolint:errcheck
		}
		return nil, ctx.Err()
	}
}

// Close closes the listener and removes any socket file.
func (l *Listener) Close() error {
	err := l.ln.Close()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	cleanupListener(l.addr)
	return err
}

// Dial connects to a Listener at addr.
func Dial(ctx context.Context, addr string) (*Conn, error) {
	c, err := dial(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("IPC dial: %w", err)
	}
	return newConn(c), nil
}
