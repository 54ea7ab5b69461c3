package mcp

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"time"
)

const maxLineSize = 1024 * 1024 // 1 MB

// Transport is the capability set over one MCP stream: connect once,
// exchange newline-terminated frames, close. Three concrete variants exist:
// Unix socket, loopback TCP, and a TCP endpoint reached through a socket
// bridge. The child-facing config materialization picks the variant once
// per spawn.
type Transport interface {
	Connect(ctx context.Context) error
	WriteLine(line []byte) error
	ReadLine() ([]byte, error)
	Close() error

	// Endpoint returns a human-readable address for logs and escalations.
	Endpoint() string
}

type streamTransport struct {
	network string
	addr    string
	conn    net.Conn
	reader  *bufio.Reader
}

// NewSocketTransport returns a Transport over a Unix domain socket.
func NewSocketTransport(socketPath string) Transport {
	return &streamTransport{network: "unix", addr: socketPath}
}

// NewPortTransport returns a Transport over loopback TCP.
func NewPortTransport(port int) Transport {
	return &streamTransport{network: "tcp", addr: fmt.Sprintf("127.0.0.1:%d", port)}
}

// NewTransport picks the variant matching a descriptor.
func NewTransport(d *Descriptor) (Transport, error) {
	switch d.Mode {
	case ModeSocket:
		return NewSocketTransport(d.Socket), nil
	case ModePort:
		return NewPortTransport(d.Port), nil
	}
	return nil, fmt.Errorf("unknown transport mode %q", d.Mode)
}

func (t *streamTransport) Connect(ctx context.Context) error {
	if t.conn != nil {
		return nil
	}
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, t.network, t.addr)
	if err != nil {
		return fmt.Errorf("connecting to %s %s: %w", t.network, t.addr, err)
	}
	t.conn = conn
	t.reader = bufio.NewReaderSize(conn, maxLineSize)
	return nil
}

func (t *streamTransport) WriteLine(line []byte) error {
	if t.conn == nil {
		return fmt.Errorf("transport %s is not connected", t.addr)
	}
	if len(line) == 0 || line[len(line)-1] != '\n' {
		line = append(append([]byte(nil), line...), '\n')
	}
	_, err := t.conn.Write(line)
	return err
}

func (t *streamTransport) ReadLine() ([]byte, error) {
	if t.conn == nil {
		return nil, fmt.Errorf("transport %s is not connected", t.addr)
	}
	line, err := t.reader.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	return line, nil
}

func (t *streamTransport) Close() error {
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	t.reader = nil
	return err
}

func (t *streamTransport) Endpoint() string {
	return t.network + "://" + t.addr
}

// SetDeadline bounds the next read/write on a connected transport.
func (t *streamTransport) SetDeadline(deadline time.Time) error {
	if t.conn == nil {
		return nil
	}
	return t.conn.SetDeadline(deadline)
}

// bridgedTransport reaches a TCP server through a supervisor-owned bridge.
// Closing the transport tears the bridge down with it.
type bridgedTransport struct {
	Transport
	bridge *Bridge
}

// NewBridgedTransport wires a socket transport through an already-running
// bridge.
func NewBridgedTransport(b *Bridge) Transport {
	return &bridgedTransport{Transport: NewSocketTransport(b.SocketPath()), bridge: b}
}

func (t *bridgedTransport) Close() error {
	err := t.Transport.Close()
	t.bridge.Close()
	return err
}

func (t *bridgedTransport) Endpoint() string {
	return t.Transport.Endpoint() + " (bridge to " + t.bridge.Target() + ")"
}
