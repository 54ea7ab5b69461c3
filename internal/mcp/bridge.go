package mcp

import (
	"context"
	"io"
	"net"
	"os"
	"strconv"
	"sync"

	"github.com/quazardous/sailing/internal/debug"
)

// Bridge exposes a Unix socket that forwards bidirectionally to a loopback
// TCP port. Sandboxes that forbid loopback TCP from a network-namespaced
// child list the socket in their allowlist instead of the port.
//
// The bridge is owned by the supervisor that started it and is torn down
// deterministically by Close on every exit path.
type Bridge struct {
	socketPath string
	target     string

	ln     net.Listener
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// StartBridge listens on socketPath and forwards each connection to
// 127.0.0.1:<port>.
func StartBridge(socketPath string, port int) (*Bridge, error) {
	os.Remove(socketPath) // stale socket from a crashed supervisor
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		socketPath: socketPath,
		target:     net.JoinHostPort("127.0.0.1", strconv.Itoa(port)),
		ln:         ln,
		cancel:     cancel,
	}

	b.wg.Add(1)
	go b.acceptLoop(ctx)
	debug.LogKV("mcp", "bridge started", "socket", socketPath, "target", b.target)
	return b, nil
}

// SocketPath returns the Unix socket the bridge listens on.
func (b *Bridge) SocketPath() string { return b.socketPath }

// Target returns the forwarded TCP address.
func (b *Bridge) Target() string { return b.target }

func (b *Bridge) acceptLoop(ctx context.Context) {
	defer b.wg.Done()
	for {
		conn, err := b.ln.Accept()
		if err != nil {
			return // listener closed
		}
		b.wg.Add(1)
		go b.forward(ctx, conn)
	}
}

func (b *Bridge) forward(ctx context.Context, client net.Conn) {
	defer b.wg.Done()
	defer client.Close()

	var dialer net.Dialer
	server, err := dialer.DialContext(ctx, "tcp", b.target)
	if err != nil {
		debug.LogKV("mcp", "bridge dial failed", "target", b.target, "error", err)
		return
	}
	defer server.Close()

	done := make(chan struct{}, 2)
	go func() {
		io.Copy(server, client)
		if tc, ok := server.(*net.TCPConn); ok {
			tc.CloseWrite()
		}
		done <- struct{}{}
	}()
	go func() {
		io.Copy(client, server)
		if uc, ok := client.(*net.UnixConn); ok {
			uc.CloseWrite()
		}
		done <- struct{}{}
	}()

	select {
	case <-done:
		<-done
	case <-ctx.Done():
	}
}

// Close stops accepting, cancels in-flight forwards, waits for them, and
// removes the socket. Idempotent.
func (b *Bridge) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	b.ln.Close()
	b.wg.Wait()
	os.Remove(b.socketPath)
	debug.LogKV("mcp", "bridge closed", "socket", b.socketPath)
}
