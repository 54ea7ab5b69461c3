package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/quazardous/sailing/internal/escalate"
)

// fakeServer answers one JSON-RPC line per connection.
func fakeServer(t *testing.T, ln net.Listener, response string) {
	t.Helper()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				r := bufio.NewReader(c)
				for {
					if _, err := r.ReadBytes('\n'); err != nil {
						return
					}
					if _, err := c.Write([]byte(response + "\n")); err != nil {
						return
					}
				}
			}(conn)
		}
	}()
}

func shortSocketPath(t *testing.T, name string) string {
	t.Helper()
	// Unix socket paths are length-limited; avoid deep temp dirs.
	dir, err := os.MkdirTemp("", "mcp")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, name)
}

func TestDescriptorRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp-server.json")
	want := &Descriptor{Mode: ModePort, Port: 39999, PID: os.Getpid()}
	if err := WriteDescriptor(path, want); err != nil {
		t.Fatalf("WriteDescriptor: %v", err)
	}
	got, err := ReadDescriptor(path)
	if err != nil {
		t.Fatalf("ReadDescriptor: %v", err)
	}
	if *got != *want {
		t.Fatalf("descriptor = %+v, want %+v", got, want)
	}
	if !got.Alive() {
		t.Fatal("own pid reported dead")
	}
}

func TestDescriptorValidation(t *testing.T) {
	bad := []Descriptor{
		{Mode: "carrier-pigeon", PID: 1},
		{Mode: ModeSocket, PID: 1},
		{Mode: ModePort, PID: 1},
		{Mode: ModePort, Port: 80},
	}
	for _, d := range bad {
		if err := d.Validate(); err == nil {
			t.Fatalf("descriptor %+v validated", d)
		}
	}
}

func TestProbeAgainstTCPServer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	fakeServer(t, ln, `{"jsonrpc":"2.0","id":1,"result":{"tools":[]}}`)

	port := ln.Addr().(*net.TCPAddr).Port
	d := &Descriptor{Mode: ModePort, Port: port, PID: os.Getpid()}
	if esc := Probe(d); esc != nil {
		t.Fatalf("Probe: %+v", esc)
	}
}

func TestProbeMalformedResponse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	fakeServer(t, ln, "this is not json")

	d := &Descriptor{Mode: ModePort, Port: ln.Addr().(*net.TCPAddr).Port, PID: os.Getpid()}
	esc := Probe(d)
	if esc == nil || esc.Kind != escalate.KindTransportUnreachable {
		t.Fatalf("Probe on garbage = %+v, want transport_unreachable", esc)
	}
}

func TestCheckAgentServerDeadPID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp-server.json")
	if err := WriteDescriptor(path, &Descriptor{Mode: ModePort, Port: 1, PID: 999999}); err != nil {
		t.Fatal(err)
	}
	_, esc := CheckAgentServer(path)
	if esc == nil || esc.Kind != escalate.KindTransportUnreachable {
		t.Fatalf("CheckAgentServer = %+v, want transport_unreachable", esc)
	}
}

func TestSocketTransport(t *testing.T) {
	sock := shortSocketPath(t, "srv.sock")
	ln, err := net.Listen("unix", sock)
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	fakeServer(t, ln, `{"jsonrpc":"2.0","id":1,"result":{}}`)

	tr := NewSocketTransport(sock)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := tr.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer tr.Close()

	if err := tr.WriteLine([]byte(`{"jsonrpc":"2.0","method":"tools/list","id":1}`)); err != nil {
		t.Fatalf("WriteLine: %v", err)
	}
	line, err := tr.ReadLine()
	if err != nil {
		t.Fatalf("ReadLine: %v", err)
	}
	var resp map[string]any
	if err := json.Unmarshal(line, &resp); err != nil {
		t.Fatalf("response not JSON: %v", err)
	}
}

func TestBridgeForwardsAndTearsDown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	fakeServer(t, ln, `{"jsonrpc":"2.0","id":1,"result":{}}`)

	sock := shortSocketPath(t, "bridge.sock")
	b, err := StartBridge(sock, ln.Addr().(*net.TCPAddr).Port)
	if err != nil {
		t.Fatalf("StartBridge: %v", err)
	}

	tr := NewBridgedTransport(b)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := tr.Connect(ctx); err != nil {
		t.Fatalf("Connect through bridge: %v", err)
	}
	if err := tr.WriteLine([]byte(`{"jsonrpc":"2.0","method":"tools/list","id":1}`)); err != nil {
		t.Fatal(err)
	}
	if _, err := tr.ReadLine(); err != nil {
		t.Fatalf("ReadLine through bridge: %v", err)
	}

	// Closing the transport tears the bridge down and removes the socket.
	tr.Close()
	if _, err := os.Stat(sock); !os.IsNotExist(err) {
		t.Fatalf("bridge socket survived close: %v", err)
	}
	// Idempotent.
	b.Close()
}
