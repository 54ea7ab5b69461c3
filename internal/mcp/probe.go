package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/quazardous/sailing/internal/debug"
	"github.com/quazardous/sailing/internal/escalate"
)

// ProbeTimeout bounds the connectivity test.
const ProbeTimeout = 5 * time.Second

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	ID      int    `json:"id"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   json.RawMessage `json:"error"`
}

// CheckAgentServer reads the descriptor published under descriptorPath,
// verifies the server pid is alive, and runs one tools/list round trip.
// Any failure comes back as a transport_unreachable escalation so spawn
// preconditions can surface next steps directly.
func CheckAgentServer(descriptorPath string) (*Descriptor, *escalate.Escalation) {
	d, err := ReadDescriptor(descriptorPath)
	if err != nil {
		return nil, escalate.New(escalate.KindTransportUnreachable,
			fmt.Sprintf("MCP server descriptor unavailable: %v", err),
			"start the MCP agent server",
			"run `sailing check` to verify the environment",
		)
	}
	if !d.Alive() {
		return nil, escalate.New(escalate.KindTransportUnreachable,
			fmt.Sprintf("MCP server pid %d is not running", d.PID),
			"restart the MCP agent server",
			fmt.Sprintf("remove the stale descriptor %s if the server is gone", descriptorPath),
		)
	}
	if esc := Probe(d); esc != nil {
		return nil, esc
	}
	return d, nil
}

// Probe performs the bounded tools/list handshake against a descriptor.
func Probe(d *Descriptor) *escalate.Escalation {
	t, err := NewTransport(d)
	if err != nil {
		return escalate.New(escalate.KindTransportUnreachable, err.Error())
	}
	defer t.Close()

	ctx, cancel := context.WithTimeout(context.Background(), ProbeTimeout)
	defer cancel()

	if err := t.Connect(ctx); err != nil {
		return escalate.New(escalate.KindTransportUnreachable,
			fmt.Sprintf("MCP server at %s refused connection: %v", t.Endpoint(), err),
			"verify the server transport descriptor matches the running server",
		)
	}
	if st, ok := t.(interface{ SetDeadline(time.Time) error }); ok {
		st.SetDeadline(time.Now().Add(ProbeTimeout))
	}

	req, _ := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: "tools/list", ID: 1})
	if err := t.WriteLine(req); err != nil {
		return escalate.New(escalate.KindTransportUnreachable,
			fmt.Sprintf("writing probe to %s: %v", t.Endpoint(), err))
	}
	line, err := t.ReadLine()
	if err != nil {
		return escalate.New(escalate.KindTransportUnreachable,
			fmt.Sprintf("no probe response from %s within %s: %v", t.Endpoint(), ProbeTimeout, err),
			"check the MCP server log for errors",
		)
	}
	var resp rpcResponse
	if err := json.Unmarshal(line, &resp); err != nil || resp.JSONRPC != "2.0" {
		return escalate.New(escalate.KindTransportUnreachable,
			fmt.Sprintf("malformed probe response from %s", t.Endpoint()),
			"check the MCP server log for errors",
		)
	}
	debug.LogKV("mcp", "probe ok", "endpoint", t.Endpoint())
	return nil
}
