// Package mcp handles the local Model Context Protocol endpoint: the
// published transport descriptor, the health probe used by spawn
// preconditions, the stream transports handed to the supervisor, and the
// socket bridge that carries sandboxed children across loopback-TCP bans.
//
// The protocol itself is line-delimited JSON-RPC 2.0; the core never
// interprets payloads beyond the probe handshake.
package mcp

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/quazardous/sailing/internal/state"
)

// Transport modes published in the descriptor.
const (
	ModeSocket = "socket"
	ModePort   = "port"
)

// Descriptor is the transport advertisement the MCP server writes to a
// well-known file under the haven.
type Descriptor struct {
	Mode   string `json:"mode"`
	Socket string `json:"socket,omitempty"`
	Port   int    `json:"port,omitempty"`
	PID    int    `json:"pid"`
}

// Validate checks internal consistency.
func (d *Descriptor) Validate() error {
	switch d.Mode {
	case ModeSocket:
		if d.Socket == "" {
			return fmt.Errorf("descriptor mode=socket without socket path")
		}
	case ModePort:
		if d.Port <= 0 {
			return fmt.Errorf("descriptor mode=port without port")
		}
	default:
		return fmt.Errorf("unknown transport mode %q", d.Mode)
	}
	if d.PID <= 0 {
		return fmt.Errorf("descriptor missing server pid")
	}
	return nil
}

// ReadDescriptor loads and validates the descriptor file.
func ReadDescriptor(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &d, nil
}

// WriteDescriptor publishes a descriptor (used by tests).
func WriteDescriptor(path string, d *Descriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}

// Alive reports whether the descriptor's server process exists.
func (d *Descriptor) Alive() bool {
	return state.PIDAlive(d.PID)
}
