// Package tail follows the two per-run log streams (raw text and
// structured NDJSON events), summarises events for display, and applies
// noise filters.
package tail

import (
	"encoding/json"
	"strings"

	"github.com/quazardous/sailing/internal/noise"
)

// Known structured event types.
const (
	TypeAssistant  = "assistant"
	TypeSystem     = "system"
	TypeToolResult = "tool_result"
	TypeResult     = "result"
)

// Event is one structured child log event: a single JSON object per line.
type Event struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype,omitempty"`

	// Assistant events carry a message with content blocks.
	Message *Message `json:"message,omitempty"`

	// System events carry free text.
	Text string `json:"text,omitempty"`

	// Tool results carry captured process output.
	Stdout  string `json:"stdout,omitempty"`
	Stderr  string `json:"stderr,omitempty"`
	IsError bool   `json:"is_error,omitempty"`

	// Result events (end of run) may carry an aggregate error list.
	Errors []string `json:"errors,omitempty"`
}

// Message is the assistant payload: a list of content blocks.
type Message struct {
	Role    string         `json:"role,omitempty"`
	Content []ContentBlock `json:"content,omitempty"`
}

// ContentBlock is either a text segment or a tool_use invocation.
type ContentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

// RawEvent pairs the raw line with its parsed form; Err is set for lines
// that are not valid JSON.
type RawEvent struct {
	Raw    []byte
	Parsed Event
	Err    error
}

// ParseLine decodes one NDJSON line.
func ParseLine(line []byte) RawEvent {
	raw := append([]byte(nil), line...)
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return RawEvent{Raw: raw, Err: err}
	}
	return RawEvent{Raw: raw, Parsed: ev}
}

// FlatText flattens an event into the text the noise filters match on.
func (e *Event) FlatText() string {
	var parts []string
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	add(e.Text)
	add(e.Stdout)
	add(e.Stderr)
	if e.Message != nil {
		for _, cb := range e.Message.Content {
			add(cb.Text)
			if cb.Type == "tool_use" && cb.Name != "" {
				add(cb.Name)
			}
		}
	}
	add(strings.Join(e.Errors, " "))
	return strings.Join(parts, " ")
}

// IsErrorLike reports whether the event should count as an error in the
// diagnose report.
func (e *Event) IsErrorLike() bool {
	if e.IsError {
		return true
	}
	if e.Type == TypeToolResult && strings.TrimSpace(e.Stderr) != "" {
		return true
	}
	if e.Type == TypeResult && len(e.Errors) > 0 {
		return true
	}
	if e.Type == TypeSystem {
		switch e.Subtype {
		case "api_error", "error":
			return true
		}
	}
	return false
}

// Summarize renders a one-line summary truncated to width runes.
func (e *Event) Summarize(width int) string {
	var s string
	switch e.Type {
	case TypeAssistant:
		if e.Message != nil {
			var tools []string
			text := ""
			for _, cb := range e.Message.Content {
				switch cb.Type {
				case "tool_use":
					tools = append(tools, cb.Name)
				case "text":
					if text == "" {
						text = cb.Text
					}
				}
			}
			if len(tools) > 0 {
				s = "assistant: tools " + strings.Join(tools, ", ")
			} else {
				s = "assistant: " + text
			}
		} else {
			s = "assistant"
		}
	case TypeSystem:
		s = "system"
		if e.Subtype != "" {
			s += "/" + e.Subtype
		}
		if e.Text != "" {
			s += ": " + e.Text
		}
	case TypeToolResult:
		out := e.Stdout
		if strings.TrimSpace(e.Stderr) != "" {
			out = "stderr: " + e.Stderr
		}
		s = "tool_result: " + out
	case TypeResult:
		s = "result"
		if e.Subtype != "" {
			s += "/" + e.Subtype
		}
		if len(e.Errors) > 0 {
			s += ": " + strings.Join(e.Errors, "; ")
		}
	default:
		s = e.Type
		if t := e.FlatText(); t != "" {
			s += ": " + t
		}
	}
	s = strings.Join(strings.Fields(s), " ")
	return Truncate(s, width)
}

// Truncate cuts s to max runes, appending an ellipsis when cut.
func Truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}

// Suppressed reports whether a noise filter set hides this event for the
// given task scope.
func (e *Event) Suppressed(filters *noise.Set, epicID, prdID string) bool {
	if filters == nil {
		return false
	}
	_, ok := filters.Suppresses(epicID, prdID, e.Type, e.FlatText())
	return ok
}
