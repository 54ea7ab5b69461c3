package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/quazardous/sailing/internal/escalate"
)

// Exit codes of the command surface.
const (
	ExitOK        = 0
	ExitEscalated = 1
	ExitTimeout   = 2
)

var (
	styleErr     = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	styleWarn    = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	styleOK      = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	styleDim     = lipgloss.NewStyle().Faint(true)
	styleHeading = lipgloss.NewStyle().Bold(true)
)

func colorEnabled() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) && os.Getenv("NO_COLOR") == ""
}

func render(style lipgloss.Style, s string) string {
	if !colorEnabled() {
		return s
	}
	return style.Render(s)
}

// timeoutError marks a bounded wait that elapsed; main exits 2.
type timeoutError struct{ msg string }

func (e *timeoutError) Error() string { return e.msg }

// printJSON writes v as indented JSON to stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// escalationPayload is the JSON shape consumers receive for exit code 1.
type escalationPayload struct {
	Error *escalate.Escalation `json:"error"`
}

// emitEscalation renders an escalation for humans or JSON consumers.
// The returned error carries it to Execute for the exit code.
func emitEscalation(esc *escalate.Escalation, jsonOut bool) error {
	if jsonOut {
		printJSON(escalationPayload{Error: esc})
		return esc
	}
	fmt.Fprintf(os.Stderr, "%s %s\n", render(styleErr, "blocked:"), esc.Reason)
	if len(esc.ConflictFiles) > 0 {
		fmt.Fprintf(os.Stderr, "  conflicting files:\n")
		for _, f := range esc.ConflictFiles {
			fmt.Fprintf(os.Stderr, "    - %s\n", f)
		}
	}
	if len(esc.NextSteps) > 0 {
		fmt.Fprintln(os.Stderr, render(styleHeading, "next steps:"))
		for i, step := range esc.NextSteps {
			fmt.Fprintf(os.Stderr, "  %d. %s\n", i+1, step)
		}
	}
	return esc
}

// renderError maps a command error to a process exit code, printing it if
// it has not been rendered yet.
func renderError(err error) int {
	var te *timeoutError
	if errors.As(err, &te) {
		fmt.Fprintf(os.Stderr, "%s %s\n", render(styleWarn, "timeout:"), te.msg)
		return ExitTimeout
	}
	if _, ok := escalate.AsEscalation(err); ok {
		// Already rendered by emitEscalation.
		return ExitEscalated
	}
	fmt.Fprintf(os.Stderr, "%s %v\n", render(styleErr, "error:"), err)
	return ExitEscalated
}
