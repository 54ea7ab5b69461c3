package cli

import (
	"testing"
	"time"

	"github.com/quazardous/sailing/internal/escalate"
)

func TestParseSince(t *testing.T) {
	cases := map[string]time.Duration{
		"36h": 36 * time.Hour,
		"90m": 90 * time.Minute,
		"2d":  48 * time.Hour,
	}
	for in, want := range cases {
		got, err := parseSince(in)
		if err != nil || got != want {
			t.Fatalf("parseSince(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	for _, in := range []string{"", "yesterday", "2w"} {
		if _, err := parseSince(in); err == nil {
			t.Fatalf("parseSince(%q) accepted", in)
		}
	}
}

func TestRenderErrorExitCodes(t *testing.T) {
	if code := renderError(&timeoutError{msg: "too slow"}); code != ExitTimeout {
		t.Fatalf("timeout exit = %d, want %d", code, ExitTimeout)
	}
	esc := escalate.New(escalate.KindConflict, "Merge conflicts detected")
	if code := renderError(esc); code != ExitEscalated {
		t.Fatalf("escalation exit = %d, want %d", code, ExitEscalated)
	}
}
