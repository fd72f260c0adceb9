package app

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestStripANSI(t *testing.T) {
	t.Parallel()

	in := ansiBlue + "INFO" + ansiReset + " plain " + ansiRed + "ERR" + ansiReset
	if got := stripANSI(in); got != "INFO plain ERR" {
		t.Fatalf("stripANSI()=%q", got)
	}
}

func TestPrettyHandler_ColorsAreStrippable(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, nil, true))
	log.Error("pipeline.run.finished", "outcome", "commit_failed", "status", 503, "message", "Failed to mark attendance.")

	raw := buf.String()
	if !strings.Contains(raw, ansiRed) {
		t.Fatalf("expected colored output: %q", raw)
	}
	plain := stripANSI(raw)
	for _, want := range []string{"[ERROR]", "outcome=commit_failed", "status=503", `message="Failed to mark attendance."`} {
		if !strings.Contains(plain, want) {
			t.Fatalf("output %q missing %q", plain, want)
		}
	}
}

func TestPrettyHandler_GroupsAndAttrs(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}, false)).
		WithGroup("session")
	log.Debug("liveliness.state", "state", "capturing", slog.Group("challenge", "id", "blink"))

	out := buf.String()
	for _, want := range []string{"[DEBUG]", "session.state=capturing", "session.challenge.id=blink"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output %q missing %q", out, want)
		}
	}
}

func TestQuoteIfNeeded(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"":        `""`,
		"QR123":   "QR123",
		"a b":     `"a b"`,
		"k=v":     `"k=v"`,
		`say "x"`: `"say \"x\""`,
	}
	for in, want := range cases {
		if got := quoteIfNeeded(in); got != want {
			t.Fatalf("quoteIfNeeded(%q)=%q want=%q", in, got, want)
		}
	}
}
