package console

import (
	"bytes"
	"testing"

	"github.com/fatih/color"

	"github.com/animus-labs/modelharness/internal/domain"
)

func withoutColor(t *testing.T) {
	t.Helper()
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })
}

func TestPrinter_Emit(t *testing.T) {
	withoutColor(t)
	var buf bytes.Buffer
	p := NewPrinter(&buf)
	p.Emit(domain.LogEntry{Level: domain.LogWarning, Message: "disk low\n", Timestamp: "2024-01-01T00:00:00Z"})
	p.Emit(domain.LogEntry{Level: "info", Message: "ok"})
	want := "2024-01-01T00:00:00Z WARNING  disk low\nINFO     ok\n"
	if buf.String() != want {
		t.Fatalf("output=%q, want %q", buf.String(), want)
	}
}

func TestPrinter_Section(t *testing.T) {
	withoutColor(t)
	var buf bytes.Buffer
	p := NewPrinter(&buf)
	p.Section("container log", "")
	if buf.Len() != 0 {
		t.Fatalf("empty body printed: %q", buf.String())
	}
	p.Section("container log", "line1")
	if buf.String() != "----- container log -----\nline1\n" {
		t.Fatalf("output=%q", buf.String())
	}
}
