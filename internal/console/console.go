// Package console prints model log entries for a person watching a run.
package console

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/animus-labs/modelharness/internal/domain"
)

type Printer struct {
	mu  sync.Mutex
	out io.Writer
	ts  *color.Color
}

func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out, ts: color.New(color.FgCyan)}
}

func levelColor(level domain.LogLevel) *color.Color {
	switch level {
	case domain.LogDebug, domain.LogStdout:
		return color.New(color.FgBlue)
	case domain.LogInfo:
		return color.New(color.FgGreen)
	case domain.LogWarning:
		return color.New(color.FgYellow)
	case domain.LogError, domain.LogStderr:
		return color.New(color.FgRed)
	case domain.LogCritical:
		return color.New(color.FgMagenta, color.Bold)
	default:
		return color.New(color.Reset)
	}
}

// Emit writes "timestamp LEVEL message". Multi-line messages keep their
// line breaks.
func (p *Printer) Emit(entry domain.LogEntry) {
	level := strings.ToUpper(string(entry.Level))
	if level == "" {
		level = string(domain.LogInfo)
	}
	msg := strings.TrimRight(entry.Message, "\n")

	p.mu.Lock()
	defer p.mu.Unlock()
	if entry.Timestamp != "" {
		_, _ = p.ts.Fprint(p.out, entry.Timestamp)
		_, _ = fmt.Fprint(p.out, " ")
	}
	_, _ = levelColor(domain.LogLevel(level)).Fprintf(p.out, "%-8s", level)
	_, _ = fmt.Fprintf(p.out, " %s\n", msg)
}

// Section prints a highlighted heading followed by body, used for the
// container log dump.
func (p *Printer) Section(title, body string) {
	if strings.TrimSpace(body) == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = color.New(color.Bold).Fprintf(p.out, "----- %s -----\n", title)
	_, _ = fmt.Fprint(p.out, body)
	if !strings.HasSuffix(body, "\n") {
		_, _ = fmt.Fprintln(p.out)
	}
}
